package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/ykarpov/planner-bot/internal/models"
	"go.uber.org/zap"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	UseInMemory bool
}

type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStorage(config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %v", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %v", err)
	}

	storage := &PostgresStorage{db: db, logger: logger}

	if err := storage.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %v", err)
	}
	storage.logger.Info("Database schema initialized",
		zap.String("host", config.Host),
		zap.String("database", config.DBName))

	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %v", err)
	}

	_, err = s.db.Exec(string(migrationSQL))
	if err != nil {
		return fmt.Errorf("error executing migrations: %v", err)
	}

	return nil
}

func (s *PostgresStorage) CreateEvent(ctx context.Context, event *models.Event) error {
	query := `
		INSERT INTO events (chat_id, title, event_date, start_time, end_time, location, category)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	err := s.db.QueryRowContext(
		ctx,
		query,
		event.ChatID,
		event.Title,
		event.Date,
		event.StartTime,
		event.EndTime,
		event.Location,
		string(event.Category),
	).Scan(&event.ID, &event.CreatedAt)

	if err != nil {
		return fmt.Errorf("error creating event: %v", err)
	}

	return nil
}

func (s *PostgresStorage) GetEvent(ctx context.Context, chatID, eventID int64) (*models.Event, error) {
	query := `
		SELECT id, chat_id, title, event_date, start_time, end_time, location, category, created_at
		FROM events
		WHERE chat_id = $1 AND id = $2`

	event := &models.Event{}
	err := s.db.QueryRowContext(ctx, query, chatID, eventID).Scan(
		&event.ID,
		&event.ChatID,
		&event.Title,
		&event.Date,
		&event.StartTime,
		&event.EndTime,
		&event.Location,
		&event.Category,
		&event.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying event: %v", err)
	}

	return event, nil
}

// eventColumns maps the editable field names onto real columns so the
// dynamic UPDATE below can never receive arbitrary SQL.
var eventColumns = map[string]string{
	"title":      "title",
	"date":       "event_date",
	"start_time": "start_time",
	"end_time":   "end_time",
	"location":   "location",
}

func (s *PostgresStorage) UpdateEventField(ctx context.Context, chatID, eventID int64, field, value string) error {
	column, ok := eventColumns[field]
	if !ok {
		return fmt.Errorf("unknown event field: %s", field)
	}

	query := fmt.Sprintf(`UPDATE events SET %s = $1 WHERE chat_id = $2 AND id = $3`, column)

	result, err := s.db.ExecContext(ctx, query, value, chatID, eventID)
	if err != nil {
		return fmt.Errorf("error updating event: %v", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %v", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *PostgresStorage) DeleteEvent(ctx context.Context, chatID, eventID int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE chat_id = $1 AND id = $2`, chatID, eventID)
	if err != nil {
		return fmt.Errorf("error deleting event: %v", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %v", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *PostgresStorage) EventsOnDate(ctx context.Context, chatID int64, date string) ([]*models.Event, error) {
	return s.queryEvents(ctx,
		`SELECT id, chat_id, title, event_date, start_time, end_time, location, category, created_at
		 FROM events WHERE chat_id = $1 AND event_date = $2 ORDER BY id`,
		chatID, date)
}

func (s *PostgresStorage) EventsOnOrAfter(ctx context.Context, chatID int64, date string) ([]*models.Event, error) {
	return s.queryEvents(ctx,
		`SELECT id, chat_id, title, event_date, start_time, end_time, location, category, created_at
		 FROM events WHERE chat_id = $1 AND event_date >= $2 ORDER BY event_date, id`,
		chatID, date)
}

func (s *PostgresStorage) EventsBetween(ctx context.Context, chatID int64, start, end string) ([]*models.Event, error) {
	return s.queryEvents(ctx,
		`SELECT id, chat_id, title, event_date, start_time, end_time, location, category, created_at
		 FROM events WHERE chat_id = $1 AND event_date >= $2 AND event_date <= $3 ORDER BY event_date, id`,
		chatID, start, end)
}

func (s *PostgresStorage) UpcomingEvents(ctx context.Context, date string) ([]*models.Event, error) {
	return s.queryEvents(ctx,
		`SELECT id, chat_id, title, event_date, start_time, end_time, location, category, created_at
		 FROM events WHERE event_date >= $1 ORDER BY event_date, id`,
		date)
}

func (s *PostgresStorage) queryEvents(ctx context.Context, query string, args ...any) ([]*models.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying events: %v", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		event := &models.Event{}
		err := rows.Scan(
			&event.ID,
			&event.ChatID,
			&event.Title,
			&event.Date,
			&event.StartTime,
			&event.EndTime,
			&event.Location,
			&event.Category,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning event: %v", err)
		}
		events = append(events, event)
	}

	return events, rows.Err()
}

func (s *PostgresStorage) CreateClass(ctx context.Context, class *models.Class) error {
	query := `
		INSERT INTO classes (chat_id, subject, weekday, start_time, end_time, location)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	err := s.db.QueryRowContext(
		ctx,
		query,
		class.ChatID,
		class.Subject,
		class.Weekday,
		class.StartTime,
		class.EndTime,
		class.Location,
	).Scan(&class.ID)

	if err != nil {
		return fmt.Errorf("error creating class: %v", err)
	}

	return nil
}

func (s *PostgresStorage) ListClasses(ctx context.Context, chatID int64) ([]*models.Class, error) {
	return s.queryClasses(ctx,
		`SELECT id, chat_id, subject, weekday, start_time, end_time, location
		 FROM classes WHERE chat_id = $1 ORDER BY weekday, start_time, id`,
		chatID)
}

func (s *PostgresStorage) ClassesForWeekday(ctx context.Context, chatID int64, weekday int) ([]*models.Class, error) {
	return s.queryClasses(ctx,
		`SELECT id, chat_id, subject, weekday, start_time, end_time, location
		 FROM classes WHERE chat_id = $1 AND weekday = $2 ORDER BY id`,
		chatID, weekday)
}

func (s *PostgresStorage) queryClasses(ctx context.Context, query string, args ...any) ([]*models.Class, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying classes: %v", err)
	}
	defer rows.Close()

	var classes []*models.Class
	for rows.Next() {
		class := &models.Class{}
		err := rows.Scan(
			&class.ID,
			&class.ChatID,
			&class.Subject,
			&class.Weekday,
			&class.StartTime,
			&class.EndTime,
			&class.Location,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning class: %v", err)
		}
		classes = append(classes, class)
	}

	return classes, rows.Err()
}

func (s *PostgresStorage) DeleteClass(ctx context.Context, chatID, classID int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM classes WHERE chat_id = $1 AND id = $2`, chatID, classID)
	if err != nil {
		return fmt.Errorf("error deleting class: %v", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %v", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
