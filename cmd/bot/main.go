package main

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ykarpov/planner-bot/internal/bot"
	"github.com/ykarpov/planner-bot/internal/engine"
	"github.com/ykarpov/planner-bot/internal/extractor"
	"github.com/ykarpov/planner-bot/internal/reminder"
	"github.com/ykarpov/planner-bot/internal/session"
	"github.com/ykarpov/planner-bot/internal/storage"
	"github.com/ykarpov/planner-bot/pkg/config"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", "config.yaml"))
	}

	// Initialize storage
	var store storage.Storage
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStorage()
	} else {
		logger.Info("Using PostgreSQL storage")
		dbConfig := storage.DatabaseConfig{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			DBName:      cfg.Database.DBName,
			SSLMode:     cfg.Database.SSLMode,
			UseInMemory: cfg.Database.UseInMemory,
		}
		store, err = storage.NewPostgresStorage(dbConfig, logger)
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer store.Close()

	// Initialize the extraction service
	ext := extractor.NewGPTExtractor(
		cfg.OpenAI.APIKey,
		cfg.OpenAI.Model,
		cfg.OpenAI.MaxTokens,
		cfg.OpenAI.Temperature,
		logger,
	)

	// Initialize bot (the reminder scheduler delivers through it)
	b, err := bot.New(cfg.Telegram.Token, logger)
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}

	reminders := reminder.NewScheduler(b, logger)
	if err := reminders.Rescan(context.Background(), store); err != nil {
		logger.Error("Failed to reschedule reminders", zap.Error(err))
	}

	sessions := session.NewStore(
		time.Duration(cfg.Scheduler.CollectingTTLSeconds)*time.Second,
		time.Duration(cfg.Scheduler.ConfirmTTLSeconds)*time.Second,
		logger,
	)

	eng := engine.New(store, ext, sessions, reminders, cfg.Scheduler.DefaultDurationMinutes, logger)
	b.SetEngine(eng)

	// Background sweep for expired drafts and idle sessions
	sweep := cron.New()
	spec := fmt.Sprintf("@every %ds", cfg.Scheduler.PruneIntervalSeconds)
	if _, err := sweep.AddFunc(spec, func() {
		sessions.PruneExpired(time.Now())
	}); err != nil {
		logger.Fatal("Failed to schedule prune sweep", zap.Error(err))
	}
	sweep.Start()
	defer sweep.Stop()

	// Start the bot
	if err := b.Start(); err != nil {
		logger.Fatal("Bot error", zap.Error(err))
	}
}
