package session

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultCollectingTTL bounds how long a half-built draft survives
	// without new input.
	DefaultCollectingTTL = 90 * time.Second
	// DefaultConfirmTTL bounds how long a complete proposal waits for
	// the user to press a button.
	DefaultConfirmTTL = 5 * time.Minute
)

// Store owns all per-chat sessions. Safe for concurrent use; sessions
// removed by the sweep are recreated lazily on the next message.
type Store struct {
	mu       sync.Mutex
	sessions map[int64]*Session

	collectingTTL time.Duration
	confirmTTL    time.Duration
	now           func() time.Time
	logger        *zap.Logger
}

func NewStore(collectingTTL, confirmTTL time.Duration, logger *zap.Logger) *Store {
	if collectingTTL <= 0 {
		collectingTTL = DefaultCollectingTTL
	}
	if confirmTTL <= 0 {
		confirmTTL = DefaultConfirmTTL
	}
	return &Store{
		sessions:      make(map[int64]*Session),
		collectingTTL: collectingTTL,
		confirmTTL:    confirmTTL,
		now:           time.Now,
		logger:        logger,
	}
}

// SetClock replaces the time source, for tests.
func (st *Store) SetClock(now func() time.Time) {
	st.now = now
}

// GetOrCreate returns the chat's session, creating an empty one if the
// chat is new or its previous session was swept.
func (st *Store) GetOrCreate(chatID int64) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s, exists := st.sessions[chatID]; exists {
		return s
	}
	s := &Session{
		ChatID:       chatID,
		LastActivity: st.now(),
	}
	st.sessions[chatID] = s
	return s
}

// Acquire returns the chat's session with its lock held. Unlike a bare
// GetOrCreate-then-Lock, it cannot hand back a session the sweep removed
// between the map lookup and the lock: a removed session is marked gone
// under its own lock, so Acquire retries and gets a fresh one.
func (st *Store) Acquire(chatID int64) *Session {
	for {
		s := st.GetOrCreate(chatID)
		s.Lock()
		if !s.gone {
			return s
		}
		s.Unlock()
	}
}

// PruneExpired removes stale drafts and idle empty sessions. Collecting
// drafts expire after the collecting TTL; awaiting_confirm and
// conflict_pending drafts after the confirm TTL. Edit pointers and the
// class-intake flag are not time-bounded and survive the sweep.
//
// The store mutex is only held to snapshot the session list and to
// delete idle sessions; per-session work uses TryLock so a handler
// stalled on a slow extraction call never blocks the sweep, and the
// sweep never blocks GetOrCreate for other chats. Busy sessions are
// simply picked up by the next sweep.
func (st *Store) PruneExpired(now time.Time) (drafts, sessions int) {
	st.mu.Lock()
	snapshot := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		snapshot = append(snapshot, s)
	}
	st.mu.Unlock()

	var maybeIdle []*Session
	for _, s := range snapshot {
		if !s.mu.TryLock() {
			continue // a handler owns it; it is active, not stale
		}

		kept := s.Drafts[:0]
		for _, d := range s.Drafts {
			ttl := st.collectingTTL
			if d.State != StateCollecting {
				ttl = st.confirmTTL
			}
			if now.Sub(d.UpdatedAt) > ttl {
				drafts++
				continue
			}
			kept = append(kept, d)
		}
		s.Drafts = kept

		idle := st.idleLocked(s, now)
		s.mu.Unlock()
		if idle {
			maybeIdle = append(maybeIdle, s)
		}
	}

	if len(maybeIdle) > 0 {
		st.mu.Lock()
		for _, s := range maybeIdle {
			if st.sessions[s.ChatID] != s {
				continue
			}
			if !s.mu.TryLock() {
				continue
			}
			// Re-check: a message may have landed since the first pass.
			if st.idleLocked(s, now) {
				s.gone = true
				delete(st.sessions, s.ChatID)
				sessions++
			}
			s.mu.Unlock()
		}
		st.mu.Unlock()
	}

	if drafts > 0 || sessions > 0 {
		st.logger.Debug("Pruned session state",
			zap.Int("drafts", drafts),
			zap.Int("sessions", sessions))
	}
	return drafts, sessions
}

// idleLocked reports whether the session can be removed. Caller holds
// the session lock.
func (st *Store) idleLocked(s *Session, now time.Time) bool {
	return len(s.Drafts) == 0 &&
		s.EditTarget == nil &&
		!s.ClassIntake &&
		now.Sub(s.LastActivity) > st.collectingTTL
}

// Len reports the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
