package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"agentlens.local/projects/lens-gateway/internal/db"
	"agentlens.local/projects/lens-gateway/internal/event"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500

	transientRetries      = 3
	transientRetryBackoff = 150 * time.Millisecond
)

// Publisher receives events after their transaction has committed. The
// store never publishes uncommitted events.
type Publisher interface {
	Publish(ctx context.Context, events []event.Event)
}

// Store is the event store: it validates hash chains, persists events and
// maintains the session/agent aggregates, all against one of two
// interchangeable engines selected by driver name. It is the sole writer of
// events, sessions and agents.
type Store struct {
	gdb       *gorm.DB
	dialect   Dialect
	logger    *log.Logger
	now       func() time.Time
	publisher Publisher
	pageCap   int
}

type Option func(*Store)

func WithLogger(logger *log.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithPublisher(p Publisher) Option {
	return func(s *Store) {
		s.publisher = p
	}
}

func WithPageCap(limit int) Option {
	return func(s *Store) {
		if limit > 0 {
			s.pageCap = limit
		}
	}
}

// Open connects to the engine named by driver, runs pending migrations and
// returns a ready store.
func Open(driver, dsn string, opts ...Option) (*Store, error) {
	gdb, err := db.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	d, err := dialectFor(strings.ToLower(strings.TrimSpace(driver)))
	if err != nil {
		return nil, err
	}

	s := &Store{
		gdb:     gdb,
		dialect: d,
		logger:  log.New(io.Discard, "", 0),
		now:     func() time.Time { return time.Now().UTC() },
		pageCap: maxPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := runMigrations(gdb, d); err != nil {
		return nil, fmt.Errorf("migrate event store: %w", err)
	}
	return s, nil
}

func (s *Store) Dialect() Dialect {
	return s.dialect
}

func (s *Store) Close() error {
	sqlDB, err := s.gdb.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.Close()
}

// withRetry retries transient storage failures (lost connections, lock
// timeouts) a bounded number of times. Chain-integrity, validation and
// not-found errors are never retried.
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 1; attempt <= transientRetries; attempt++ {
		err = op()
		if err == nil || !isTransient(err) {
			return err
		}
		if attempt == transientRetries {
			break
		}
		s.logger.Printf("transient storage error attempt=%d err=%v", attempt, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(transientRetryBackoff * time.Duration(attempt)):
		}
	}
	return err
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrChainIntegrity) || errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"database is locked",
		"database table is locked",
		"bad connection",
		"connection refused",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"deadlock detected",
		"lock timeout",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
