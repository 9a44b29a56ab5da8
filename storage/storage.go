package storage

import (
	"strconv"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"taskhub/domain"
)

// Storage provides access to the underlying persistence engine. All task
// mutations run inside the retry-aware transaction executor configured by
// Policy; reads use the engine's per-statement snapshot.
type Storage struct {
	db     *gorm.DB
	Policy TxnPolicy
}

// Options tunes the storage connection.
type Options struct {
	// BusyTimeout is handed to sqlite so concurrent writers queue briefly
	// before surfacing SQLITE_BUSY to the retry layer.
	BusyTimeout time.Duration
	Debug       bool
}

// New opens the database at dsn, runs migrations and returns a Storage with
// the default transaction policy.
func New(dsn string, opts Options) (*Storage, error) {
	logLevel := logger.Silent
	if opts.Debug {
		logLevel = logger.Info
	}
	if opts.BusyTimeout > 0 {
		dsn = withBusyTimeout(dsn, opts.BusyTimeout)
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&domain.Task{}, &domain.User{}); err != nil {
		return nil, err
	}
	return &Storage{db: db, Policy: DefaultTxnPolicy()}, nil
}

// withBusyTimeout appends the sqlite busy-timeout parameter, joining with the
// DSN's existing query string when one is present.
func withBusyTimeout(dsn string, d time.Duration) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_busy_timeout=" + strconv.Itoa(int(d/time.Millisecond))
}

// NewWithDB wraps an already opened gorm handle. Used by tests.
func NewWithDB(db *gorm.DB) *Storage {
	return &Storage{db: db, Policy: DefaultTxnPolicy()}
}

// DB exposes the raw handle for read paths that need no retry wrapping.
func (s *Storage) DB() *gorm.DB {
	return s.db
}
