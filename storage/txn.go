package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"gorm.io/gorm"

	"taskhub/domain"
)

const (
	defaultTxnAttempts  = 3
	defaultTxnBaseDelay = 25 * time.Millisecond
)

// TxnPolicy is a retry policy for transactional units of work: how many
// attempts to make, how long to back off, and which failures are worth
// retrying. It is decoupled from the engine so tests can drive it with stub
// classifiers and fake work.
type TxnPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Retryable   func(error) bool
}

// DefaultTxnPolicy retries sqlite lock contention with exponential backoff.
func DefaultTxnPolicy() TxnPolicy {
	return TxnPolicy{
		MaxAttempts: defaultTxnAttempts,
		BaseDelay:   defaultTxnBaseDelay,
		Retryable:   RetryableSQLite,
	}
}

// RetryableSQLite classifies sqlite engine failures where rerunning the same
// transaction is likely to succeed: lock contention and lost transaction
// handles. Business outcomes tagged with a domain kind are always terminal.
// The code list is engine-specific; other engines plug in their own
// classifier through TxnPolicy.Retryable.
func RetryableSQLite(err error) bool {
	if err == nil || domain.IsBusiness(err) {
		return false
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return true
		}
		return false
	}
	return errors.Is(err, gorm.ErrInvalidTransaction)
}

// ErrTxnExhausted reports a retry budget spent without a successful commit.
// It carries the last underlying failure and unwraps to a domain error of
// kind KindTxnExhausted.
type ErrTxnExhausted struct {
	Attempts int
	Last     error
}

func (e *ErrTxnExhausted) Error() string {
	return fmt.Sprintf("transaction retry budget exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ErrTxnExhausted) Unwrap() error {
	return domain.WrapError(domain.KindTxnExhausted, "storage is contended, try again", e.Last)
}

// Execute runs fn inside a transaction under the policy. Each attempt opens a
// fresh transaction with snapshot-consistent reads; the commit is durable once
// Execute returns nil. Terminal failures propagate on first occurrence.
// Retryable failures are swallowed until the attempt budget is spent, then
// surface as *ErrTxnExhausted. The returned retry count is the number of
// re-runs performed after the first attempt.
func (p TxnPolicy) Execute(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) (int, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var last error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := p.BaseDelay << uint(attempt-1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return attempt, ctx.Err()
			}
		}
		err := db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return attempt, nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return attempt, err
		}
		last = err
	}
	return attempts - 1, &ErrTxnExhausted{Attempts: attempts, Last: last}
}

// Execute runs fn under the storage's configured policy.
func (s *Storage) Execute(ctx context.Context, fn func(tx *gorm.DB) error) (int, error) {
	return s.Policy.Execute(ctx, s.db, fn)
}
