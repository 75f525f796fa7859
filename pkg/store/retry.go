// retry.go provides automatic retry logic for transient SQLite errors.
//
// The eviction cache writes back dirty days from whichever request happens
// to trigger an eviction, so writes from several connections can collide.
// WAL-mode SQLite then produces transient errors like SQLITE_BUSY,
// SQLITE_LOCKED and IOERR_SHORT_READ (error 522). The busy_timeout pragma
// handles SQLITE_BUSY at the connection level; the rest is retried here
// with exponential backoff and jitter.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// retryConfig controls retry behavior for transient SQLite errors.
type retryConfig struct {
	maxTries  uint
	baseDelay time.Duration
	maxDelay  time.Duration
}

// defaultRetryConfig is used for all store write operations.
var defaultRetryConfig = retryConfig{
	maxTries:  4,
	baseDelay: 50 * time.Millisecond,
	maxDelay:  500 * time.Millisecond,
}

// isTransientSQLiteErr returns true if the error is a transient SQLite error
// that can be resolved by retrying.
func isTransientSQLiteErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	// SQLite error codes embedded in error messages from modernc.org/sqlite.
	for _, pattern := range []string{
		"SQLITE_BUSY",
		"SQLITE_LOCKED",
		"IOERR_SHORT_READ",
		"database is locked",
		"database table is locked",
		"(5)",   // SQLITE_BUSY code
		"(6)",   // SQLITE_LOCKED code
		"(522)", // SQLITE_IOERR_SHORT_READ code
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// newBackOff builds the exponential schedule for cfg.
func newBackOff(cfg retryConfig) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.baseDelay
	b.MaxInterval = cfg.maxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	return b
}

// retryOp executes fn until it succeeds, returns a non-transient error, or
// cfg.maxTries attempts have failed.
func retryOp(cfg retryConfig, fn func() error) error {
	_, err := backoff.Retry(context.Background(), func() (struct{}, error) {
		err := fn()
		if err != nil && !isTransientSQLiteErr(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(newBackOff(cfg)), backoff.WithMaxTries(cfg.maxTries))
	return err
}
