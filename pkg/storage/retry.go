package storage

import (
	"errors"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"gorm.io/gorm"

	"github.com/drover-io/drover/pkg/log"
)

const (
	retryAttempts  = 3
	retryBaseDelay = 100 * time.Millisecond
)

// withRetry runs fn, retrying transient store failures (connection loss,
// deadlock) with exponential backoff. Logical errors are returned
// immediately without retry.
func withRetry(op string, fn func() error) error {
	return retry.Do(
		fn,
		retry.Attempts(retryAttempts),
		retry.Delay(retryBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
		retry.OnRetry(func(n uint, err error) {
			log.Logger.Warn().
				Uint("attempt", n+1).
				Str("operation", op).
				Err(err).
				Msg("Retrying store operation")
		}),
	)
}

// isTransient reports whether an error is worth retrying. Contract
// violations and not-found conditions never are.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrJobNotFound),
		errors.Is(err, ErrAllocationNotFound),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrDuplicateAllocation),
		errors.Is(err, gorm.ErrRecordNotFound),
		errors.Is(err, gorm.ErrDuplicatedKey):
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"bad connection",
		"deadlock",
		"too many connections",
		"i/o timeout",
	} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
