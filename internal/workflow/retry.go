package workflow

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/shailesh-ag78/Inspecta/internal/audio"
)

// RetryPolicy bounds how often a node's delegate runs. After failed attempt n
// the engine waits BackoffBase^n seconds before the next one.
type RetryPolicy struct {
	MaxAttempts int     `yaml:"max_attempts"`
	BackoffBase float64 `yaml:"backoff_base"`
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Backoff is the wait after the given failed attempt, counted from 1.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.BackoffBase <= 0 {
		return 0
	}
	return time.Duration(math.Pow(p.BackoffBase, float64(attempt)) * float64(time.Second))
}

type permanent interface {
	Permanent() bool
}

// retryable reports whether another attempt could succeed. Configuration
// problems and errors that declare themselves permanent are final.
func retryable(err error) bool {
	if errors.Is(err, audio.ErrConfiguration) || errors.Is(err, ErrCanceled) {
		return false
	}
	var p permanent
	if errors.As(err, &p) && p.Permanent() {
		return false
	}
	return true
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string   { return e.err.Error() }
func (e *permanentError) Unwrap() error   { return e.err }
func (e *permanentError) Permanent() bool { return true }

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
