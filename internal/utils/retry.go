package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// ErrTransient marks an error as a retryable infrastructure failure.
// Store implementations wrap connection-class errors with Transient so the
// retry helper and the ingress handlers can recognize them.
var ErrTransient = errors.New("transient error")

// Transient wraps err so IsTransient reports true for it.
func Transient(err error) error {
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsTransient reports whether err looks like a transient infrastructure
// failure worth retrying: explicit transient wrapping, timeouts, and
// connection reset/refused classes.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// Retry runs fn up to maxAttempts times, backing off exponentially with
// jitter between attempts. Only transient errors are retried; anything
// else is returned immediately. Retries apply to the single operation fn
// represents, never to a whole report pipeline.
func Retry(ctx context.Context, logger zerolog.Logger, op string, maxAttempts int,
	baseDelay, maxDelay time.Duration, fn func() error) error {

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		delay := baseDelay * time.Duration(1<<uint(attempt-1))
		if delay > maxDelay {
			delay = maxDelay
		}
		delay = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))

		logger.Warn().
			Err(err).
			Str("operation", op).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Transient failure, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, maxAttempts, err)
}
