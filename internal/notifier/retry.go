package notifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrInvalidRecipient marks a send that failed because of the recipient itself.
	ErrInvalidRecipient = errors.New("invalid recipient")
	// ErrChannelUnavailable marks a channel with no configured sender.
	ErrChannelUnavailable = errors.New("channel unavailable")
)

// FailureClass groups send failures for logs and metrics.
type FailureClass string

const (
	ClassNone             FailureClass = ""
	ClassInvalidRecipient FailureClass = "invalid_recipient"
	ClassTransport        FailureClass = "transport"
	ClassUnavailable      FailureClass = "unavailable"
)

// Classify returns the failure class of a send error.
func Classify(err error) FailureClass {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrInvalidRecipient):
		return ClassInvalidRecipient
	case errors.Is(err, ErrChannelUnavailable):
		return ClassUnavailable
	default:
		return ClassTransport
	}
}

// TransportError is a non-2xx response from a provider API.
type TransportError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s API error: status %d, body: %s", e.Provider, e.StatusCode, e.Body)
}

// Retryable reports whether the provider may accept the same request later.
func (e *TransportError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// RetryConfig defines retry behavior for transient send failures.
type RetryConfig struct {
	MaxRetries     int           // Maximum number of retry attempts (0 = no retries)
	InitialBackoff time.Duration // Initial backoff duration
	MaxBackoff     time.Duration // Maximum backoff duration
	BackoffFactor  float64       // Multiplier for exponential backoff
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     2,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
	}
}

// IsRetryable reports whether a send error is transient.
// Invalid recipients, missing senders and cancelled contexts are never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidRecipient) || errors.Is(err, ErrChannelUnavailable) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable()
	}

	errStr := strings.ToLower(err.Error())
	for _, s := range []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary",
		"rate limit",
		"throttl",
		"too many requests",
		"try again",
		"eof",
	} {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}

// withRetry runs fn until it succeeds, fails permanently, or retries run out.
func withRetry(ctx context.Context, cfg RetryConfig, fn func() error) (attempts int, err error) {
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		attempts = attempt + 1
		err = fn()
		if err == nil || !IsRetryable(err) || attempt == cfg.MaxRetries {
			return attempts, err
		}

		select {
		case <-ctx.Done():
			return attempts, err
		case <-time.After(backoff(cfg, attempt)):
		}
	}
	return attempts, err
}

// backoff returns the exponential delay for an attempt with up to 10% jitter.
func backoff(cfg RetryConfig, attempt int) time.Duration {
	d := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffFactor, float64(attempt))
	if max := float64(cfg.MaxBackoff); cfg.MaxBackoff > 0 && d > max {
		d = max
	}
	jitter := d * 0.1 * rand.Float64()
	return time.Duration(d + jitter)
}
