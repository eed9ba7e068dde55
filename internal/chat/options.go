package chat

import (
	"log/slog"
	"time"

	"github.com/skyegpt/skyegpt-web/internal/metrics"
	"github.com/skyegpt/skyegpt-web/internal/models"
)

// RetryPolicy retries attempts that ended in an error or an empty result. Attempt n (starting at 0)
// waits Backoff*(n+1) before the next one. Cancellations are never retried.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// DefaultRetryPolicy is the policy used when retries are enabled without explicit bounds.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 2, Backoff: time.Second}

func (p RetryPolicy) allows(attempt int) bool {
	return attempt < p.MaxRetries
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	return p.Backoff * time.Duration(attempt+1)
}

// Option configures a Controller.
type Option func(*Controller)

// WithRetry enables retries of failed or empty attempts.
func WithRetry(p RetryPolicy) Option {
	return func(c *Controller) {
		c.retry = p
	}
}

// WithIdleTimeout cancels a stream that delivers no bytes for d. Zero disables the timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.idleTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithMetrics records stream outcomes into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithReadSize sets the size of the buffer each body read fills.
func WithReadSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.readSize = n
		}
	}
}

// WithMessages seeds the message sequence, typically with a welcome or bootstrap error message.
func WithMessages(msgs ...models.Message) Option {
	return func(c *Controller) {
		c.messages = append(c.messages, msgs...)
	}
}
