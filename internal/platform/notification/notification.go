// Package notification delivers user-facing messages produced by the booking
// core. Every channel implements Sink; callers compose them with Fanout and
// bound them with WithTimeout. Delivery failures are reported as
// ErrNotificationFailed and are only ever logged by the core.
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrNotificationFailed = errors.New("notification failed")

// Notification is one message delivered to a user's inbox.
type Notification struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Sink delivers a message to a user.
type Sink interface {
	Notify(ctx context.Context, userID, message string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, userID, message string) error

func (f SinkFunc) Notify(ctx context.Context, userID, message string) error {
	return f(ctx, userID, message)
}

type fanout []Sink

// Fanout delivers to every sink, even when earlier ones fail. The joined error
// wraps ErrNotificationFailed when any sink failed.
func Fanout(sinks ...Sink) Sink {
	out := make(fanout, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (f fanout) Notify(ctx context.Context, userID, message string) error {
	var errs []error
	for _, s := range f {
		if err := s.Notify(ctx, userID, message); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrNotificationFailed, errors.Join(errs...))
}

type bestEffort struct {
	durable Sink
	extra   []Sink
	logger  zerolog.Logger
}

// WithBestEffort delivers to durable first and reports only its outcome.
// The extra sinks run after a durable success; their failures are logged.
// A caller that retries on error therefore never repeats an extra delivery
// for a message the durable sink already holds.
func WithBestEffort(durable Sink, logger zerolog.Logger, extra ...Sink) Sink {
	out := make([]Sink, 0, len(extra))
	for _, s := range extra {
		if s != nil {
			out = append(out, s)
		}
	}
	return &bestEffort{durable: durable, extra: out, logger: logger}
}

func (b *bestEffort) Notify(ctx context.Context, userID, message string) error {
	if err := b.durable.Notify(ctx, userID, message); err != nil {
		return err
	}
	for _, s := range b.extra {
		if err := s.Notify(ctx, userID, message); err != nil {
			b.logger.Warn().Err(err).Str("user_id", userID).Msg("best-effort notification failed")
		}
	}
	return nil
}

type timeoutSink struct {
	next    Sink
	timeout time.Duration
}

// WithTimeout bounds every delivery through next. A delivery that outlives d
// is reported as failed; the sink is expected to honour ctx.
func WithTimeout(next Sink, d time.Duration) Sink {
	return &timeoutSink{next: next, timeout: d}
}

func (t *timeoutSink) Notify(ctx context.Context, userID, message string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- t.next.Notify(ctx, userID, message) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: deliver to %s: %w", ErrNotificationFailed, userID, ctx.Err())
	}
}

// Discard drops every message.
var Discard Sink = SinkFunc(func(context.Context, string, string) error { return nil })
