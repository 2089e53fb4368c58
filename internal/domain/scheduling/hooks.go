package scheduling

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
)

// Hook runs after a status transition has been persisted. Hooks are
// fault-isolated: an error or panic is logged and never reaches the caller
// that changed the status. Async hooks run detached from the request
// context.
type Hook struct {
	Name  string
	On    []Status
	Async bool
	Run   func(ctx context.Context, a *Appointment) error
}

func (h Hook) matches(s Status) bool {
	if len(h.On) == 0 {
		return true
	}
	for _, on := range h.On {
		if on == s {
			return true
		}
	}
	return false
}

type hookRunner struct {
	mu     sync.RWMutex
	hooks  []Hook
	wg     sync.WaitGroup
	logger zerolog.Logger
}

func (r *hookRunner) add(h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, h)
}

// fire runs every hook registered for a.Status, sync hooks in order on the
// caller's goroutine and async hooks on their own.
func (r *hookRunner) fire(ctx context.Context, a *Appointment) {
	r.mu.RLock()
	hooks := make([]Hook, 0, len(r.hooks))
	for _, h := range r.hooks {
		if h.matches(a.Status) {
			hooks = append(hooks, h)
		}
	}
	r.mu.RUnlock()

	for _, h := range hooks {
		snapshot := *a
		if h.Async {
			r.wg.Add(1)
			go func(h Hook) {
				defer r.wg.Done()
				r.run(context.WithoutCancel(ctx), h, &snapshot)
			}(h)
			continue
		}
		r.run(ctx, h, &snapshot)
	}
}

func (r *hookRunner) run(ctx context.Context, h Hook, a *Appointment) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().
				Str("hook", h.Name).
				Str("appointment_id", a.ID.String()).
				Str("panic", fmt.Sprint(p)).
				Str("stack", string(debug.Stack())).
				Msg("post-commit hook panicked")
		}
	}()
	if err := h.Run(ctx, a); err != nil {
		r.logger.Warn().Err(err).
			Str("hook", h.Name).
			Str("appointment_id", a.ID.String()).
			Str("status", string(a.Status)).
			Msg("post-commit hook failed")
	}
}

// wait blocks until every async hook started so far has returned.
func (r *hookRunner) wait() { r.wg.Wait() }
