// Package events fans domain events out to side-effect handlers after the
// owning transaction has committed.
package events

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/modernapi/internal/logging"
	"github.com/dmitrijs2005/modernapi/internal/server/models"
)

// Handler reacts to one event. Errors are logged by the dispatcher and never
// reach the caller: the state change has already been committed.
type Handler interface {
	Handle(ctx context.Context, e models.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, e models.Event) error

func (f HandlerFunc) Handle(ctx context.Context, e models.Event) error { return f(ctx, e) }

// Dispatcher delivers events synchronously, in registration order.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers []Handler
	logger   logging.Logger
}

func NewDispatcher(logger logging.Logger, handlers ...Handler) *Dispatcher {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Dispatcher{handlers: handlers, logger: logger.With("module", "events")}
}

// Register appends handlers.
func (d *Dispatcher) Register(h ...Handler) {
	d.mu.Lock()
	d.handlers = append(d.handlers, h...)
	d.mu.Unlock()
}

// Dispatch delivers every event to every handler.
func (d *Dispatcher) Dispatch(ctx context.Context, events ...models.Event) {
	if d == nil || len(events) == 0 {
		return
	}

	d.mu.RLock()
	handlers := append([]Handler(nil), d.handlers...)
	d.mu.RUnlock()

	for _, e := range events {
		for _, h := range handlers {
			if err := h.Handle(ctx, e); err != nil {
				d.logger.Warn(ctx, "event handler failed",
					"event", e.EventName(), "aggregate_id", e.AggregateID(), "error", err)
			}
		}
	}
}
