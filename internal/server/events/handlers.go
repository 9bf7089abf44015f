package events

import (
	"context"

	"github.com/dmitrijs2005/modernapi/internal/logging"
	"github.com/dmitrijs2005/modernapi/internal/server/models"
)

// NewAuditHandler writes one structured audit line per event.
func NewAuditHandler(logger logging.Logger) Handler {
	log := logger.With("module", "audit")
	return HandlerFunc(func(ctx context.Context, e models.Event) error {
		args := []any{"event", e.EventName(), "user_id", e.AggregateID(), "occurred_at", e.OccurredAt()}
		switch ev := e.(type) {
		case models.EmailChanged:
			args = append(args, "old_email", ev.OldEmail, "new_email", ev.NewEmail)
		case models.UserLockedOut:
			args = append(args, "until", ev.Until)
		}
		log.Info(ctx, "audit", args...)
		return nil
	})
}

// EventCounter is the metrics capability the counting handler needs.
type EventCounter interface {
	ObserveEvent(name string)
}

// NewMetricsHandler counts events by name.
func NewMetricsHandler(m EventCounter) Handler {
	return HandlerFunc(func(_ context.Context, e models.Event) error {
		m.ObserveEvent(e.EventName())
		return nil
	})
}
