package events

import (
	"context"
	"log/slog"

	"github.com/roach88/ethbank/internal/ledger"
)

// Sink is an external destination for events.
type Sink interface {
	Deliver(ctx context.Context, ev ledger.TransferEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev ledger.TransferEvent) error

func (f SinkFunc) Deliver(ctx context.Context, ev ledger.TransferEvent) error {
	return f(ctx, ev)
}

// Forward drains sub into sink until ctx is done or sub is closed.
//
// Sink errors are logged and the event is skipped; delivery is not retried.
// Returns ctx.Err() on cancellation and nil when sub closes.
func Forward(ctx context.Context, sub *Subscription, sink Sink, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := sink.Deliver(ctx, ev); err != nil {
				logger.Warn("event delivery failed",
					"event_id", ev.ID,
					"index", ev.Index,
					"error", err,
				)
				continue
			}
			logger.Debug("event delivered", "event_id", ev.ID, "index", ev.Index)
		}
	}
}
