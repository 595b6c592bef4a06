package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/veridianhq/veridian/pkg/eventbus"
	"github.com/veridianhq/veridian/pkg/events"
	"github.com/veridianhq/veridian/pkg/persistence"
)

const (
	DefaultInterval    = 2 * time.Second
	DefaultBatchSize   = 100
	DefaultMaxAttempts = 10
)

// Dispatcher polls the outbox and publishes pending records to the event bus.
// Records are claimed with row locks inside a transaction, so multiple
// dispatcher replicas can drain the same table without double-publishing.
// Delivery is at-least-once; consumers deduplicate on the idempotency key.
type Dispatcher struct {
	dispatcherID string
	persistence  persistence.Persistence
	publisher    eventbus.EventPublisher
	logger       *slog.Logger
	interval     time.Duration
	batchSize    int
	maxAttempts  int
}

type DispatcherOption func(*Dispatcher)

func WithInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.interval = interval }
}

func WithBatchSize(size int) DispatcherOption {
	return func(d *Dispatcher) { d.batchSize = size }
}

func WithMaxAttempts(attempts int) DispatcherOption {
	return func(d *Dispatcher) { d.maxAttempts = attempts }
}

func NewDispatcher(dispatcherID string, store persistence.Persistence, publisher eventbus.EventPublisher, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	dispatcher := &Dispatcher{
		dispatcherID: dispatcherID,
		persistence:  store,
		publisher:    publisher,
		logger:       logger.With("dispatcher_id", dispatcherID),
		interval:     DefaultInterval,
		batchSize:    DefaultBatchSize,
		maxAttempts:  DefaultMaxAttempts,
	}

	for _, opt := range opts {
		opt(dispatcher)
	}

	return dispatcher
}

// Run drains the outbox until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.InfoContext(ctx, "Starting outbox dispatcher", "interval", d.interval, "batch_size", d.batchSize)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.InfoContext(ctx, "Outbox dispatcher shutting down")

			return ctx.Err()
		case <-ticker.C:
			published, err := d.DrainOnce(ctx)
			if err != nil {
				d.logger.ErrorContext(ctx, "Outbox drain failed", "error", err)

				continue
			}

			if published > 0 {
				d.logger.DebugContext(ctx, "Outbox drained", "published", published)
			}
		}
	}
}

// DrainOnce claims one batch of pending records, publishes each and marks the
// outcome. It returns the number of records published successfully.
func (d *Dispatcher) DrainOnce(ctx context.Context) (int, error) {
	published := 0

	err := d.persistence.WithinTx(ctx, func(ctx context.Context, tx persistence.TxStore) error {
		records, err := tx.Outbox().ClaimUnprocessed(ctx, d.batchSize)
		if err != nil {
			return err
		}

		for _, record := range records {
			publishErr := d.publisher.Publish(ctx, record.IdempotencyKey, events.EventType(record.EventType), record.EventData)
			if publishErr != nil {
				d.logger.WarnContext(ctx, "Failed to publish outbox record",
					"record_id", record.ID,
					"event_type", record.EventType,
					"attempts", record.Attempts+1,
					"error", publishErr)

				err := tx.Outbox().MarkFailed(ctx, record.ID, publishErr.Error(), d.maxAttempts)
				if err != nil {
					return err
				}

				continue
			}

			err = tx.Outbox().MarkProcessed(ctx, record.ID)
			if err != nil {
				return err
			}

			published++
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return published, nil
}
