package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Store leases pending events to one relay at a time.
type Store interface {
	LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]Event, error)
	MarkSent(ctx context.Context, ids []int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
}

type Relay struct {
	log       *slog.Logger
	store     Store
	dispatch  *Dispatcher
	relayID   string
	batchSize int
	interval  time.Duration
	lease     time.Duration
}

type Option func(*Relay)

func WithInterval(d time.Duration) Option { return func(r *Relay) { r.interval = d } }

func WithBatchSize(n int) Option { return func(r *Relay) { r.batchSize = n } }

func NewRelay(log *slog.Logger, store Store, dispatch *Dispatcher, relayID string, opts ...Option) *Relay {
	r := &Relay{
		log:       log,
		store:     store,
		dispatch:  dispatch,
		relayID:   relayID,
		batchSize: 100,
		interval:  500 * time.Millisecond,
		lease:     5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run relays until ctx is cancelled. A full batch is followed immediately by
// the next one; store errors back off up to ten intervals.
func (r *Relay) Run(ctx context.Context) error {
	r.log.Info("relay started", "relay_id", r.relayID, "batch_size", r.batchSize)
	wait := r.interval
	for {
		select {
		case <-ctx.Done():
			r.log.Info("relay stopping", "relay_id", r.relayID)
			return nil
		case <-time.After(wait):
		}

		sent, err := r.Tick(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			r.log.Error("relay tick failed", "relay_id", r.relayID, "err", err)
			wait = min(max(wait*2, r.interval), 10*r.interval)
		case sent == r.batchSize:
			wait = 0
		default:
			wait = r.interval
		}
	}
}

// Tick relays one batch and returns how many events were sent.
func (r *Relay) Tick(ctx context.Context) (int, error) {
	events, err := r.store.LockBatch(ctx, r.relayID, r.batchSize, r.lease)
	if err != nil {
		return 0, fmt.Errorf("lock batch: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(events))
	for _, e := range events {
		if err := r.dispatch.Dispatch(ctx, e); err != nil {
			if err := r.store.MarkFailed(ctx, e.ID, err.Error()); err != nil {
				r.log.Error("relay mark failed error", "event_id", e.ID, "err", err)
			}
			continue
		}
		ids = append(ids, e.ID)
	}
	if len(ids) > 0 {
		// Unmarked rows are leased again after the lease expires, so Kafka
		// consumers must tolerate duplicates.
		if err := r.store.MarkSent(ctx, ids); err != nil {
			return 0, fmt.Errorf("mark sent: %w", err)
		}
	}
	return len(ids), nil
}
