// Package notify delivers swap events from the transactional outbox to
// external publishers. Delivery is at-least-once: an event is marked
// delivered only after every publisher accepted it, and consumers
// de-duplicate on SwapEvent.DedupKey.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"swap-escrow/internal/domain"
	"swap-escrow/internal/observability"
	"swap-escrow/internal/storage"
)

// Publisher sends a batch of events to one destination.
// Publish must tolerate re-delivery of events it already accepted.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, events []*domain.SwapEvent) error
}

// Config configures a Dispatcher.
type Config struct {
	PollInterval time.Duration // time between outbox polls when idle
	BatchSize    int           // events per cycle
	MaxElapsed   time.Duration // retry budget per publisher per cycle
}

// DefaultConfig returns the dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: time.Second,
		BatchSize:    100,
		MaxElapsed:   30 * time.Second,
	}
}

// Dispatcher drains the outbox into publishers.
type Dispatcher struct {
	outbox     storage.SwapEventStore
	publishers []Publisher
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time
}

// NewDispatcher creates a dispatcher. Zero Config fields take defaults.
func NewDispatcher(outbox storage.SwapEventStore, publishers []Publisher, cfg Config, logger *zap.Logger) *Dispatcher {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = def.MaxElapsed
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		outbox:     outbox,
		publishers: publishers,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Run dispatches until ctx is cancelled. A full batch is followed
// immediately by the next cycle; otherwise Run waits PollInterval.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started",
		zap.Int("publishers", len(d.publishers)),
		zap.Duration("poll_interval", d.cfg.PollInterval),
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped")
			return ctx.Err()
		case <-timer.C:
		}

		n, err := d.DispatchOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Warn("dispatch cycle failed", zap.Error(err))
		}

		wait := d.cfg.PollInterval
		if err == nil && n == d.cfg.BatchSize {
			wait = 0
		}
		timer.Reset(wait)
	}
}

// DispatchOnce delivers one batch of pending events and returns how many
// were marked delivered.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	pending, err := d.outbox.GetPending(ctx, d.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("get pending events: %w", err)
	}
	if count, err := d.outbox.CountPending(ctx); err == nil {
		observability.UpdateOutboxPending(count)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	for _, p := range d.publishers {
		if err := d.publish(ctx, p, pending); err != nil {
			return 0, fmt.Errorf("publish to %s: %w", p.Name(), err)
		}
	}

	ids := make([]int64, len(pending))
	for i, e := range pending {
		ids[i] = e.ID
	}
	if err := d.outbox.MarkDelivered(ctx, ids, d.now()); err != nil {
		return 0, fmt.Errorf("mark delivered: %w", err)
	}

	observability.RecordDelivered(len(pending))
	d.logger.Debug("events delivered",
		zap.Int("count", len(pending)),
		zap.Int64("first_id", ids[0]),
		zap.Int64("last_id", ids[len(ids)-1]),
	)
	return len(pending), nil
}

// publish retries p with exponential backoff within MaxElapsed.
func (d *Dispatcher) publish(ctx context.Context, p Publisher, events []*domain.SwapEvent) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = d.cfg.MaxElapsed

	op := func() error {
		start := time.Now()
		err := p.Publish(ctx, events)
		observability.RecordPublish(p.Name(), time.Since(start).Seconds(), err)
		return err
	}
	notify := func(err error, next time.Duration) {
		d.logger.Warn("publish failed, retrying",
			zap.String("publisher", p.Name()),
			zap.Int("events", len(events)),
			zap.Duration("retry_in", next),
			zap.Error(err),
		)
	}
	return backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify)
}
