// Package heartbeat periodically upserts a worker's liveness row (spec.md
// §4.5). It never exits on a failed upsert — the registry's liveness window
// is forgiving by design, and a worker that stops heartbeating is simply
// allowed to age out rather than crash.
package heartbeat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/churroqueue/fcs/internal/resilience"
)

// Gateway is the slice of the Database Gateway the emitter depends on.
type Gateway interface {
	UpsertWorker(ctx context.Context, id uuid.UUID) error
}

// Emitter ticks UpsertWorker at a fixed interval until its context is
// canceled.
type Emitter struct {
	gw       Gateway
	workerID uuid.UUID
	interval time.Duration
	retry    resilience.RetryConfig
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithRetryConfig overrides the default per-beat retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(e *Emitter) { e.retry = cfg }
}

// New constructs an Emitter for workerID, ticking every interval.
func New(gw Gateway, workerID uuid.UUID, interval time.Duration, opts ...Option) *Emitter {
	e := &Emitter{
		gw:       gw,
		workerID: workerID,
		interval: interval,
		retry:    resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run beats immediately, then ticks every interval until ctx is canceled. A
// failed upsert, even after retry, is logged and skipped — not fatal.
func (e *Emitter) Run(ctx context.Context) {
	logger := log.With().Str("component", "heartbeat").Str("worker_id", e.workerID.String()).Logger()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.beat(ctx, &logger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.beat(ctx, &logger)
		}
	}
}

func (e *Emitter) beat(ctx context.Context, logger *zerolog.Logger) {
	err := resilience.Retry(ctx, e.retry, func() error {
		return e.gw.UpsertWorker(ctx, e.workerID)
	})
	if err != nil {
		logger.Error().Err(err).Msg("heartbeat upsert failed, will retry next tick")
	}
}
