// Package dispatch implements the worker-side dispatch loop (spec.md §4.4):
// claim a dispatched task via the atomic CAS, run it through an Executor,
// and record its terminal status. Multiple slots run independent Loops
// sharing one worker id; each races on begin_task and only the winner
// proceeds.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/churroqueue/fcs/internal/db"
	"github.com/churroqueue/fcs/internal/metrics"
	"github.com/churroqueue/fcs/internal/task"
	"github.com/churroqueue/fcs/internal/worker/executor"
)

// Gateway is the slice of the Database Gateway a dispatch Loop depends on.
type Gateway interface {
	UpsertWorker(ctx context.Context, id uuid.UUID) error
	ListDispatchedTo(ctx context.Context, workerID uuid.UUID) ([]uuid.UUID, error)
	BeginTask(ctx context.Context, taskID, workerID uuid.UUID) (bool, error)
	GetTask(ctx context.Context, id uuid.UUID) (*task.Task, error)
	FinishTask(ctx context.Context, taskID uuid.UUID, status task.Status) error
	Subscribe(ctx context.Context, channel string) (db.Subscriber, error)
}

// Loop is one logical dispatch driver for a worker id. Run multiple Loops
// concurrently, all sharing the same workerID, for multi-slot concurrency.
type Loop struct {
	gw       Gateway
	exec     executor.Executor
	workerID uuid.UUID
	slot     int
	metrics  *metrics.Metrics

	backlog chan uuid.UUID
}

// New constructs a dispatch Loop for workerID. slot is used only for log
// attribution when multiple Loops share a worker id.
func New(gw Gateway, exec executor.Executor, workerID uuid.UUID, slot int, m *metrics.Metrics) *Loop {
	return &Loop{
		gw:       gw,
		exec:     exec,
		workerID: workerID,
		slot:     slot,
		metrics:  m,
		backlog:  make(chan uuid.UUID, 64),
	}
}

// Run subscribes to this worker's dispatch channel before recovering its
// backlog, per spec.md §4.4's ordering requirement, then drives the main
// loop until ctx is canceled.
func (l *Loop) Run(ctx context.Context) error {
	logger := log.With().
		Str("component", "dispatch").
		Str("worker_id", l.workerID.String()).
		Int("slot", l.slot).
		Logger()

	channel := db.WorkerChannel(l.workerID)
	sub, err := l.gw.Subscribe(ctx, channel)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", channel, err)
	}
	defer func() { _ = sub.Close(context.Background()) }()

	if err := l.recoverBacklog(ctx, &logger); err != nil {
		return fmt.Errorf("recover backlog: %w", err)
	}

	return l.loop(ctx, sub, &logger)
}

// recoverBacklog enqueues tasks dispatched while this worker was down.
func (l *Loop) recoverBacklog(ctx context.Context, logger *zerolog.Logger) error {
	ids, err := l.gw.ListDispatchedTo(ctx, l.workerID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		l.enqueue(id)
	}
	logger.Info().Int("backlog", len(ids)).Msg("dispatch backlog recovered")
	return nil
}

func (l *Loop) enqueue(taskID uuid.UUID) {
	select {
	case l.backlog <- taskID:
	default:
		// Backlog channel is sized generously; a full channel means far more
		// concurrent dispatches than this slot can plausibly be behind on.
		log.Warn().Str("task_id", taskID.String()).Msg("dispatch backlog full, dropping notification (task remains dispatched in db)")
	}
}

func (l *Loop) loop(ctx context.Context, sub db.Subscriber, logger *zerolog.Logger) error {
	notifications := make(chan string)
	errs := make(chan error, 1)
	go func() {
		for {
			payload, err := sub.Next(ctx)
			if err != nil {
				select {
				case errs <- err:
				case <-ctx.Done():
				}
				return
			}
			select {
			case notifications <- payload:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-errs:
			return fmt.Errorf("notification stream lost: %w", err)

		case payload := <-notifications:
			id, ok := parseDispatchPayload(payload)
			if !ok {
				logger.Warn().Str("payload", payload).Msg("malformed dispatch payload")
				continue
			}
			l.enqueue(id)

		case taskID := <-l.backlog:
			l.handle(ctx, taskID, logger)
		}
	}
}

// handle implements spec.md §4.4's on-dispatch procedure for a single task.
func (l *Loop) handle(ctx context.Context, taskID uuid.UUID, logger *zerolog.Logger) {
	start := time.Now()
	won, err := l.gw.BeginTask(ctx, taskID, l.workerID)
	if err != nil {
		logger.Error().Err(err).Str("task_id", taskID.String()).Msg("begin_task failed")
		return
	}
	if !won {
		// Another slot, or a prior incarnation of this worker, already
		// claimed it. Expected under contention; not an error.
		return
	}

	t, err := l.gw.GetTask(ctx, taskID)
	if err != nil {
		logger.Error().Err(err).Str("task_id", taskID.String()).Msg("get_task failed after claim")
		l.finish(ctx, taskID, task.StatusFailed, logger)
		return
	}

	result, err := l.exec.Execute(ctx, t.Def)
	status := outcomeToStatus(result, err, ctx)
	if err != nil {
		logger.Error().Err(err).Str("task_id", taskID.String()).Msg("task execution errored")
	}

	l.finish(ctx, taskID, status, logger)

	if l.metrics != nil {
		l.metrics.TaskDuration.WithLabelValues(string(status)).Observe(time.Since(start).Seconds())
	}
}

func (l *Loop) finish(ctx context.Context, taskID uuid.UUID, status task.Status, logger *zerolog.Logger) {
	// finish_task is best-effort on shutdown: use a detached context so a
	// canceled ctx doesn't prevent recording the terminal status.
	finishCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		finishCtx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}
	if err := l.gw.FinishTask(finishCtx, taskID, status); err != nil {
		logger.Error().Err(err).Str("task_id", taskID.String()).Str("status", string(status)).Msg("finish_task failed")
	}
}

func outcomeToStatus(result *executor.Result, err error, ctx context.Context) task.Status {
	if err != nil {
		if ctx.Err() != nil {
			return task.StatusInterrupted
		}
		return task.StatusFailed
	}
	switch result.Outcome {
	case executor.OutcomeSucceeded:
		return task.StatusSucceeded
	case executor.OutcomeInterrupted:
		return task.StatusInterrupted
	default:
		return task.StatusFailed
	}
}

func parseDispatchPayload(payload string) (uuid.UUID, bool) {
	const prefix = "dispatch:"
	if len(payload) <= len(prefix) || payload[:len(prefix)] != prefix {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(payload[len(prefix):])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
