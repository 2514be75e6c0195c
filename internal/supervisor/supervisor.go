// Package supervisor implements the singleton scheduling loop (spec.md
// §4.3): it owns the schedule heap and the worker registry, consumes the
// new-task and heartbeat notification stream, and issues dispatch
// notifications to chosen workers.
package supervisor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/churroqueue/fcs/internal/db"
	"github.com/churroqueue/fcs/internal/metrics"
	"github.com/churroqueue/fcs/internal/registry"
	"github.com/churroqueue/fcs/internal/schedule"
	"github.com/churroqueue/fcs/internal/task"
)

// Gateway is the slice of the Database Gateway the supervisor depends on.
// Defined here (accept interfaces, return structs) so the driver loop can
// be tested against a fake without a live Postgres instance.
type Gateway interface {
	ListPendingScheduled(ctx context.Context) ([]db.ScheduledTask, error)
	ListPendingASAP(ctx context.Context) ([]uuid.UUID, error)
	AssignTask(ctx context.Context, taskID, workerID uuid.UUID) (bool, error)
	GetTask(ctx context.Context, id uuid.UUID) (*task.Task, error)
	CountInFlight(ctx context.Context) (int64, error)
	Subscribe(ctx context.Context, channel string) (db.Subscriber, error)
}

// Config configures a Supervisor.
type Config struct {
	HeartbeatInterval time.Duration
	RetryBackoff      time.Duration
}

// DefaultConfig returns spec.md's default constants.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: registry.DefaultHeartbeatInterval,
		RetryBackoff:      time.Second,
	}
}

// Supervisor is the single-threaded cooperative driver described in
// spec.md §4.3 and §5. One instance runs per deployment; there is no
// leader election.
type Supervisor struct {
	gw       Gateway
	registry *registry.Registry
	heap     *schedule.Heap
	cfg      Config
	metrics  *metrics.Metrics
}

// New constructs a Supervisor. Call Run to start it.
func New(gw Gateway, cfg Config, m *metrics.Metrics) *Supervisor {
	return &Supervisor{
		gw:       gw,
		registry: registry.New(registry.LivenessWindow(cfg.HeartbeatInterval)),
		heap:     schedule.New(),
		cfg:      cfg,
		metrics:  m,
	}
}

// Run performs startup recovery and then drives the main loop until ctx is
// canceled.
func (s *Supervisor) Run(ctx context.Context) error {
	logger := log.With().Str("component", "supervisor").Logger()

	// 1. Subscribe before the next two reads, so no notification published
	// between the snapshot reads below and now is lost.
	sub, err := s.gw.Subscribe(ctx, db.ChannelSupervisor)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", db.ChannelSupervisor, err)
	}
	defer func() { _ = sub.Close(context.Background()) }()

	if err := s.recover(ctx, &logger); err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}

	return s.loop(ctx, sub, &logger)
}

// recover loads every pending row and seeds the heap or an immediate
// dispatch, per spec.md §4.3 step 2.
func (s *Supervisor) recover(ctx context.Context, logger *zerolog.Logger) error {
	scheduled, err := s.gw.ListPendingScheduled(ctx)
	if err != nil {
		return fmt.Errorf("list pending scheduled: %w", err)
	}
	now := time.Now()
	immediate := 0
	for _, t := range scheduled {
		if !t.ScheduledAt.After(now) {
			s.dispatch(ctx, t.ID, t.ScheduledAt, logger)
			immediate++
			continue
		}
		s.heap.Push(schedule.Entry{FireTime: t.ScheduledAt, TaskID: t.ID})
	}

	asap, err := s.gw.ListPendingASAP(ctx)
	if err != nil {
		return fmt.Errorf("list pending asap: %w", err)
	}
	for _, id := range asap {
		// ListPendingASAP doesn't carry created_at, so the due time for
		// these rows isn't known precisely; treat "now" as due time rather
		// than under-reporting lag as negative.
		s.dispatch(ctx, id, now, logger)
	}

	logger.Info().
		Int("scheduled", len(scheduled)-immediate).
		Int("asap", len(asap)).
		Msg("startup recovery complete")

	s.refreshGauges(ctx, logger)
	return nil
}

// refreshGauges sets the point-in-time gauges (schedule heap depth, live
// worker count, in-flight task count) from authoritative state. Called
// after recovery and on every idle tick of the main loop.
func (s *Supervisor) refreshGauges(ctx context.Context, logger *zerolog.Logger) {
	if s.metrics == nil {
		return
	}
	s.metrics.QueueDepth.Set(float64(s.heap.Len()))
	s.metrics.WorkersTotal.Set(float64(s.registry.LiveCount(time.Now())))

	inFlight, err := s.gw.CountInFlight(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("count_in_flight failed, leaving in_flight_tasks gauge stale")
		return
	}
	s.metrics.InFlightTasks.Set(float64(inFlight))
}

// loop is the main cooperative driver: a message on the supervisor
// channel, the heap's top becoming due, or ctx cancellation.
func (s *Supervisor) loop(ctx context.Context, sub db.Subscriber, logger *zerolog.Logger) error {
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
			s.handleNotification(ctx, payload, logger)

		case <-time.After(s.nextWait()):
			now := time.Now()
			for _, e := range s.heap.PopDue(now) {
				s.dispatch(ctx, e.TaskID, e.FireTime, logger)
			}
			s.refreshGauges(ctx, logger)
		}
	}
}

// nextWait returns how long until the heap's top entry is due, capped so
// the loop still wakes periodically when the heap is empty.
func (s *Supervisor) nextWait() time.Duration {
	const idlePoll = time.Second
	e, ok := s.heap.Peek()
	if !ok {
		return idlePoll
	}
	d := time.Until(e.FireTime)
	if d < 0 {
		return 0
	}
	if d > idlePoll {
		return idlePoll
	}
	return d
}

func (s *Supervisor) handleNotification(ctx context.Context, payload string, logger *zerolog.Logger) {
	kind, rawID, ok := splitPayload(payload)
	if !ok {
		logger.Warn().Str("payload", payload).Msg("malformed notification payload")
		return
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		logger.Warn().Str("payload", payload).Msg("malformed id in notification payload")
		return
	}

	switch kind {
	case "new_task":
		s.handleNewTask(ctx, id, logger)
	case "heartbeat":
		s.registry.RecordHeartbeat(id, time.Now())
	default:
		logger.Warn().Str("payload", payload).Msg("unknown notification kind")
	}
}

// handleNewTask looks up the task's scheduled_at and either dispatches now
// or pushes it onto the heap, per spec.md §4.3's new_task handler.
func (s *Supervisor) handleNewTask(ctx context.Context, taskID uuid.UUID, logger *zerolog.Logger) {
	t, err := s.gw.GetTask(ctx, taskID)
	if err != nil {
		logger.Error().Err(err).Str("task_id", taskID.String()).Msg("failed to look up new task")
		return
	}

	if t.DueNow(time.Now()) {
		dueAt := t.CreatedAt
		if t.ScheduledAt != nil {
			dueAt = *t.ScheduledAt
		}
		s.dispatch(ctx, taskID, dueAt, logger)
		return
	}
	s.heap.Push(schedule.Entry{FireTime: *t.ScheduledAt, TaskID: taskID})
}

// dispatch implements spec.md §4.3's dispatch procedure for task t. dueAt is
// the wall-clock time the task became eligible to run, used to observe
// dispatch lag.
func (s *Supervisor) dispatch(ctx context.Context, taskID uuid.UUID, dueAt time.Time, logger *zerolog.Logger) {
	target, ok := s.registry.PickTarget(time.Now())
	if !ok {
		// No eligible worker: the task waits in memory, the DB row stays
		// pending. This is the sole "no workers available" policy.
		s.heap.Push(schedule.Entry{FireTime: time.Now().Add(s.cfg.RetryBackoff), TaskID: taskID})
		return
	}

	assigned, err := s.gw.AssignTask(ctx, taskID, target)
	if err != nil {
		logger.Error().Err(err).Str("task_id", taskID.String()).Msg("assign_task failed")
		s.heap.Push(schedule.Entry{FireTime: time.Now().Add(s.cfg.RetryBackoff), TaskID: taskID})
		return
	}
	if !assigned {
		// Row is no longer pending — e.g. already dispatched by a previous
		// supervisor incarnation. Not ours to schedule; drop silently.
		return
	}

	s.registry.MarkBusy(target)
	if s.metrics != nil {
		if lag := time.Since(dueAt); lag > 0 {
			s.metrics.DispatchLagSec.Observe(lag.Seconds())
		}
	}
}

func splitPayload(payload string) (kind, id string, ok bool) {
	idx := strings.IndexByte(payload, ':')
	if idx < 0 {
		return "", "", false
	}
	return payload[:idx], payload[idx+1:], true
}
