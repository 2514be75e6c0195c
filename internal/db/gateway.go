// Package db wraps the shared Postgres database: the durable store for
// workers and tasks, and the pub/sub notification bus the supervisor and
// workers use to wake each other up. It is the sole shared mutable resource
// in the system — every cross-node coordination fact flows through it.
package db

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/churroqueue/fcs/internal/metrics"
	"github.com/churroqueue/fcs/internal/resilience"
	"github.com/churroqueue/fcs/internal/task"
	"github.com/churroqueue/fcs/internal/tracing"
)

// Channel names per spec.md §6.
const (
	ChannelSupervisor = "supervisor"
)

// WorkerChannel returns the per-worker dispatch channel name.
func WorkerChannel(workerID uuid.UUID) string {
	return fmt.Sprintf("worker:%s", workerID)
}

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("db: not found")

// Gateway is the Database Gateway (spec.md §4.1). All operations are atomic
// at the single-statement or explicit-transaction level, wrapped in bounded
// retry and a shared circuit breaker so a wedged Postgres doesn't spin every
// driver's retry loop in lockstep.
type Gateway struct {
	pool    *pgxpool.Pool
	breaker *resilience.DBBreaker
	retry   resilience.RetryConfig
	metrics *metrics.Metrics
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithRetryConfig overrides the default retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(g *Gateway) { g.retry = cfg }
}

// WithCircuitConfig overrides the default circuit breaker policy.
func WithCircuitConfig(cfg resilience.CircuitConfig) Option {
	return func(g *Gateway) { g.breaker = resilience.NewDBBreaker(cfg) }
}

// WithMetrics attaches a metrics sink; Gateway calls are instrumented when set.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// New wraps an already-connected pool. Callers build the pool (and its TLS
// settings, if any) via Connect.
func New(pool *pgxpool.Pool, opts ...Option) *Gateway {
	g := &Gateway{
		pool:  pool,
		retry: resilience.DefaultRetryConfig(),
	}
	g.breaker = resilience.NewDBBreaker(resilience.DefaultCircuitConfig())
	for _, opt := range opts {
		opt(g)
	}
	if g.metrics != nil {
		g.breaker.OnStateChange(func(_, to resilience.CircuitState) {
			g.metrics.SetCircuitState(circuitGaugeValue(to))
		})
	}
	return g
}

// Connect opens a pooled connection to dsn. maxConns overrides the pool
// size when positive; otherwise the DSN's pool_max_conns or pgxpool's own
// default is used. tlsConfig is
// applied to every connection in the pool when non-nil.
func Connect(ctx context.Context, dsn string, maxConns int32, tlsConfig *tls.Config) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	} else if cfg.MaxConns == 0 {
		cfg.MaxConns = 10
	}
	if tlsConfig != nil {
		cfg.ConnConfig.TLSConfig = tlsConfig
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return pool, nil
}

// Close releases the underlying pool.
func (g *Gateway) Close() {
	g.pool.Close()
}

// run wraps op with retry, a shared circuit breaker, tracing, and a DB-call
// latency observation. op's error is not wrapped further so errors.Is/As on
// pgconn.PgError still works at the caller.
func (g *Gateway) run(ctx context.Context, name string, op func(ctx context.Context) error) error {
	ctx, span := tracing.StartSpan(ctx, "db."+name)
	defer span.End()
	span.SetAttributes(tracing.AttrDBOperation.String(name))

	start := time.Now()
	attempts := 0
	err := resilience.Retry(ctx, g.retry, func() error {
		attempts++
		_, breakerErr := g.breaker.Execute(func() (interface{}, error) {
			return nil, op(ctx)
		})
		return breakerErr
	})
	if g.metrics != nil {
		g.metrics.DBCallSeconds.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if attempts > 1 {
			g.metrics.DBRetries.Inc()
		}
	}
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return err
}

// CreateTask inserts a new pending task and publishes new_task:{id} on the
// supervisor channel in the same transaction, so subscribers only ever see
// committed tasks.
func (g *Gateway) CreateTask(ctx context.Context, def json.RawMessage, scheduledAt *time.Time) (uuid.UUID, error) {
	id := uuid.New()
	err := g.run(ctx, "create_task", func(ctx context.Context) error {
		tx, err := g.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		now := time.Now().UTC()
		_, err = tx.Exec(ctx, `
			INSERT INTO tasks (id, def, status, created_at, updated_at, scheduled_at)
			VALUES ($1, $2, 'pending', $3, $3, $4)`,
			id, def, now, scheduledAt,
		)
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}

		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, ChannelSupervisor, "new_task:"+id.String()); err != nil {
			return fmt.Errorf("notify new_task: %w", err)
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return uuid.Nil, err
	}
	if g.metrics != nil {
		g.metrics.TasksSubmitted.Inc()
	}
	return id, nil
}

// ScheduledTask is a pending row with a future (or past) scheduled_at,
// as returned by ListPendingScheduled.
type ScheduledTask struct {
	ID          uuid.UUID
	ScheduledAt time.Time
}

// ListPendingScheduled returns every pending task with a non-null
// scheduled_at. Used once, at supervisor startup.
func (g *Gateway) ListPendingScheduled(ctx context.Context) ([]ScheduledTask, error) {
	var out []ScheduledTask
	err := g.run(ctx, "list_pending_scheduled", func(ctx context.Context) error {
		rows, err := g.pool.Query(ctx, `
			SELECT id, scheduled_at FROM tasks
			WHERE status = 'pending' AND scheduled_at IS NOT NULL`)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = nil
		for rows.Next() {
			var t ScheduledTask
			if err := rows.Scan(&t.ID, &t.ScheduledAt); err != nil {
				return err
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	return out, err
}

// ListPendingASAP returns ids of pending tasks due now or with no
// scheduled_at. Used once, at supervisor startup.
func (g *Gateway) ListPendingASAP(ctx context.Context) ([]uuid.UUID, error) {
	var out []uuid.UUID
	err := g.run(ctx, "list_pending_asap", func(ctx context.Context) error {
		rows, err := g.pool.Query(ctx, `
			SELECT id FROM tasks
			WHERE status = 'pending' AND (scheduled_at IS NULL OR scheduled_at <= now())`)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = nil
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				return err
			}
			out = append(out, id)
		}
		return rows.Err()
	})
	return out, err
}

// UpsertWorker inserts the worker row if absent, otherwise bumps
// last_heard_at, and publishes heartbeat:{id} on the supervisor channel.
func (g *Gateway) UpsertWorker(ctx context.Context, id uuid.UUID) error {
	return g.run(ctx, "upsert_worker", func(ctx context.Context) error {
		tx, err := g.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		now := time.Now().UTC()
		_, err = tx.Exec(ctx, `
			INSERT INTO workers (id, last_heard_at) VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET last_heard_at = $2`,
			id, now,
		)
		if err != nil {
			return fmt.Errorf("upsert worker: %w", err)
		}

		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, ChannelSupervisor, "heartbeat:"+id.String()); err != nil {
			return fmt.Errorf("notify heartbeat: %w", err)
		}

		return tx.Commit(ctx)
	})
}

// BeginTask is the atomic CAS that is the sole guarantor of at-most-once
// execution. It succeeds iff the row is currently dispatched to workerID,
// in which case it transitions to running. Failure is an expected outcome
// (another worker won the race), not an error.
func (g *Gateway) BeginTask(ctx context.Context, taskID, workerID uuid.UUID) (bool, error) {
	var won bool
	err := g.run(ctx, "begin_task", func(ctx context.Context) error {
		tag, err := g.pool.Exec(ctx, `
			UPDATE tasks SET status = 'running', updated_at = now()
			WHERE id = $1 AND status = 'dispatched' AND worker_id = $2`,
			taskID, workerID,
		)
		if err != nil {
			return err
		}
		won = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	if g.metrics != nil {
		outcome := "lost"
		if won {
			outcome = "won"
		}
		g.metrics.ClaimAttempts.WithLabelValues(outcome).Inc()
	}
	return won, nil
}

// AssignTask sets status=dispatched, worker_id=workerID iff the row is
// currently pending, and notifies the target worker's dispatch channel.
func (g *Gateway) AssignTask(ctx context.Context, taskID, workerID uuid.UUID) (bool, error) {
	var assigned bool
	err := g.run(ctx, "assign_task", func(ctx context.Context) error {
		tx, err := g.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		tag, err := tx.Exec(ctx, `
			UPDATE tasks SET status = 'dispatched', worker_id = $2, updated_at = now()
			WHERE id = $1 AND status = 'pending'`,
			taskID, workerID,
		)
		if err != nil {
			return err
		}
		assigned = tag.RowsAffected() == 1
		if !assigned {
			return tx.Commit(ctx)
		}

		channel := WorkerChannel(workerID)
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, channel, "dispatch:"+taskID.String()); err != nil {
			return fmt.Errorf("notify dispatch: %w", err)
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return false, err
	}
	if assigned && g.metrics != nil {
		g.metrics.TasksDispatched.WithLabelValues(workerID.String()).Inc()
	}
	return assigned, nil
}

// FinishTask transitions a running task to a terminal status. Fails (and
// returns an error, not a bool) if the row is not currently running — this
// indicates a bug in the caller's state tracking, not an expected race.
func (g *Gateway) FinishTask(ctx context.Context, taskID uuid.UUID, status task.Status) error {
	if !status.Terminal() {
		return fmt.Errorf("finish_task: %q is not a terminal status", status)
	}
	err := g.run(ctx, "finish_task", func(ctx context.Context) error {
		tag, err := g.pool.Exec(ctx, `
			UPDATE tasks SET status = $2, updated_at = now()
			WHERE id = $1 AND status = 'running'`,
			taskID, status,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("finish_task(%s): row not running", taskID)
		}
		return nil
	})
	if err == nil && g.metrics != nil {
		g.metrics.TasksFinished.WithLabelValues(string(status)).Inc()
	}
	return err
}

// ListDispatchedTo returns ids of tasks currently dispatched to workerID —
// dispatches issued while the worker was down, recovered on worker startup.
func (g *Gateway) ListDispatchedTo(ctx context.Context, workerID uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	err := g.run(ctx, "list_dispatched_to", func(ctx context.Context) error {
		rows, err := g.pool.Query(ctx, `
			SELECT id FROM tasks WHERE status = 'dispatched' AND worker_id = $1`, workerID)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = nil
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				return err
			}
			out = append(out, id)
		}
		return rows.Err()
	})
	return out, err
}

// GetTask fetches a single task by id, for the submission endpoint's
// GET /tasks/{id}.
func (g *Gateway) GetTask(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	var t task.Task
	err := g.run(ctx, "get_task", func(ctx context.Context) error {
		row := g.pool.QueryRow(ctx, `
			SELECT id, def, worker_id, status, created_at, updated_at, scheduled_at
			FROM tasks WHERE id = $1`, id)
		return scanTask(row, &t)
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTasks returns every task, newest first, for GET /tasks.
func (g *Gateway) ListTasks(ctx context.Context) ([]*task.Task, error) {
	var out []*task.Task
	err := g.run(ctx, "list_tasks", func(ctx context.Context) error {
		rows, err := g.pool.Query(ctx, `
			SELECT id, def, worker_id, status, created_at, updated_at, scheduled_at
			FROM tasks ORDER BY created_at DESC`)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = nil
		for rows.Next() {
			var t task.Task
			if err := scanTask(rows, &t); err != nil {
				return err
			}
			out = append(out, &t)
		}
		return rows.Err()
	})
	return out, err
}

// WorkerRecord is a durable worker row plus its current in-flight task count,
// as returned by ListWorkers for the `fcs status` CLI.
type WorkerRecord struct {
	ID          uuid.UUID
	LastHeardAt time.Time
	ActiveTasks int
}

// ListWorkers returns every known worker and how many tasks are currently
// dispatched or running against it. Unlike the supervisor's in-memory
// registry, this reflects durable state and is safe to call from a
// separate CLI process.
func (g *Gateway) ListWorkers(ctx context.Context) ([]WorkerRecord, error) {
	var out []WorkerRecord
	err := g.run(ctx, "list_workers", func(ctx context.Context) error {
		rows, err := g.pool.Query(ctx, `
			SELECT w.id, w.last_heard_at,
				(SELECT count(*) FROM tasks t
					WHERE t.worker_id = w.id AND t.status IN ('dispatched', 'running'))
			FROM workers w ORDER BY w.last_heard_at DESC`)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = nil
		for rows.Next() {
			var w WorkerRecord
			if err := rows.Scan(&w.ID, &w.LastHeardAt, &w.ActiveTasks); err != nil {
				return err
			}
			out = append(out, w)
		}
		return rows.Err()
	})
	return out, err
}

// CountInFlight returns the number of tasks currently dispatched or
// running, for the supervisor's in_flight_tasks gauge. Queried fresh on
// demand rather than tracked incrementally, since dispatch and finish
// happen in different processes with independent metrics registries.
func (g *Gateway) CountInFlight(ctx context.Context) (int64, error) {
	var n int64
	err := g.run(ctx, "count_in_flight", func(ctx context.Context) error {
		row := g.pool.QueryRow(ctx, `
			SELECT count(*) FROM tasks WHERE status IN ('dispatched', 'running')`)
		return row.Scan(&n)
	})
	return n, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner, t *task.Task) error {
	var status string
	err := row.Scan(&t.ID, &t.Def, &t.WorkerID, &status, &t.CreatedAt, &t.UpdatedAt, &t.ScheduledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("scan task: %w", err)
	}
	t.Status = task.Status(status)
	return nil
}

func circuitGaugeValue(s resilience.CircuitState) metrics.CircuitStateValue {
	switch s {
	case resilience.CircuitClosed:
		return metrics.CircuitStateClosed
	case resilience.CircuitHalfOpen:
		return metrics.CircuitStateHalfOpen
	default:
		return metrics.CircuitStateOpen
	}
}
