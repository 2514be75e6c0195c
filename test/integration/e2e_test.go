// Package integration exercises the supervisor and worker dispatch loops
// together against a real Postgres instance, wired the same way cmd/fcs
// wires them. Set FCS_TEST_DATABASE_URL to a live Postgres DSN to run these;
// they are skipped otherwise, the same way the teacher's own e2e suite skips
// when a required external tool is missing.
package integration

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/churroqueue/fcs/internal/db"
	"github.com/churroqueue/fcs/internal/supervisor"
	"github.com/churroqueue/fcs/internal/task"
	"github.com/churroqueue/fcs/internal/worker/dispatch"
	"github.com/churroqueue/fcs/internal/worker/executor"
	"github.com/churroqueue/fcs/internal/worker/heartbeat"
)

func testGateway(t *testing.T) *db.Gateway {
	t.Helper()
	dsn := os.Getenv("FCS_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("FCS_TEST_DATABASE_URL not set, skipping live Postgres e2e test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, dsn, 10, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	gw := db.New(pool)
	if err := gw.InitSchema(ctx); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	t.Cleanup(pool.Close)
	return gw
}

func startSupervisor(t *testing.T, ctx context.Context, gw *db.Gateway) {
	t.Helper()
	sup := supervisor.New(gw, supervisor.Config{
		HeartbeatInterval: 200 * time.Millisecond,
		RetryBackoff:      200 * time.Millisecond,
	}, nil)
	go func() {
		if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
			t.Errorf("supervisor exited: %v", err)
		}
	}()
	// Give the supervisor time to subscribe before any task is submitted.
	time.Sleep(100 * time.Millisecond)
}

func startWorker(t *testing.T, ctx context.Context, gw *db.Gateway, id uuid.UUID) {
	t.Helper()
	exec := executor.NewCommandExecutor()
	loop := dispatch.New(gw, exec, id, 0, nil)
	emitter := heartbeat.New(gw, id, 200*time.Millisecond)
	go emitter.Run(ctx)
	go func() {
		if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
			t.Errorf("dispatch loop exited: %v", err)
		}
	}()
	time.Sleep(100 * time.Millisecond)
}

func mustSucceedDef(t *testing.T) json.RawMessage {
	t.Helper()
	def, err := json.Marshal(map[string]interface{}{"cmd": "true"})
	if err != nil {
		t.Fatalf("marshal def: %v", err)
	}
	return def
}

func waitForStatus(t *testing.T, gw *db.Gateway, id uuid.UUID, want task.Status, timeout time.Duration) *task.Task {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		tk, err := gw.GetTask(ctx, id)
		cancel()
		if err != nil {
			t.Fatalf("get task: %v", err)
		}
		if tk.Status == want {
			return tk
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach status %s within %s", id, want, timeout)
	return nil
}

// TestE2E_AsapHappyPath is spec.md §8 scenario 1: a single asap task is
// dispatched to the one live worker and reaches succeeded quickly.
func TestE2E_AsapHappyPath(t *testing.T) {
	gw := testGateway(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerID := uuid.MustParse("205109a7-bcd4-4106-a960-ab45b4c42df8")
	startWorker(t, ctx, gw, workerID)
	startSupervisor(t, ctx, gw)

	id, err := gw.CreateTask(context.Background(), mustSucceedDef(t), nil)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	tk := waitForStatus(t, gw, id, task.StatusSucceeded, 5*time.Second)
	if !tk.WorkerID.Valid || tk.WorkerID.UUID != workerID {
		t.Errorf("expected worker_id=%s, got %+v", workerID, tk.WorkerID)
	}
}

// TestE2E_DeferredTask is spec.md §8 scenario 2: a task scheduled for the
// near future stays pending until its time arrives.
func TestE2E_DeferredTask(t *testing.T) {
	gw := testGateway(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerID := uuid.New()
	startWorker(t, ctx, gw, workerID)
	startSupervisor(t, ctx, gw)

	fireAt := time.Now().Add(3 * time.Second)
	id, err := gw.CreateTask(context.Background(), mustSucceedDef(t), &fireAt)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	time.Sleep(1 * time.Second)
	tk, err := gw.GetTask(context.Background(), id)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if tk.Status != task.StatusPending {
		t.Errorf("expected task still pending at t+1s, got %s", tk.Status)
	}

	waitForStatus(t, gw, id, task.StatusSucceeded, 5*time.Second)
}

// TestE2E_NoWorkersThenArrival is spec.md §8 scenario 3: tasks submitted
// with no live workers stay pending until a worker arrives.
func TestE2E_NoWorkersThenArrival(t *testing.T) {
	gw := testGateway(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startSupervisor(t, ctx, gw)

	ids := make([]uuid.UUID, 3)
	for i := range ids {
		id, err := gw.CreateTask(context.Background(), mustSucceedDef(t), nil)
		if err != nil {
			t.Fatalf("create task %d: %v", i, err)
		}
		ids[i] = id
	}

	time.Sleep(1 * time.Second)
	for i, id := range ids {
		tk, err := gw.GetTask(context.Background(), id)
		if err != nil {
			t.Fatalf("get task %d: %v", i, err)
		}
		if tk.Status != task.StatusPending {
			t.Errorf("task %d: expected pending with no workers, got %s", i, tk.Status)
		}
	}

	workerID := uuid.New()
	startWorker(t, ctx, gw, workerID)

	for i, id := range ids {
		tk := waitForStatus(t, gw, id, task.StatusSucceeded, 5*time.Second)
		if !tk.WorkerID.Valid || tk.WorkerID.UUID != workerID {
			t.Errorf("task %d: expected worker_id=%s, got %+v", i, workerID, tk.WorkerID)
		}
	}
}

// TestE2E_HeartbeatEligibility is spec.md §8 scenario 6: a worker whose
// heartbeat stops is excluded from dispatch once its liveness window
// expires, leaving the remaining live worker as the sole target.
func TestE2E_HeartbeatEligibility(t *testing.T) {
	gw := testGateway(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frozenCtx, stopFrozen := context.WithCancel(context.Background())
	frozenID := uuid.New()
	startWorker(t, frozenCtx, gw, frozenID)

	liveID := uuid.New()
	startWorker(t, ctx, gw, liveID)

	startSupervisor(t, ctx, gw)

	// Freeze the first worker's heartbeat and let it age out past the
	// liveness window (3x the 200ms interval used in these tests).
	stopFrozen()
	time.Sleep(1 * time.Second)

	id, err := gw.CreateTask(context.Background(), mustSucceedDef(t), nil)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	tk := waitForStatus(t, gw, id, task.StatusSucceeded, 5*time.Second)
	if !tk.WorkerID.Valid || tk.WorkerID.UUID != liveID {
		t.Errorf("expected the live worker %s to claim the task, got %+v", liveID, tk.WorkerID)
	}
}
