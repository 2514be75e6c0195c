package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/churroqueue/fcs/internal/db"
	"github.com/churroqueue/fcs/internal/task"
)

// fakeSubscriber is an in-memory Subscriber driven by a channel, standing in
// for a real db.Subscription in tests.
type fakeSubscriber struct {
	ch     chan string
	closed bool
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{ch: make(chan string, 16)}
}

func (f *fakeSubscriber) Next(ctx context.Context) (string, error) {
	select {
	case payload, ok := <-f.ch:
		if !ok {
			return "", errors.New("subscriber closed")
		}
		return payload, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (f *fakeSubscriber) Close(ctx context.Context) error {
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
	return nil
}

func (f *fakeSubscriber) publish(payload string) { f.ch <- payload }

// fakeGateway is an in-memory stand-in for db.Gateway implementing just
// what the supervisor needs.
type fakeGateway struct {
	mu         sync.Mutex
	tasks      map[uuid.UUID]*task.Task
	sub        *fakeSubscriber
	assignErr  error
	assignedTo map[uuid.UUID]uuid.UUID
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		tasks:      make(map[uuid.UUID]*task.Task),
		sub:        newFakeSubscriber(),
		assignedTo: make(map[uuid.UUID]uuid.UUID),
	}
}

func (g *fakeGateway) addTask(t *task.Task) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tasks[t.ID] = t
}

func (g *fakeGateway) ListPendingScheduled(ctx context.Context) ([]db.ScheduledTask, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []db.ScheduledTask
	for _, t := range g.tasks {
		if t.Status == task.StatusPending && t.ScheduledAt != nil {
			out = append(out, db.ScheduledTask{ID: t.ID, ScheduledAt: *t.ScheduledAt})
		}
	}
	return out, nil
}

func (g *fakeGateway) ListPendingASAP(ctx context.Context) ([]uuid.UUID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []uuid.UUID
	for _, t := range g.tasks {
		if t.Status == task.StatusPending && (t.ScheduledAt == nil || !t.ScheduledAt.After(time.Now())) {
			out = append(out, t.ID)
		}
	}
	return out, nil
}

func (g *fakeGateway) AssignTask(ctx context.Context, taskID, workerID uuid.UUID) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.assignErr != nil {
		return false, g.assignErr
	}
	t, ok := g.tasks[taskID]
	if !ok || t.Status != task.StatusPending {
		return false, nil
	}
	t.Status = task.StatusDispatched
	t.WorkerID = uuid.NullUUID{UUID: workerID, Valid: true}
	g.assignedTo[taskID] = workerID
	return true, nil
}

func (g *fakeGateway) GetTask(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (g *fakeGateway) Subscribe(ctx context.Context, channel string) (db.Subscriber, error) {
	return g.sub, nil
}

func (g *fakeGateway) CountInFlight(ctx context.Context) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var n int64
	for _, t := range g.tasks {
		if t.Status == task.StatusDispatched || t.Status == task.StatusRunning {
			n++
		}
	}
	return n, nil
}

func runSupervisor(t *testing.T, gw *fakeGateway) (*Supervisor, context.CancelFunc) {
	t.Helper()
	s := New(gw, Config{HeartbeatInterval: 50 * time.Millisecond, RetryBackoff: 20 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = s.Run(ctx) }()
	return s, cancel
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestSupervisor_AsapDispatchAfterHeartbeat(t *testing.T) {
	gw := newFakeGateway()
	worker := uuid.New()
	taskID := uuid.New()
	gw.addTask(&task.Task{ID: taskID, Status: task.StatusPending})

	s, cancel := runSupervisor(t, gw)
	defer cancel()

	// No workers yet: recovery should have retried it onto the heap.
	time.Sleep(10 * time.Millisecond)

	gw.sub.publish("heartbeat:" + worker.String())

	waitFor(t, time.Second, func() bool {
		gw.mu.Lock()
		defer gw.mu.Unlock()
		return gw.assignedTo[taskID] == worker
	})
	_ = s
}

func TestSupervisor_NewTaskDispatchedImmediately(t *testing.T) {
	gw := newFakeGateway()
	worker := uuid.New()

	_, cancel := runSupervisor(t, gw)
	defer cancel()

	gw.sub.publish("heartbeat:" + worker.String())
	time.Sleep(10 * time.Millisecond)

	taskID := uuid.New()
	gw.addTask(&task.Task{ID: taskID, Status: task.StatusPending})
	gw.sub.publish("new_task:" + taskID.String())

	waitFor(t, time.Second, func() bool {
		gw.mu.Lock()
		defer gw.mu.Unlock()
		return gw.assignedTo[taskID] == worker
	})
}

func TestSupervisor_DeferredTaskWaitsUntilDue(t *testing.T) {
	gw := newFakeGateway()
	worker := uuid.New()

	_, cancel := runSupervisor(t, gw)
	defer cancel()

	gw.sub.publish("heartbeat:" + worker.String())
	time.Sleep(10 * time.Millisecond)

	future := time.Now().Add(150 * time.Millisecond)
	taskID := uuid.New()
	gw.addTask(&task.Task{ID: taskID, Status: task.StatusPending, ScheduledAt: &future})
	gw.sub.publish("new_task:" + taskID.String())

	time.Sleep(50 * time.Millisecond)
	gw.mu.Lock()
	_, dispatchedEarly := gw.assignedTo[taskID]
	gw.mu.Unlock()
	if dispatchedEarly {
		t.Fatal("deferred task was dispatched before its scheduled_at")
	}

	waitFor(t, time.Second, func() bool {
		gw.mu.Lock()
		defer gw.mu.Unlock()
		return gw.assignedTo[taskID] == worker
	})
}
