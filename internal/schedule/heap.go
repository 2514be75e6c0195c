// Package schedule is the supervisor's in-memory min-heap of deferred
// tasks (spec.md §3, §4.3): (fire_time, task_id) pairs ordered by ascending
// fire_time, ties broken by task_id byte order. It is rebuilt from the
// database at supervisor startup and never persisted directly.
package schedule

import (
	"bytes"
	"container/heap"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is a single scheduled task awaiting dispatch.
type Entry struct {
	FireTime time.Time
	TaskID   uuid.UUID
}

type entryHeap []Entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if !h[i].FireTime.Equal(h[j].FireTime) {
		return h[i].FireTime.Before(h[j].FireTime)
	}
	return bytes.Compare(h[i].TaskID[:], h[j].TaskID[:]) < 0
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(Entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Heap is a concurrency-safe wrapper around the min-heap. The supervisor's
// driver goroutine is its only caller today.
type Heap struct {
	mu sync.Mutex
	h  entryHeap
}

// New returns an empty Heap.
func New() *Heap {
	h := &Heap{h: make(entryHeap, 0)}
	heap.Init(&h.h)
	return h
}

// Push adds an entry.
func (s *Heap) Push(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	heap.Push(&s.h, e)
}

// Peek returns the earliest entry without removing it.
func (s *Heap) Peek() (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.h) == 0 {
		return Entry{}, false
	}
	return s.h[0], true
}

// PopDue removes and returns every entry whose FireTime is <= now, in
// ascending (fire_time, task_id) order.
func (s *Heap) PopDue(now time.Time) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Entry
	for len(s.h) > 0 && !s.h[0].FireTime.After(now) {
		due = append(due, heap.Pop(&s.h).(Entry))
	}
	return due
}

// Len returns the number of entries currently queued.
func (s *Heap) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.h)
}
