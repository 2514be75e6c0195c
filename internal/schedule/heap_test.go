package schedule

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestHeap_PopDue_OrderedByFireTime(t *testing.T) {
	h := New()
	base := time.Now()

	idLate := uuid.New()
	idEarly := uuid.New()
	idMid := uuid.New()

	h.Push(Entry{FireTime: base.Add(3 * time.Second), TaskID: idLate})
	h.Push(Entry{FireTime: base.Add(1 * time.Second), TaskID: idEarly})
	h.Push(Entry{FireTime: base.Add(2 * time.Second), TaskID: idMid})

	due := h.PopDue(base.Add(10 * time.Second))
	if len(due) != 3 {
		t.Fatalf("PopDue() returned %d entries, want 3", len(due))
	}
	if due[0].TaskID != idEarly || due[1].TaskID != idMid || due[2].TaskID != idLate {
		t.Errorf("PopDue() order = %v, %v, %v; want early, mid, late", due[0].TaskID, due[1].TaskID, due[2].TaskID)
	}
}

func TestHeap_PopDue_OnlyDueEntries(t *testing.T) {
	h := New()
	now := time.Now()

	h.Push(Entry{FireTime: now.Add(-time.Second), TaskID: uuid.New()})
	future := Entry{FireTime: now.Add(time.Hour), TaskID: uuid.New()}
	h.Push(future)

	due := h.PopDue(now)
	if len(due) != 1 {
		t.Fatalf("PopDue() returned %d entries, want 1", len(due))
	}
	if h.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (future entry should remain)", h.Len())
	}

	peek, ok := h.Peek()
	if !ok || peek.TaskID != future.TaskID {
		t.Errorf("Peek() = %v, want the remaining future entry", peek)
	}
}

func TestHeap_TieBreakByTaskIDBytes(t *testing.T) {
	h := New()
	same := time.Now()

	idHigh := uuid.MustParse("ffffffff-ffff-ffff-ffff-ffffffffffff")
	idLow := uuid.MustParse("00000000-0000-0000-0000-000000000000")

	h.Push(Entry{FireTime: same, TaskID: idHigh})
	h.Push(Entry{FireTime: same, TaskID: idLow})

	due := h.PopDue(same)
	if len(due) != 2 {
		t.Fatalf("PopDue() returned %d entries, want 2", len(due))
	}
	if due[0].TaskID != idLow {
		t.Errorf("tie-break order = %v first, want lower task id first", due[0].TaskID)
	}
}

func TestHeap_EmptyPeek(t *testing.T) {
	h := New()
	if _, ok := h.Peek(); ok {
		t.Error("Peek() on empty heap should return false")
	}
}
