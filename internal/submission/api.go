package submission

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/churroqueue/fcs/internal/task"
)

// TaskView is the JSON representation of a task returned by the submission
// endpoints.
type TaskView struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	WorkerID    string     `json:"worker_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

func newTaskView(t *task.Task) *TaskView {
	v := &TaskView{
		ID:          t.ID.String(),
		Status:      string(t.Status),
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		ScheduledAt: t.ScheduledAt,
	}
	if t.WorkerID.Valid {
		v.WorkerID = t.WorkerID.UUID.String()
	}
	return v
}

// Stats summarizes task counts by lifecycle status.
type Stats struct {
	Pending     int64 `json:"pending"`
	Dispatched  int64 `json:"dispatched"`
	Running     int64 `json:"running"`
	Succeeded   int64 `json:"succeeded"`
	Failed      int64 `json:"failed"`
	Interrupted int64 `json:"interrupted"`
	Timestamp   int64 `json:"timestamp"`
}

func computeStats(tasks []*task.Task) *Stats {
	s := &Stats{Timestamp: time.Now().Unix()}
	for _, t := range tasks {
		switch t.Status {
		case task.StatusPending:
			s.Pending++
		case task.StatusDispatched:
			s.Dispatched++
		case task.StatusRunning:
			s.Running++
		case task.StatusSucceeded:
			s.Succeeded++
		case task.StatusFailed:
			s.Failed++
		case task.StatusInterrupted:
			s.Interrupted++
		}
	}
	return s
}

// handleSubmit implements POST /tasks.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req task.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	if err := task.ValidateSubmitRequest(&req, time.Now()); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := s.gw.CreateTask(r.Context(), req.Def, req.ScheduledAt)
	if err != nil {
		http.Error(w, "failed to create task", http.StatusInternalServerError)
		return
	}

	s.hub.BroadcastTaskSubmitted(id.String())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"id": id.String()})
}

// handleList implements GET /tasks.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tasks, err := s.gw.ListTasks(r.Context())
	if err != nil {
		http.Error(w, "failed to list tasks", http.StatusInternalServerError)
		return
	}

	views := make([]*TaskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, newTaskView(t))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"tasks": views,
		"count": len(views),
	})
}

// handleGet implements GET /tasks/{id}.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	parsedID, err := parseUUID(id)
	if err != nil {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return
	}

	t, err := s.gw.GetTask(r.Context(), parsedID)
	if err != nil {
		if isNotFound(err) {
			http.Error(w, "task not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to fetch task", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(newTaskView(t))
}

// handleStats implements GET /stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tasks, err := s.gw.ListTasks(r.Context())
	if err != nil {
		http.Error(w, "failed to compute stats", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(computeStats(tasks))
}
