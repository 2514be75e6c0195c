package task

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	// MaxDefBytes bounds the size of a task's opaque definition payload.
	MaxDefBytes = 256 * 1024

	// MaxScheduleHorizon bounds how far into the future scheduled_at may be.
	MaxScheduleHorizon = 365 * 24 * time.Hour
)

// Error represents a single field validation failure.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// MultiError collects multiple validation errors.
type MultiError struct {
	Errors []*Error
}

func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}
	return fmt.Sprintf("%s (and %d more errors)", m.Errors[0].Error(), len(m.Errors)-1)
}

func (m *MultiError) Add(field, message string) {
	m.Errors = append(m.Errors, &Error{Field: field, Message: message})
}

func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

func (m *MultiError) ToError() error {
	if !m.HasErrors() {
		return nil
	}
	return m
}

// SubmitRequest is the JSON body accepted by POST /tasks.
type SubmitRequest struct {
	Def         json.RawMessage `json:"def"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
}

// ValidateSubmitRequest validates a task submission request. scheduled_at in
// the past is explicitly allowed — per spec it dispatches immediately.
func ValidateSubmitRequest(req *SubmitRequest, now time.Time) error {
	errs := &MultiError{}

	if len(req.Def) == 0 || string(req.Def) == "null" {
		errs.Add("def", "required")
	} else if len(req.Def) > MaxDefBytes {
		errs.Add("def", fmt.Sprintf("must be <= %d bytes", MaxDefBytes))
	} else if !json.Valid(req.Def) {
		errs.Add("def", "must be valid JSON")
	}

	if req.ScheduledAt != nil && req.ScheduledAt.After(now.Add(MaxScheduleHorizon)) {
		errs.Add("scheduled_at", fmt.Sprintf("must be within %s", MaxScheduleHorizon))
	}

	return errs.ToError()
}
