package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"connection exception", &pgconn.PgError{Code: "08006"}, true},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"unknown error", errors.New("boom"), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestRetry_StopsOnNonRetryable(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), DefaultRetryConfig(), func() error {
		attempts++
		return &pgconn.PgError{Code: "23505"}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt for a non-retryable error, got %d", attempts)
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	cfg := DefaultRetryConfig()
	cfg.InitialInterval = time.Millisecond
	cfg.MaxInterval = 5 * time.Millisecond

	err := Retry(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return &pgconn.PgError{Code: "08006"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestDBBreaker_OpensAfterFailures(t *testing.T) {
	cfg := DefaultCircuitConfig()
	cfg.MinRequests = 2
	cfg.FailureRatio = 0.5
	cfg.Timeout = 10 * time.Millisecond

	var transitions []CircuitState
	b := NewDBBreaker(cfg)
	b.OnStateChange(func(_, to CircuitState) {
		transitions = append(transitions, to)
	})

	fails := func() { b.Execute(func() (interface{}, error) { return nil, errors.New("db down") }) }
	fails()
	fails()

	if b.State() != CircuitOpen {
		t.Fatalf("expected breaker to be open after repeated failures, got %s", b.State())
	}
	if len(transitions) == 0 || transitions[len(transitions)-1] != CircuitOpen {
		t.Errorf("expected OnStateChange to observe CircuitOpen, got %v", transitions)
	}
}
