package resilience

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// CircuitState mirrors gobreaker's three states.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
	CircuitOpen     CircuitState = "OPEN"
)

// CircuitConfig holds circuit breaker configuration.
type CircuitConfig struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

// DefaultCircuitConfig returns sensible defaults for the database breaker.
func DefaultCircuitConfig() CircuitConfig {
	return CircuitConfig{
		MaxRequests:  3,
		Interval:     10 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.6,
		MinRequests:  5,
	}
}

// DBBreaker guards the shared database connection. Unlike the teacher's
// per-worker breakers, FCS has exactly one shared mutable resource (the
// database, per spec.md §5), so there is exactly one breaker.
type DBBreaker struct {
	cb       *gobreaker.CircuitBreaker
	onChange func(from, to CircuitState)
}

// NewDBBreaker creates a new database circuit breaker.
func NewDBBreaker(cfg CircuitConfig) *DBBreaker {
	d := &DBBreaker{}

	settings := gobreaker.Settings{
		Name:        "database",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromState := gobreakerStateToCircuitState(from)
			toState := gobreakerStateToCircuitState(to)
			log.Warn().Str("from", string(fromState)).Str("to", string(toState)).Msg("database circuit breaker state change")
			if d.onChange != nil {
				d.onChange(fromState, toState)
			}
		},
	}

	d.cb = gobreaker.NewCircuitBreaker(settings)
	return d
}

// OnStateChange sets a callback invoked whenever the breaker state changes.
func (d *DBBreaker) OnStateChange(fn func(from, to CircuitState)) {
	d.onChange = fn
}

// Execute wraps a database call with circuit breaker protection.
func (d *DBBreaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	return d.cb.Execute(fn)
}

// State returns the current breaker state.
func (d *DBBreaker) State() CircuitState {
	return gobreakerStateToCircuitState(d.cb.State())
}

func gobreakerStateToCircuitState(state gobreaker.State) CircuitState {
	switch state {
	case gobreaker.StateClosed:
		return CircuitClosed
	case gobreaker.StateHalfOpen:
		return CircuitHalfOpen
	case gobreaker.StateOpen:
		return CircuitOpen
	default:
		return CircuitClosed
	}
}
