package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"market-dashboard-api/internal/logger"
	"market-dashboard-api/internal/models"
)

// ErrOpen is returned when the circuit rejects a call without invoking
// the wrapped operation.
var ErrOpen = errors.New("circuit breaker is open")

// State of the circuit
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Breaker is a per-service failure-tracking state machine. Consecutive
// failures at or above the threshold open the circuit; after the reset
// timeout one probe call is allowed through, deciding between closing the
// circuit again and re-opening it.
type Breaker struct {
	serviceName      string
	failureThreshold int
	resetTimeout     time.Duration
	logger           *logger.Logger

	stateMutex    sync.Mutex
	state         State
	failureCount  int
	lastFailureAt time.Time
}

// New creates a closed breaker for the named service
func New(serviceName string, failureThreshold int, resetTimeout time.Duration, log *logger.Logger) *Breaker {
	return &Breaker{
		serviceName:      serviceName,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		logger:           log,
		state:            StateClosed,
	}
}

// Do runs the operation under the breaker. While open it fails fast with
// ErrOpen without invoking the operation; once the reset timeout has
// elapsed the triggering call passes through as the half-open probe.
func (breaker *Breaker) Do(ctx context.Context, operation func(context.Context) error) error {
	if err := breaker.beforeCall(); err != nil {
		return err
	}

	err := operation(ctx)
	breaker.afterCall(err)
	return err
}

// Allow reports whether a call may proceed right now, applying the
// open-to-half-open transition when the reset timeout has elapsed.
// Callers that use Allow directly must report the outcome via RecordResult.
func (breaker *Breaker) Allow() bool {
	return breaker.beforeCall() == nil
}

// RecordResult feeds a call outcome into the state machine
func (breaker *Breaker) RecordResult(err error) {
	breaker.afterCall(err)
}

func (breaker *Breaker) beforeCall() error {
	breaker.stateMutex.Lock()
	defer breaker.stateMutex.Unlock()

	if breaker.state == StateOpen {
		if time.Since(breaker.lastFailureAt) > breaker.resetTimeout {
			breaker.state = StateHalfOpen
			breaker.failureCount = 0
			breaker.logger.Infof("Circuit breaker for %s half-open, allowing probe", breaker.serviceName)
		} else {
			return fmt.Errorf("%w for %s", ErrOpen, breaker.serviceName)
		}
	}
	return nil
}

func (breaker *Breaker) afterCall(err error) {
	breaker.stateMutex.Lock()
	defer breaker.stateMutex.Unlock()

	if err == nil {
		if breaker.state == StateHalfOpen {
			breaker.logger.Infof("Circuit breaker for %s closed after successful probe", breaker.serviceName)
		}
		breaker.state = StateClosed
		breaker.failureCount = 0
		return
	}

	breaker.failureCount++
	breaker.lastFailureAt = time.Now()

	if breaker.state == StateHalfOpen {
		breaker.state = StateOpen
		breaker.logger.Warnf("Circuit breaker for %s re-opened after failed probe", breaker.serviceName)
		return
	}

	if breaker.failureCount >= breaker.failureThreshold {
		breaker.state = StateOpen
		breaker.logger.Warnf("Circuit breaker for %s opened after %d consecutive failures", breaker.serviceName, breaker.failureCount)
	}
}

// State returns the current circuit state
func (breaker *Breaker) State() State {
	breaker.stateMutex.Lock()
	defer breaker.stateMutex.Unlock()
	return breaker.state
}

// Snapshot returns the externally visible circuit state
func (breaker *Breaker) Snapshot() models.CircuitSnapshot {
	breaker.stateMutex.Lock()
	defer breaker.stateMutex.Unlock()

	return models.CircuitSnapshot{
		Service:          breaker.serviceName,
		State:            string(breaker.state),
		FailureCount:     breaker.failureCount,
		FailureThreshold: breaker.failureThreshold,
		LastFailureAt:    breaker.lastFailureAt,
	}
}
