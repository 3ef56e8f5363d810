package metrics

import (
	"sync"
	"time"

	"market-dashboard-api/internal/models"
)

type serviceCounters struct {
	totalRequests      int64
	successfulRequests int64
	failedRequests     int64
	totalResponseTime  time.Duration
	lastRequestTime    time.Time
}

// Tracker accumulates per-service request counters. Only the orchestrator
// writes to it; everything else reads snapshots.
type Tracker struct {
	countersMutex sync.Mutex
	counters      map[string]*serviceCounters
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{
		counters: make(map[string]*serviceCounters),
	}
}

// Record registers a completed call and its duration
func (tracker *Tracker) Record(serviceName string, success bool, elapsed time.Duration) {
	tracker.countersMutex.Lock()
	defer tracker.countersMutex.Unlock()

	counters := tracker.countersLocked(serviceName)
	counters.totalRequests++
	counters.lastRequestTime = time.Now()

	if success {
		counters.successfulRequests++
		counters.totalResponseTime += elapsed
	} else {
		counters.failedRequests++
	}
}

// RecordRejected registers a call the circuit rejected without running it.
// It counts as a failure but contributes no timing.
func (tracker *Tracker) RecordRejected(serviceName string) {
	tracker.Record(serviceName, false, 0)
}

// Snapshot returns the current counters for every service
func (tracker *Tracker) Snapshot() map[string]models.ServiceMetrics {
	tracker.countersMutex.Lock()
	defer tracker.countersMutex.Unlock()

	snapshot := make(map[string]models.ServiceMetrics, len(tracker.counters))
	for serviceName, counters := range tracker.counters {
		metrics := models.ServiceMetrics{
			TotalRequests:      counters.totalRequests,
			SuccessfulRequests: counters.successfulRequests,
			FailedRequests:     counters.failedRequests,
			LastRequestTime:    counters.lastRequestTime,
		}
		if counters.successfulRequests > 0 {
			metrics.AvgResponseTime = counters.totalResponseTime / time.Duration(counters.successfulRequests)
		}
		snapshot[serviceName] = metrics
	}
	return snapshot
}

func (tracker *Tracker) countersLocked(serviceName string) *serviceCounters {
	counters, ok := tracker.counters[serviceName]
	if !ok {
		counters = &serviceCounters{}
		tracker.counters[serviceName] = counters
	}
	return counters
}
