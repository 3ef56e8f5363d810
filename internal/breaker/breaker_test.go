package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"market-dashboard-api/internal/testutils"
)

var errUpstream = errors.New("upstream failed")

func failingOperation(context.Context) error { return errUpstream }

func succeedingOperation(context.Context) error { return nil }

func TestNew(t *testing.T) {
	b := New("stocks", 5, time.Minute, testutils.MockLogger())

	if b == nil {
		t.Fatal("New() returned nil")
	}
	if b.State() != StateClosed {
		t.Errorf("New() state = %s, want %s", b.State(), StateClosed)
	}
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := New("stocks", 3, time.Minute, testutils.MockLogger())
	ctx := testutils.MockContext()

	for i := 0; i < 2; i++ {
		if err := b.Do(ctx, failingOperation); !errors.Is(err, errUpstream) {
			t.Fatalf("Do() failure %d = %v, want upstream error", i, err)
		}
		if b.State() != StateClosed {
			t.Fatalf("state after %d failures = %s, want %s", i+1, b.State(), StateClosed)
		}
	}

	if err := b.Do(ctx, failingOperation); !errors.Is(err, errUpstream) {
		t.Fatalf("Do() third failure = %v, want upstream error", err)
	}
	if b.State() != StateOpen {
		t.Errorf("state after threshold failures = %s, want %s", b.State(), StateOpen)
	}
}

func TestBreaker_OpenRejectsWithoutInvoking(t *testing.T) {
	b := New("stocks", 1, time.Minute, testutils.MockLogger())
	ctx := testutils.MockContext()

	b.Do(ctx, failingOperation)
	if b.State() != StateOpen {
		t.Fatalf("state = %s, want %s", b.State(), StateOpen)
	}

	invoked := false
	err := b.Do(ctx, func(context.Context) error {
		invoked = true
		return nil
	})

	if !errors.Is(err, ErrOpen) {
		t.Errorf("Do() while open = %v, want ErrOpen", err)
	}
	if invoked {
		t.Error("operation invoked while circuit open")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New("stocks", 3, time.Minute, testutils.MockLogger())
	ctx := testutils.MockContext()

	b.Do(ctx, failingOperation)
	b.Do(ctx, failingOperation)
	b.Do(ctx, succeedingOperation)

	// the two earlier failures no longer count toward the threshold
	b.Do(ctx, failingOperation)
	b.Do(ctx, failingOperation)
	if b.State() != StateClosed {
		t.Errorf("state = %s, want %s after counter reset", b.State(), StateClosed)
	}
}

func TestBreaker_ProbeAfterResetTimeout(t *testing.T) {
	tests := []struct {
		name      string
		probe     func(context.Context) error
		wantState State
	}{
		{name: "probe success closes", probe: succeedingOperation, wantState: StateClosed},
		{name: "probe failure reopens", probe: failingOperation, wantState: StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("stocks", 1, 30*time.Millisecond, testutils.MockLogger())
			ctx := testutils.MockContext()

			b.Do(ctx, failingOperation)
			if b.State() != StateOpen {
				t.Fatalf("state = %s, want %s", b.State(), StateOpen)
			}

			// before the reset timeout the circuit still rejects
			if err := b.Do(ctx, tt.probe); !errors.Is(err, ErrOpen) {
				t.Fatalf("Do() before reset timeout = %v, want ErrOpen", err)
			}

			time.Sleep(40 * time.Millisecond)

			invoked := false
			b.Do(ctx, func(ctx context.Context) error {
				invoked = true
				return tt.probe(ctx)
			})

			if !invoked {
				t.Error("probe not invoked after reset timeout")
			}
			if b.State() != tt.wantState {
				t.Errorf("state after probe = %s, want %s", b.State(), tt.wantState)
			}
		})
	}
}

func TestBreaker_ReopenedCircuitRejectsAgain(t *testing.T) {
	b := New("stocks", 1, 30*time.Millisecond, testutils.MockLogger())
	ctx := testutils.MockContext()

	b.Do(ctx, failingOperation)
	time.Sleep(40 * time.Millisecond)
	b.Do(ctx, failingOperation) // failed probe

	// a failed probe re-arms the full reset timeout
	if err := b.Do(ctx, succeedingOperation); !errors.Is(err, ErrOpen) {
		t.Errorf("Do() right after failed probe = %v, want ErrOpen", err)
	}
}

func TestBreaker_AllowRecordResult(t *testing.T) {
	b := New("stocks", 2, time.Minute, testutils.MockLogger())

	if !b.Allow() {
		t.Fatal("Allow() = false for closed circuit")
	}
	b.RecordResult(errUpstream)
	b.RecordResult(errUpstream)

	if b.Allow() {
		t.Error("Allow() = true for open circuit")
	}
}

func TestBreaker_Snapshot(t *testing.T) {
	b := New("cryptos", 2, time.Minute, testutils.MockLogger())
	ctx := testutils.MockContext()

	b.Do(ctx, failingOperation)
	snapshot := b.Snapshot()

	if snapshot.Service != "cryptos" {
		t.Errorf("Snapshot().Service = %s, want cryptos", snapshot.Service)
	}
	if snapshot.State != string(StateClosed) {
		t.Errorf("Snapshot().State = %s, want %s", snapshot.State, StateClosed)
	}
	if snapshot.FailureCount != 1 {
		t.Errorf("Snapshot().FailureCount = %d, want 1", snapshot.FailureCount)
	}
	if snapshot.FailureThreshold != 2 {
		t.Errorf("Snapshot().FailureThreshold = %d, want 2", snapshot.FailureThreshold)
	}
	if snapshot.LastFailureAt.IsZero() {
		t.Error("Snapshot().LastFailureAt is zero after a failure")
	}
}
