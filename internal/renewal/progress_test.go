package renewal

import (
	"sync"
	"testing"
)

func TestProgressTrackerRegister(t *testing.T) {
	tracker := NewProgressTracker()

	state, err := tracker.Register("cert-1", "attempt-1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if state.CurrentState != StateRunning {
		t.Errorf("CurrentState = %s, want %s", state.CurrentState, StateRunning)
	}
	if state.AttemptID != "attempt-1" {
		t.Errorf("AttemptID = %s, want attempt-1", state.AttemptID)
	}

	// A second attempt for the same certificate must be rejected while the
	// first is still in flight
	if _, err := tracker.Register("cert-1", "attempt-2"); err == nil {
		t.Error("duplicate Register should fail")
	}

	// A different certificate is unaffected
	if _, err := tracker.Register("cert-2", "attempt-3"); err != nil {
		t.Errorf("Register for unrelated certificate: %v", err)
	}
}

func TestProgressTrackerReleaseAllowsNextAttempt(t *testing.T) {
	tracker := NewProgressTracker()

	if _, err := tracker.Register("cert-1", "attempt-1"); err != nil {
		t.Fatal(err)
	}
	tracker.Release("cert-1")

	if _, err := tracker.Register("cert-1", "attempt-2"); err != nil {
		t.Errorf("Register after Release: %v", err)
	}
}

func TestProgressTrackerUpdateAndGet(t *testing.T) {
	tracker := NewProgressTracker()
	if _, err := tracker.Register("cert-1", "attempt-1"); err != nil {
		t.Fatal(err)
	}

	updated, ok := tracker.Update("cert-1", StateSuccess, "certificate issued")
	if !ok {
		t.Fatal("Update should find the tracked state")
	}
	if updated.CurrentState != StateSuccess || updated.Message != "certificate issued" {
		t.Errorf("unexpected state after update: %+v", updated)
	}
	if !updated.IsTerminal() {
		t.Error("success state should be terminal")
	}

	got, ok := tracker.Get("cert-1")
	if !ok {
		t.Fatal("Get should find the tracked state")
	}
	if got.CurrentState != StateSuccess {
		t.Errorf("Get returned %s, want %s", got.CurrentState, StateSuccess)
	}

	if _, ok := tracker.Update("cert-missing", StateError, "x"); ok {
		t.Error("Update for unknown certificate should report false")
	}
	if _, ok := tracker.Get("cert-missing"); ok {
		t.Error("Get for unknown certificate should report false")
	}
}

func TestProgressTrackerRunning(t *testing.T) {
	tracker := NewProgressTracker()
	for _, id := range []string{"cert-1", "cert-2", "cert-3"} {
		if _, err := tracker.Register(id, "attempt-"+id); err != nil {
			t.Fatal(err)
		}
	}
	tracker.Release("cert-2")

	running := tracker.Running()
	if len(running) != 2 {
		t.Fatalf("Running returned %d ids, want 2", len(running))
	}
	for _, id := range running {
		if id == "cert-2" {
			t.Error("released certificate still listed as running")
		}
	}
}

func TestProgressTrackerConcurrentRegister(t *testing.T) {
	tracker := NewProgressTracker()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tracker.Register("cert-1", "attempt")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var won int
	for err := range errs {
		if err == nil {
			won++
		}
	}
	if won != 1 {
		t.Errorf("%d goroutines registered cert-1, want exactly 1", won)
	}
}

func TestProgressStateIsTerminal(t *testing.T) {
	tests := []struct {
		state string
		want  bool
	}{
		{StateRunning, false},
		{StateNotRunning, false},
		{StateWarning, false},
		{StateSuccess, true},
		{StateError, true},
	}
	for _, tt := range tests {
		s := RequestProgressState{CurrentState: tt.state}
		if got := s.IsTerminal(); got != tt.want {
			t.Errorf("IsTerminal(%s) = %v, want %v", tt.state, got, tt.want)
		}
	}
}
