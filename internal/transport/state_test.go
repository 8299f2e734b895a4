package transport

import "testing"

func TestStateTrackerHappyPath(t *testing.T) {
	tr := NewStateTracker()
	if tr.State() != StateDisconnected {
		t.Fatalf("initial state = %q, want disconnected", tr.State())
	}
	for _, next := range []State{StateConnecting, StateConnected, StateListening, StateSpeaking, StateConnected, StateDisconnected} {
		if !tr.Set(next) {
			t.Fatalf("Set(%q) rejected from %q", next, tr.State())
		}
	}
}

func TestStateTrackerRejectsInvalidTransitions(t *testing.T) {
	tr := NewStateTracker()
	if tr.Set(StateSpeaking) {
		t.Fatal("disconnected -> speaking accepted")
	}
	if tr.Set(StateConnected) {
		t.Fatal("disconnected -> connected accepted")
	}

	tr.Set(StateConnecting)
	tr.Set(StateError)
	if tr.Set(StateConnected) {
		t.Fatal("error -> connected accepted")
	}
	if !tr.Set(StateDisconnected) {
		t.Fatal("error -> disconnected rejected")
	}
}

func TestStateTrackerSameStateIsNoOp(t *testing.T) {
	tr := NewStateTracker()
	calls := 0
	tr.OnChange(func(old, next State) { calls++ })

	if tr.Set(StateDisconnected) {
		t.Fatal("same-state transition accepted")
	}
	if calls != 0 {
		t.Fatalf("callback fired %d times for no-op", calls)
	}
}

func TestStateTrackerNotifiesChanges(t *testing.T) {
	tr := NewStateTracker()
	type change struct{ old, next State }
	var seen []change
	tr.OnChange(func(old, next State) { seen = append(seen, change{old, next}) })

	tr.Set(StateConnecting)
	tr.Set(StateConnected)
	tr.Set(StateSpeaking) // refinement of connected

	want := []change{
		{StateDisconnected, StateConnecting},
		{StateConnecting, StateConnected},
		{StateConnected, StateSpeaking},
	}
	if len(seen) != len(want) {
		t.Fatalf("changes = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("change %d = %v, want %v", i, seen[i], want[i])
		}
	}
}

func TestStateTrackerLateCallbackCannotResurrect(t *testing.T) {
	tr := NewStateTracker()
	tr.Set(StateConnecting)
	tr.Set(StateConnected)
	tr.Set(StateDisconnected)

	// A stale provider event arriving after teardown must not flip the
	// client back to an active state.
	if tr.Set(StateSpeaking) {
		t.Fatal("disconnected -> speaking accepted after teardown")
	}
	if tr.State() != StateDisconnected {
		t.Fatalf("state = %q, want disconnected", tr.State())
	}
}
