package status

import "testing"

func TestCanTransition_HappyPath(t *testing.T) {
	path := []Status{StatusPending, StatusPaid, StatusShipped, StatusDelivered}
	for i := 0; i < len(path)-1; i++ {
		if !CanTransition(path[i], path[i+1]) {
			t.Errorf("Expected %s -> %s to be allowed", path[i], path[i+1])
		}
	}
}

func TestCanTransition_NoSelfTransition(t *testing.T) {
	all := []Status{
		StatusPending, StatusProcessing, StatusPaid, StatusShipped,
		StatusDelivered, StatusCancelled, StatusRefunded,
	}
	for _, s := range all {
		if CanTransition(s, s) {
			t.Errorf("Self-transition %s -> %s must be rejected", s, s)
		}
	}
}

func TestCanTransition_TerminalStates(t *testing.T) {
	all := []Status{
		StatusPending, StatusProcessing, StatusPaid, StatusShipped,
		StatusDelivered, StatusCancelled, StatusRefunded,
	}
	for _, from := range all {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range all {
			allowed := CanTransition(from, to)
			// The only legal exits from a terminal state are the
			// explicit refund edges.
			wantAllowed := (from == StatusDelivered || from == StatusCancelled) && to == StatusRefunded
			if allowed != wantAllowed {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, allowed, wantAllowed)
			}
		}
	}
}

func TestCanTransition_RejectsBackwardsMoves(t *testing.T) {
	cases := []struct{ from, to Status }{
		{StatusDelivered, StatusProcessing},
		{StatusShipped, StatusPending},
		{StatusRefunded, StatusPending},
		{StatusRefunded, StatusRefunded},
		{StatusCancelled, StatusShipped},
	}
	for _, c := range cases {
		if CanTransition(c.from, c.to) {
			t.Errorf("Expected %s -> %s to be rejected", c.from, c.to)
		}
	}
}

func TestCanTransition_UnknownStatus(t *testing.T) {
	if CanTransition(Status("bogus"), StatusPaid) {
		t.Error("Unknown source status must never transition")
	}
}

func TestAllowedTransitions_CopiesTable(t *testing.T) {
	got := AllowedTransitions(StatusPending)
	if len(got) == 0 {
		t.Fatal("Expected outgoing transitions from pending")
	}
	got[0] = Status("mutated")
	if AllowedTransitions(StatusPending)[0] == Status("mutated") {
		t.Error("AllowedTransitions must not expose the internal table")
	}
}

func TestStatusValid(t *testing.T) {
	if !StatusShipped.Valid() {
		t.Error("shipped should be valid")
	}
	if Status("unknown").Valid() {
		t.Error("unknown status should be invalid")
	}
}
