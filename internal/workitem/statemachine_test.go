package workitem

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusBacklog, StatusReady, true},
		{StatusBacklog, StatusCompleted, false},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusUnderReview, true},
		{StatusUnderReview, StatusApproved, true},
		{StatusApproved, StatusCompleted, true},
		{StatusCompleted, StatusInProgress, true},
		{StatusCompleted, StatusReady, false},
		{StatusCancelled, StatusBacklog, true},
		{StatusCancelled, StatusCompleted, false},
		{StatusInProgress, StatusInProgress, true}, // same-state always legal
	}

	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestReopening(t *testing.T) {
	if !Reopening(StatusCompleted, StatusInProgress) {
		t.Error("expected reopening from completed to in_progress")
	}
	if Reopening(StatusBacklog, StatusInProgress) {
		t.Error("did not expect reopening from a non-terminal state")
	}
}
