package workitem

// transitions encodes the legal status walk of §3.4. Same-state writes are
// always legal and are not listed explicitly; callers check that case
// first in CanTransition.
var transitions = map[Status][]Status{
	StatusBacklog:     {StatusReady, StatusInProgress, StatusCancelled, StatusOnHold},
	StatusReady:       {StatusInProgress, StatusCancelled, StatusOnHold},
	StatusInProgress:  {StatusCompleted, StatusFailed, StatusBlocked, StatusOnHold, StatusCancelled, StatusUnderReview},
	StatusBlocked:     {StatusInProgress, StatusCancelled, StatusOnHold},
	StatusOnHold:      {StatusInProgress, StatusReady, StatusCancelled},
	StatusUnderReview: {StatusApproved, StatusRejected, StatusInProgress, StatusCancelled},
	StatusApproved:    {StatusCompleted, StatusInProgress},
	StatusRejected:    {StatusInProgress, StatusCancelled},
	StatusCompleted:   {StatusInProgress},
	StatusFailed:      {StatusInProgress, StatusCancelled},
	StatusCancelled:   {StatusBacklog, StatusInProgress},
}

// CanTransition reports whether from -> to is a legal edge in the §3.4
// state machine. Same-state writes are always legal.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// Reopening reports whether from -> to reopens a terminal state. Callers
// use this to emit a warning (permitted, not rejected) per §3.4.
func Reopening(from, to Status) bool {
	return from.Terminal() && to == StatusInProgress
}
