package crawler

import "net/http"

// Classify maps a remote HTTP status to an Outcome. Transport failures never
// reach here; callers record them as OutcomeOtherFailure directly.
func Classify(statusCode int) Outcome {
	switch statusCode {
	case http.StatusOK:
		return OutcomeSuccess
	case http.StatusTooManyRequests:
		return OutcomeRateLimited
	case http.StatusGone:
		return OutcomeGone
	default:
		return OutcomeOtherFailure
	}
}

// Requeue reports whether an attempt with this outcome puts its target back
// on the queue. Gone targets are dead-lettered: the remote declared them
// permanently unavailable.
func (o Outcome) Requeue() bool {
	return o == OutcomeRateLimited
}

// Terminal reports whether the outcome ends the target's lifecycle.
func (o Outcome) Terminal() bool {
	return o != OutcomeUnresolved && !o.Requeue()
}
