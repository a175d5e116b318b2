package license

import "time"

// Clock returns the local wall-clock time
type Clock func() time.Time

// Evaluator decides whether an expiry instant has passed.
// The authority's time, when supplied, takes precedence over the local clock
// so that rolling the local clock back cannot extend a session.
type Evaluator struct {
	now Clock
}

// NewEvaluator creates an Evaluator. A nil clock uses time.Now.
func NewEvaluator(now Clock) *Evaluator {
	if now == nil {
		now = time.Now
	}
	return &Evaluator{now: now}
}

// Evaluate returns expiresAt when now < expiresAt, and ErrAlreadyExpired otherwise.
// Both values are Unix seconds; the boundary is strict.
func (e *Evaluator) Evaluate(expiresAt int64, serverTime *int64) (int64, error) {
	now := e.Now(serverTime)
	if now >= expiresAt {
		return 0, newError(KindAlreadyExpired, MsgAlreadyExpired, nil)
	}
	return expiresAt, nil
}

// Now returns the authoritative current time in Unix seconds
func (e *Evaluator) Now(serverTime *int64) int64 {
	if serverTime != nil {
		return *serverTime
	}
	return e.now().Unix()
}

// Remaining returns how long the session has left, or zero once expired
func (e *Evaluator) Remaining(expiresAt int64, serverTime *int64) time.Duration {
	left := expiresAt - e.Now(serverTime)
	if left <= 0 {
		return 0
	}
	return time.Duration(left) * time.Second
}
