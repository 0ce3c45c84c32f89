package delivery

import "time"

// Defaults for the retry schedule. Webhook consumers expect delivery to
// resolve within minutes, so this is a short bounded schedule rather than
// unbounded exponential backoff.
var defaultSchedule = []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}

const defaultMaxAttempts = 3

// Policy maps an attempt count to the delay before the next retry and to
// a terminal/continue decision. It is a pure function of its fields.
type Policy struct {
	Schedule    []time.Duration
	MaxAttempts int
}

// DefaultPolicy returns the 60s/300s/900s schedule with a ceiling of
// three attempts.
func DefaultPolicy() Policy {
	return Policy{Schedule: defaultSchedule, MaxAttempts: defaultMaxAttempts}
}

// Next returns the delay before the retry following the given number of
// attempts so far. ok is false once the attempt ceiling is reached, which
// means no further retry is scheduled.
func (p Policy) Next(attempts int) (delay time.Duration, ok bool) {
	if attempts >= p.MaxAttempts || len(p.Schedule) == 0 {
		return 0, false
	}
	idx := attempts
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.Schedule) {
		idx = len(p.Schedule) - 1
	}
	return p.Schedule[idx], true
}
