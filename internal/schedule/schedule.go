// Package schedule holds the pure scheduling rules for send jobs.
// Everything here is a function of its inputs; callers supply the
// current time.
package schedule

import "time"

// RetryBase is the backoff for the first retry.
const RetryBase = 60 * time.Second

// RetryCap bounds the exponential backoff.
const RetryCap = time.Hour

// FirstStepAt returns when step 1 becomes due. A campaign with no start
// time, or a start time already in the past, sends immediately.
func FirstStepAt(startTime *time.Time, now time.Time) time.Time {
	if startTime != nil && startTime.After(now) {
		return startTime.UTC()
	}
	return now.UTC()
}

// NextStepAt returns when a follow-up step becomes due. Follow-ups
// anchor on the previous step's actual send time, not its scheduled
// time, so delivery delays push the whole chain back rather than
// compressing the gap.
func NextStepAt(prevSentAt time.Time, delayMinutes int) time.Time {
	return prevSentAt.UTC().Add(time.Duration(delayMinutes) * time.Minute)
}

// RetryAt returns when a job that just failed its attempts-th send
// attempt should be tried again: 60s doubling per attempt, capped at
// one hour. attempts is 1-based (the attempt that just failed).
func RetryAt(now time.Time, attempts int) time.Time {
	return now.UTC().Add(RetryDelay(attempts))
}

// RetryDelay returns the backoff duration after the attempts-th failure.
func RetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := RetryBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= RetryCap {
			return RetryCap
		}
	}
	if d > RetryCap {
		return RetryCap
	}
	return d
}
