// Package retry computes the backoff schedule and dead-letter decision for
// failed jobs. Everything here is pure and safe for concurrent use.
package retry

import (
	"math"
	"time"

	"github.com/pranav1703/queuectl/internal/model"
)

// maxDelay is the largest representable delay. Delay saturates here rather
// than overflowing into a negative duration.
const maxDelay = time.Duration(math.MaxInt64)

// Delay returns base^attempts seconds. There is no jitter and no cap.
func Delay(attempts int, base float64) time.Duration {
	secs := math.Pow(base, float64(attempts))
	if math.IsNaN(secs) || secs < 0 {
		return 0
	}
	ns := secs * float64(time.Second)
	if ns >= float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(ns)
}

// Exhausted reports whether a job with the given post-failure attempt count
// must be dead-lettered.
func Exhausted(attempts, maxRetries int) bool {
	return attempts >= maxRetries
}

// Outcome is the state a job moves to after a failed execution.
type Outcome struct {
	Attempts      int
	State         string
	NextAttemptAt *time.Time // nil when dead-lettered
	Delay         time.Duration
}

// Next computes the failure transition for the claimed snapshot j. The
// attempt count is taken from j, not re-read from storage.
func Next(j *model.Job, base float64, now time.Time) Outcome {
	attempts := j.Attempts + 1
	if Exhausted(attempts, j.MaxRetries) {
		return Outcome{Attempts: attempts, State: model.StateDead}
	}
	d := Delay(attempts, base)
	next := now.Add(d)
	return Outcome{
		Attempts:      attempts,
		State:         model.StatePending,
		NextAttemptAt: &next,
		Delay:         d,
	}
}
