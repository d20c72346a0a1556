package model

import "time"

const (
	StatePending    = "pending"
	StateProcessing = "processing"
	StateCompleted  = "completed"
	StateFailed     = "failed" // reported by status, never assigned
	StateDead       = "dead"
)

// DefaultMaxRetries is the attempt ceiling used when a submission omits max_retries.
const DefaultMaxRetries = 3

// States lists every state reported by status, in display order.
var States = []string{StatePending, StateProcessing, StateCompleted, StateFailed, StateDead}

// Job is the persisted job record. The JSON field set is the contract
// consumed by list and status tooling.
type Job struct {
	ID            string     `json:"id"`
	Command       string     `json:"command"`
	State         string     `json:"state"`
	Attempts      int        `json:"attempts"`
	MaxRetries    int        `json:"max_retries"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	NextAttemptAt *time.Time `json:"next_attempt_at"`
	Output        *string    `json:"output"`
}

// OutputText returns the captured output or "" when none was recorded.
func (j *Job) OutputText() string {
	if j.Output == nil {
		return ""
	}
	return *j.Output
}

// Stats is the per-state job count produced for status reporting.
type Stats struct {
	Pending       int `json:"pending"`
	Processing    int `json:"processing"`
	Completed     int `json:"completed"`
	Failed        int `json:"failed"`
	Dead          int `json:"dead"`
	ActiveWorkers int `json:"active_workers"`
}

// Add records count jobs in state. Unknown states are ignored.
func (s *Stats) Add(state string, count int) {
	switch state {
	case StatePending:
		s.Pending += count
	case StateProcessing:
		s.Processing += count
		s.ActiveWorkers += count
	case StateCompleted:
		s.Completed += count
	case StateFailed:
		s.Failed += count
	case StateDead:
		s.Dead += count
	}
}
