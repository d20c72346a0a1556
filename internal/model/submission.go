package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ValidationError reports a submission rejected before it reaches the store.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid job: %s %s", e.Field, e.Reason)
}

// Submission is the producer-supplied job description.
type Submission struct {
	ID         string `json:"id"`
	Command    string `json:"command"`
	Attempts   *int   `json:"attempts,omitempty"`
	MaxRetries *int   `json:"max_retries,omitempty"`
}

// ParseSubmission decodes a job description from its JSON text. Surrounding
// quotes left over from shell quoting are stripped first.
func ParseSubmission(raw string) (*Submission, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) >= 2 {
		first, last := raw[0], raw[len(raw)-1]
		if (first == '\'' && last == '\'') || (first == '"' && last == '"') {
			raw = raw[1 : len(raw)-1]
		}
	}
	var s Submission
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("invalid job JSON: %w", err)
	}
	return &s, nil
}

// Validate checks the required fields and numeric bounds.
func (s *Submission) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return &ValidationError{Field: "id", Reason: "is required"}
	}
	if strings.TrimSpace(s.Command) == "" {
		return &ValidationError{Field: "command", Reason: "is required"}
	}
	if s.Attempts != nil && *s.Attempts < 0 {
		return &ValidationError{Field: "attempts", Reason: "must be >= 0"}
	}
	if s.MaxRetries != nil && *s.MaxRetries < 1 {
		return &ValidationError{Field: "max_retries", Reason: "must be >= 1"}
	}
	return nil
}

// Job builds the pending job for a validated submission. defaultMaxRetries
// applies when the submission leaves max_retries unset.
func (s *Submission) Job(defaultMaxRetries int) *Job {
	j := &Job{
		ID:         s.ID,
		Command:    s.Command,
		State:      StatePending,
		MaxRetries: defaultMaxRetries,
	}
	if s.Attempts != nil {
		j.Attempts = *s.Attempts
	}
	if s.MaxRetries != nil {
		j.MaxRetries = *s.MaxRetries
	}
	return j
}
