package domain

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a bulk job.
type JobStatus string

const (
	JobStatusScheduled  JobStatus = "scheduled"
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

func (s JobStatus) String() string { return string(s) }

func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusScheduled, JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the job may not transition any further.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// jobStatusRank encodes the forward-only ordering
// scheduled -> queued -> processing -> completed|failed.
func jobStatusRank(s JobStatus) int {
	switch s {
	case JobStatusScheduled:
		return 0
	case JobStatusQueued:
		return 1
	case JobStatusProcessing:
		return 2
	case JobStatusCompleted, JobStatusFailed:
		return 3
	}
	return -1
}

// CanTransitionTo reports whether moving from s to next is a forward transition.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if !s.IsValid() || !next.IsValid() {
		return false
	}
	if s.IsTerminal() {
		return false
	}
	return jobStatusRank(next) > jobStatusRank(s)
}

func ParseJobStatusFromString(s string) (JobStatus, error) {
	st := JobStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid job status %q", ErrValidation, s)
	}
	return st, nil
}

// TemplateParameter is one substitution value inside a template component.
type TemplateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TemplateComponent carries template variables for the channel payload,
// e.g. {"type":"body","parameters":[{"type":"text","text":"Ada"}]}.
type TemplateComponent struct {
	Type       string              `json:"type"`
	Parameters []TemplateParameter `json:"parameters"`
}

// Job is one outbound bulk-messaging campaign: a template plus a recipient
// list, fanned out into Messages at creation time.
type Job struct {
	ID           string
	TenantID     string
	TemplateName string
	LanguageCode string
	Components   []TemplateComponent
	Status       JobStatus
	ScheduledAt  *time.Time
	CreatedAt    time.Time
	CompletedAt  *time.Time

	Messages []Message
}

func (j *Job) Validate() error {
	if strings.TrimSpace(j.TenantID) == "" {
		return fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	if strings.TrimSpace(j.TemplateName) == "" {
		return fmt.Errorf("%w: template name is required", ErrValidation)
	}
	if strings.TrimSpace(j.LanguageCode) == "" {
		return fmt.Errorf("%w: language code is required", ErrValidation)
	}
	if !j.Status.IsValid() {
		return fmt.Errorf("%w: invalid job status %q", ErrValidation, j.Status)
	}
	return nil
}
