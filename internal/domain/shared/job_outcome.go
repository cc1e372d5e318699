package shared

import (
	"errors"
	"time"
)

var (
	ErrMissingJobReference = errors.New("job_id or provider and upstream_job_id are required")
	ErrIncompleteUpstream  = errors.New("provider and upstream_job_id must be given together")
)

// JobOutcomeMessage is the Kafka message reporting that a dispatched job reached a terminal state.
// A job is addressed either by JobID or by the provider's own identifier.
type JobOutcomeMessage struct {
	JobID         string    `json:"job_id,omitempty"`
	Provider      string    `json:"provider,omitempty"`
	UpstreamJobID string    `json:"upstream_job_id,omitempty"`
	Success       bool      `json:"success"`
	ErrorDetail   string    `json:"error_detail,omitempty"`
	CorrelationID string    `json:"correlation_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// Validate checks that the message addresses exactly one job
func (m *JobOutcomeMessage) Validate() error {
	if (m.Provider == "") != (m.UpstreamJobID == "") {
		return ErrIncompleteUpstream
	}
	if m.JobID == "" && m.UpstreamJobID == "" {
		return ErrMissingJobReference
	}
	return nil
}

// Key is the Kafka partition key, keeping every outcome for one job on one partition
func (m *JobOutcomeMessage) Key() string {
	if m.JobID != "" {
		return m.JobID
	}
	return m.Provider + ":" + m.UpstreamJobID
}
