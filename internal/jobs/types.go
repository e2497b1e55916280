// Package jobs queues pipeline runs for a background worker.
package jobs

import (
	"context"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeRun executes a full pipeline run.
	JobTypeRun JobType = "run"
	// JobTypeRetry reloads a failed run's staging directory.
	JobTypeRetry JobType = "retry"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and will be requeued.
	JobStatusRetrying JobStatus = "retrying"
)

// RunJob asks the worker to execute one pipeline run.
type RunJob struct {
	JobID string  `json:"job_id"`
	Type  JobType `json:"type"`

	// At is the instant the window is resolved for. Zero means the time the
	// job starts.
	At         time.Time `json:"at,omitempty"`
	AllowStale bool      `json:"allow_stale,omitempty"`

	// RetryOf is the staged run a retry job reloads.
	RetryOf string `json:"retry_of,omitempty"`

	// RunID is filled in once the pipeline has assigned one.
	RunID        string `json:"run_id,omitempty"`
	WindowPrefix string `json:"window_prefix,omitempty"`
	RowsLoaded   int    `json:"rows_loaded"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`

	RetryCount int `json:"retry_count"`
	// MaxRetries is how often a failed job is requeued. Runs default to none:
	// a failed load leaves staging behind, and the next attempt should be a
	// retry job over it rather than a fresh extract.
	MaxRetries int `json:"max_retries"`
}

// Job is a generic interface for all job types.
type Job interface {
	GetID() string
	GetType() JobType
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *RunJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *RunJob) GetType() JobType {
	if j.Type == "" {
		return JobTypeRun
	}
	return j.Type
}

// GetStatus implements the Job interface.
func (j *RunJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// PublishRun enqueues a run or retry job.
	PublishRun(ctx context.Context, job *RunJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. Returning an error marks the job failed, or
// retrying when it has retries left.
type JobHandler func(ctx context.Context, job Job) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *RunJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*RunJob, error)

	// ListJobs retrieves jobs with optional filtering, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*RunJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	Type   JobType
	Status JobStatus
	Limit  int
	Offset int
}
