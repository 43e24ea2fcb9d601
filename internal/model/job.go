package model

import "time"

// JobType identifies which registered handler executes a job.
type JobType string

// Job type constants.
const (
	JobTypeSync    JobType = "sync"
	JobTypeExtract JobType = "extract"
	JobTypeMatch   JobType = "match"
)

// JobState tracks a job through the queue lifecycle.
type JobState string

// Job state constants. Every job ends in completed or failed.
const (
	JobStateCreated   JobState = "created"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateRetrying  JobState = "retrying"
)

// Job is one unit of durable background work. The payload is opaque to the
// queue; it references the entity the handler operates on.
type Job struct {
	CreatedAt   time.Time
	AvailableAt time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	ID          string
	Type        JobType
	LastError   string
	Payload     []byte
	State       JobState
	RetryCount  int
	MaxRetries  int
}
