// Package queue implements the durable background-job runtime: typed
// payloads, handler dispatch, a polling worker pool with exclusive claims,
// and retry with exponential backoff.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dsil-design/joot-reconcile/internal/model"
	"github.com/dsil-design/joot-reconcile/internal/service"
)

// Handler processes one job payload. Returning an error sends the job down
// the retry path; handlers have no other failure channel.
type Handler func(ctx context.Context, payload []byte) error

// Config holds tunables for the queue runtime.
type Config struct {
	Workers        int
	MaxRetries     int
	PollInterval   time.Duration
	AttemptTimeout time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	StaleWindow    time.Duration
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		MaxRetries:     3,
		PollInterval:   500 * time.Millisecond,
		AttemptTimeout: 5 * time.Minute,
		InitialBackoff: 30 * time.Second,
		MaxBackoff:     15 * time.Minute,
		BackoffFactor:  2.0,
		StaleWindow:    30 * time.Minute,
	}
}

// Queue dispatches durable jobs to registered handlers. The queue has no
// knowledge of domain semantics; payloads are opaque to it.
type Queue struct {
	storage  service.Storage
	handlers map[model.JobType]Handler
	cfg      Config
	mu       sync.RWMutex
}

// New creates a queue runtime over the given storage.
func New(storage service.Storage, cfg Config) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.BackoffFactor <= 0 {
		cfg.BackoffFactor = DefaultConfig().BackoffFactor
	}
	return &Queue{
		storage:  storage,
		handlers: make(map[model.JobType]Handler),
		cfg:      cfg,
	}
}

// RegisterHandler binds a handler to a job type. Registering twice replaces
// the previous handler.
func (q *Queue) RegisterHandler(jobType model.JobType, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = handler
}

func (q *Queue) handler(jobType model.JobType) (Handler, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	h, ok := q.handlers[jobType]
	return h, ok
}

// Enqueue persists a new job and returns its id. The payload is marshalled
// to JSON; use the typed payloads in payloads.go.
func (q *Queue) Enqueue(ctx context.Context, jobType model.JobType, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	job := &model.Job{
		ID:         uuid.NewString(),
		Type:       jobType,
		Payload:    data,
		MaxRetries: q.cfg.MaxRetries,
	}
	if err := q.storage.EnqueueJob(ctx, job); err != nil {
		return "", err
	}
	return job.ID, nil
}

// GetStatus returns a job record by id.
func (q *Queue) GetStatus(ctx context.Context, jobID string) (*model.Job, error) {
	return q.storage.GetJob(ctx, jobID)
}

// Stats returns a queue-wide snapshot by state.
func (q *Queue) Stats(ctx context.Context) (*service.QueueStats, error) {
	return q.storage.GetQueueStats(ctx)
}

// SweepStale force-fails jobs stuck in active past the staleness window and
// returns the number swept.
func (q *Queue) SweepStale(ctx context.Context) (int, error) {
	return q.storage.SweepStaleJobs(ctx, q.cfg.StaleWindow)
}
