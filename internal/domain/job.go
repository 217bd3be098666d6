package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Benchmark job lifecycle statuses.
const (
	JobStatusNew        = "new"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// BenchmarkJobPayload describes one end-to-end pipeline run request.
type BenchmarkJobPayload struct {
	TaskName   string `json:"task_name"`
	DatasetDir string `json:"dataset_dir"`
	OutputDir  string `json:"output_dir"`
	TopK       int    `json:"top_k"`
	BatchSize  int    `json:"batch_size"`
	// KValues are the evaluation cutoffs; empty means skip evaluation.
	KValues []int `json:"k_values,omitempty"`
}

// BenchmarkJob is a queued pipeline run processed by the worker.
type BenchmarkJob struct {
	ID           uuid.UUID
	Payload      BenchmarkJobPayload
	Status       string
	ErrorMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BenchmarkJobRepository is the durable job queue.
type BenchmarkJobRepository interface {
	Enqueue(ctx context.Context, job *BenchmarkJob) error
	// AcquireNextJob atomically claims the oldest new job, or returns nil
	// when the queue is empty.
	AcquireNextJob(ctx context.Context) (*BenchmarkJob, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, errorMessage *string) error
	Get(ctx context.Context, id uuid.UUID) (*BenchmarkJob, error)
}

// TransactionManager runs a function within a database transaction.
type TransactionManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
