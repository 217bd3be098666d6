package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"retrieval-orchestrator/internal/domain"
)

type BenchmarkJobRepository struct {
	db *pgxpool.Pool
}

func NewBenchmarkJobRepository(db *pgxpool.Pool) domain.BenchmarkJobRepository {
	return &BenchmarkJobRepository{db: db}
}

func (r *BenchmarkJobRepository) Enqueue(ctx context.Context, job *domain.BenchmarkJob) error {
	query := `
		INSERT INTO benchmark_jobs (id, payload, status, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	payloadBytes, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = r.db.Exec(ctx, query,
		job.ID,
		payloadBytes,
		job.Status,
		job.ErrorMessage,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// AcquireNextJob claims the oldest new job and flips it to processing in a
// single statement so concurrent workers never double-claim.
func (r *BenchmarkJobRepository) AcquireNextJob(ctx context.Context) (*domain.BenchmarkJob, error) {
	cteQuery := `
		WITH next_job AS (
			SELECT id
			FROM benchmark_jobs
			WHERE status = 'new'
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE benchmark_jobs
		SET status = 'processing', updated_at = $1
		FROM next_job
		WHERE benchmark_jobs.id = next_job.id
		RETURNING benchmark_jobs.id, benchmark_jobs.payload, benchmark_jobs.status,
		          benchmark_jobs.error_message, benchmark_jobs.created_at, benchmark_jobs.updated_at
	`

	var job domain.BenchmarkJob
	var payloadBytes []byte

	err := r.db.QueryRow(ctx, cteQuery, time.Now()).Scan(
		&job.ID,
		&payloadBytes,
		&job.Status,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to acquire next job: %w", err)
	}

	if err := json.Unmarshal(payloadBytes, &job.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	return &job, nil
}

func (r *BenchmarkJobRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string, errorMessage *string) error {
	query := `
		UPDATE benchmark_jobs
		SET status = $1, error_message = $2, updated_at = $3
		WHERE id = $4
	`
	_, err := r.db.Exec(ctx, query, status, errorMessage, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}

func (r *BenchmarkJobRepository) Get(ctx context.Context, id uuid.UUID) (*domain.BenchmarkJob, error) {
	query := `
		SELECT id, payload, status, error_message, created_at, updated_at
		FROM benchmark_jobs
		WHERE id = $1
	`

	var job domain.BenchmarkJob
	var payloadBytes []byte

	err := r.db.QueryRow(ctx, query, id).Scan(
		&job.ID,
		&payloadBytes,
		&job.Status,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	if err := json.Unmarshal(payloadBytes, &job.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	return &job, nil
}
