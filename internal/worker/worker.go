package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"retrieval-orchestrator/internal/domain"
	"retrieval-orchestrator/internal/infra/logger"
	"retrieval-orchestrator/internal/usecase"
)

const (
	defaultPollInterval = 5 * time.Second
	jobTimeout          = 30 * time.Minute
	initialBackoff      = 1 * time.Second
	maxBackoff          = 5 * time.Minute
)

// BenchmarkRunner executes one benchmark payload end to end.
type BenchmarkRunner interface {
	Run(ctx context.Context, payload domain.BenchmarkJobPayload) (*usecase.BenchmarkReport, error)
}

// JobWorker polls the benchmark job queue and runs claimed jobs one at a
// time. Failures back off exponentially; a successful job resets the poll
// cadence.
type JobWorker struct {
	jobRepo      domain.BenchmarkJobRepository
	runner       BenchmarkRunner
	logger       *slog.Logger
	pollInterval time.Duration
	stopChan     chan struct{}
	backoff      time.Duration
}

func NewJobWorker(
	jobRepo domain.BenchmarkJobRepository,
	runner BenchmarkRunner,
	pollInterval time.Duration,
	log *slog.Logger,
) *JobWorker {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &JobWorker{
		jobRepo:      jobRepo,
		runner:       runner,
		logger:       log,
		pollInterval: pollInterval,
		stopChan:     make(chan struct{}),
	}
}

func (w *JobWorker) Start() {
	w.logger.Info("worker_started", slog.Duration("poll_interval", w.pollInterval))
	go w.run()
}

func (w *JobWorker) Stop() {
	w.logger.Info("worker_stopping")
	close(w.stopChan)
}

func (w *JobWorker) run() {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.processNextJob()
			if w.backoff > 0 {
				ticker.Reset(w.backoff)
			} else {
				ticker.Reset(w.pollInterval)
			}
		}
	}
}

func (w *JobWorker) processNextJob() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	job, err := w.jobRepo.AcquireNextJob(ctx)
	if err != nil {
		w.logger.Error("job_acquire_failed", slog.Any("error", err))
		return
	}
	if job == nil {
		return
	}

	ctx = logger.WithJobID(ctx, job.ID.String())
	ctx = logger.WithTaskName(ctx, job.Payload.TaskName)
	log := w.logger.With(
		slog.String("job_id", job.ID.String()),
		slog.String("task", job.Payload.TaskName))
	log.Info("job_processing")

	processErr := w.runJob(ctx, job)

	status := domain.JobStatusCompleted
	var errMsg *string
	if processErr != nil {
		status = domain.JobStatusFailed
		msg := processErr.Error()
		errMsg = &msg
		w.backoff = w.nextBackoff(w.backoff)
		log.Warn("job_failed",
			slog.Duration("backoff", w.backoff),
			slog.Any("error", processErr))
	} else {
		w.backoff = 0
		log.Info("job_completed")
	}

	if err := w.jobRepo.UpdateStatus(ctx, job.ID, status, errMsg); err != nil {
		log.Error("job_status_update_failed", slog.Any("error", err))
	}
}

func (w *JobWorker) runJob(ctx context.Context, job *domain.BenchmarkJob) error {
	payload := job.Payload
	if payload.TaskName == "" {
		return fmt.Errorf("job %s: missing task_name", job.ID)
	}
	if payload.DatasetDir == "" {
		return fmt.Errorf("job %s: missing dataset_dir", job.ID)
	}

	_, err := w.runner.Run(ctx, payload)
	return err
}

func (w *JobWorker) nextBackoff(current time.Duration) time.Duration {
	if current == 0 {
		return initialBackoff
	}
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
