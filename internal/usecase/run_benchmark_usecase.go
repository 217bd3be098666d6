package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"retrieval-orchestrator/internal/domain"
	"retrieval-orchestrator/internal/evaluation"
)

// LoaderFactory builds a dataset loader for a dataset directory.
type LoaderFactory func(datasetDir string) domain.DatasetLoader

// TaskSinkFactory builds the result sink for one task's output directory.
type TaskSinkFactory func(outputDir, taskName string) domain.ResultSink

// BenchmarkReport summarizes one end-to-end pipeline run.
type BenchmarkReport struct {
	TaskName string
	Stage    string
	Duration time.Duration
	// Metrics is nil when the payload requested no evaluation cutoffs.
	Metrics *evaluation.MetricReport
}

// RunBenchmarkUsecase executes a complete benchmark described by a job
// payload: load the dataset, retrieve, then rerank and generate when the
// respective backends are configured, save results, and evaluate against the
// dataset's relevance judgments when cutoffs are requested.
type RunBenchmarkUsecase struct {
	retriever domain.Retriever
	reranker  domain.Reranker
	generator domain.Generator
	newLoader LoaderFactory
	newSink   TaskSinkFactory
	logger    *slog.Logger
}

func NewRunBenchmarkUsecase(
	retriever domain.Retriever,
	reranker domain.Reranker,
	generator domain.Generator,
	newLoader LoaderFactory,
	newSink TaskSinkFactory,
	logger *slog.Logger,
) *RunBenchmarkUsecase {
	return &RunBenchmarkUsecase{
		retriever: retriever,
		reranker:  reranker,
		generator: generator,
		newLoader: newLoader,
		newSink:   newSink,
		logger:    logger,
	}
}

func (u *RunBenchmarkUsecase) Run(ctx context.Context, payload domain.BenchmarkJobPayload) (*BenchmarkReport, error) {
	start := time.Now()

	loader := u.newLoader(payload.DatasetDir)
	queries, err := loader.LoadQueries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load queries: %w", err)
	}
	corpus, err := loader.LoadCorpus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus: %w", err)
	}

	opts := []TaskOption{}
	if u.newSink != nil {
		opts = append(opts, WithSinkFactory(func(outputDir string) domain.ResultSink {
			return u.newSink(outputDir, payload.TaskName)
		}))
	}
	task := NewTask(payload.TaskName, queries, corpus, u.logger, opts...)

	u.logger.Info("benchmark_started",
		slog.String("task", payload.TaskName),
		slog.Int("query_count", len(queries)),
		slog.Int("corpus_count", len(corpus)))

	if _, err := task.Retrieve(ctx, u.retriever, payload.TopK); err != nil {
		return nil, fmt.Errorf("retrieve stage failed: %w", err)
	}
	if u.reranker != nil {
		if _, err := task.Rerank(ctx, u.reranker, nil, payload.TopK, payload.BatchSize); err != nil {
			return nil, fmt.Errorf("rerank stage failed: %w", err)
		}
	}
	if u.generator != nil {
		if _, err := task.Generate(ctx, u.generator, nil, nil); err != nil {
			return nil, fmt.Errorf("generate stage failed: %w", err)
		}
	}
	if err := task.Save(payload.TopK, payload.OutputDir); err != nil {
		return nil, fmt.Errorf("failed to save results: %w", err)
	}

	report := &BenchmarkReport{
		TaskName: payload.TaskName,
		Stage:    task.Stage().String(),
	}

	if len(payload.KValues) > 0 {
		qrels, err := loader.LoadQrels(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load qrels: %w", err)
		}
		results := task.RerankResults()
		if results == nil {
			results = task.RetrieveResults()
		}
		metrics, err := evaluation.Evaluate(qrels, results, payload.KValues, true)
		if err != nil {
			return nil, fmt.Errorf("evaluation failed: %w", err)
		}
		report.Metrics = metrics
	}

	report.Duration = time.Since(start)
	u.logger.Info("benchmark_finished",
		slog.String("task", payload.TaskName),
		slog.String("stage", report.Stage),
		slog.Duration("duration", report.Duration))
	return report, nil
}
