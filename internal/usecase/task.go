package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"retrieval-orchestrator/internal/domain"
)

// Stage is the pipeline position a task has reached.
type Stage int

const (
	StageLoaded Stage = iota
	StageRetrieved
	StageReranked
	StageGenerated
)

func (s Stage) String() string {
	switch s {
	case StageLoaded:
		return "loaded"
	case StageRetrieved:
		return "retrieved"
	case StageReranked:
		return "reranked"
	case StageGenerated:
		return "generated"
	default:
		return "unknown"
	}
}

// ScoredDocument pairs a corpus document with its ranking score.
type ScoredDocument struct {
	Document domain.Document
	Score    float64
}

// MessageBuilder turns a query and its ranked documents into the chat
// messages sent to the generation model.
type MessageBuilder func(queryText string, documents []ScoredDocument) []domain.Message

// SinkFactory builds a ResultSink rooted at the given output directory.
type SinkFactory func(outputDir string) domain.ResultSink

// Task drives one retrieval benchmark run through the staged pipeline
// retrieve -> rerank -> generate. Stages are re-entrant: re-running a stage
// overwrites its stored result and moves the task forward from wherever it
// sits. Downstream stages fall back to the nearest earlier stage's output.
//
// A Task is not safe for concurrent stage invocations; overlapping calls are
// rejected with domain.ErrStageInProgress.
type Task struct {
	name    string
	queries map[string]string
	corpus  map[string]domain.Document

	stage           Stage
	retrieveResults domain.RankingResult
	rerankResults   domain.RankingResult
	generateResults map[string]string

	newSink SinkFactory
	logger  *slog.Logger
	busy    sync.Mutex
}

// TaskOption configures a Task.
type TaskOption func(*Task)

// WithSinkFactory sets the factory used by Save to build the result sink.
func WithSinkFactory(f SinkFactory) TaskOption {
	return func(t *Task) { t.newSink = f }
}

// NewTask creates a task over the loaded queries and corpus.
func NewTask(name string, queries map[string]string, corpus map[string]domain.Document, logger *slog.Logger, opts ...TaskOption) *Task {
	t := &Task{
		name:    name,
		queries: queries,
		corpus:  corpus,
		stage:   StageLoaded,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns the task name, used as the output subdirectory.
func (t *Task) Name() string { return t.name }

// Stage returns the furthest stage the task has reached.
func (t *Task) Stage() Stage { return t.stage }

// RetrieveResults returns the stored retrieve-stage output, nil before the
// stage has run.
func (t *Task) RetrieveResults() domain.RankingResult { return t.retrieveResults }

// RerankResults returns the stored rerank-stage output, nil before the stage
// has run.
func (t *Task) RerankResults() domain.RankingResult { return t.rerankResults }

// GenerateResults returns the stored generation output, nil before the stage
// has run.
func (t *Task) GenerateResults() map[string]string { return t.generateResults }

func (t *Task) acquire(stage string) error {
	if !t.busy.TryLock() {
		return fmt.Errorf("%s: %w", stage, domain.ErrStageInProgress)
	}
	return nil
}

func (t *Task) advance(s Stage) {
	if s > t.stage {
		t.stage = s
	}
}

// Retrieve runs the retrieval strategy over all loaded queries and stores its
// output. A failed call leaves the previously stored result unchanged.
func (t *Task) Retrieve(ctx context.Context, retriever domain.Retriever, topK int) (domain.RankingResult, error) {
	if retriever == nil {
		return nil, fmt.Errorf("retriever: %w", domain.ErrMissingCapability)
	}
	if err := t.acquire("retrieve"); err != nil {
		return nil, err
	}
	defer t.busy.Unlock()

	if len(t.queries) == 0 || len(t.corpus) == 0 {
		return nil, domain.ErrNotLoaded
	}

	results, err := retriever.Retrieve(ctx, t.queries, t.corpus, topK)
	if err != nil {
		return nil, fmt.Errorf("retrieve stage failed: %w", err)
	}

	t.retrieveResults = results
	t.advance(StageRetrieved)
	t.logger.Info("stage_completed",
		slog.String("task", t.name),
		slog.String("stage", "retrieve"),
		slog.Int("query_count", len(results)))
	return results, nil
}

// Rerank re-scores a ranking and stores the output. With a nil input it
// consumes the stored retrieve-stage result.
func (t *Task) Rerank(ctx context.Context, reranker domain.Reranker, input domain.RankingResult, topK, batchSize int) (domain.RankingResult, error) {
	if reranker == nil {
		return nil, fmt.Errorf("reranker: %w", domain.ErrMissingCapability)
	}
	if err := t.acquire("rerank"); err != nil {
		return nil, err
	}
	defer t.busy.Unlock()

	if len(t.queries) == 0 || len(t.corpus) == 0 {
		return nil, domain.ErrNotLoaded
	}
	if input == nil {
		if t.retrieveResults == nil {
			return nil, fmt.Errorf("rerank: %w", domain.ErrNoStageInput)
		}
		input = t.retrieveResults
	}

	results, err := reranker.Rerank(ctx, t.queries, t.corpus, input, topK, batchSize)
	if err != nil {
		return nil, fmt.Errorf("rerank stage failed: %w", err)
	}

	t.rerankResults = results
	t.advance(StageReranked)
	t.logger.Info("stage_completed",
		slog.String("task", t.name),
		slog.String("stage", "rerank"),
		slog.Int("query_count", len(results)))
	return results, nil
}

// Generate produces one answer per query from the ranked documents. With a
// nil input it prefers the rerank-stage result and falls back to the
// retrieve-stage result. A nil build uses DefaultMessageBuilder.
func (t *Task) Generate(ctx context.Context, generator domain.Generator, input domain.RankingResult, build MessageBuilder) (map[string]string, error) {
	if generator == nil {
		return nil, fmt.Errorf("generator: %w", domain.ErrMissingCapability)
	}
	if err := t.acquire("generate"); err != nil {
		return nil, err
	}
	defer t.busy.Unlock()

	if build == nil {
		t.logger.Info("using_default_message_builder",
			slog.String("task", t.name))
		build = DefaultMessageBuilder
	}
	if input == nil {
		switch {
		case t.rerankResults != nil:
			input = t.rerankResults
		case t.retrieveResults != nil:
			input = t.retrieveResults
		default:
			return nil, fmt.Errorf("generate: %w", domain.ErrNoStageInput)
		}
	}

	messages, err := t.prepareGenerationInputs(input, build)
	if err != nil {
		return nil, err
	}

	answers, err := generator.Generate(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("generate stage failed: %w", err)
	}

	t.generateResults = answers
	t.advance(StageGenerated)
	t.logger.Info("stage_completed",
		slog.String("task", t.name),
		slog.String("stage", "generate"),
		slog.Int("answer_count", len(answers)))
	return answers, nil
}

// prepareGenerationInputs resolves every ranked document against the corpus
// and builds the per-query chat messages. A ranking that references a
// document absent from the corpus is a caller error.
func (t *Task) prepareGenerationInputs(results domain.RankingResult, build MessageBuilder) (map[string][]domain.Message, error) {
	messages := make(map[string][]domain.Message, len(results))
	for queryID, ranking := range results {
		queryText, ok := t.queries[queryID]
		if !ok {
			return nil, fmt.Errorf("ranking references unknown query %q", queryID)
		}
		if len(ranking) == 0 {
			continue
		}
		documents := make([]ScoredDocument, 0, len(ranking))
		for docID, score := range ranking {
			doc, ok := t.corpus[docID]
			if !ok {
				return nil, fmt.Errorf("query %q, document %q: %w", queryID, docID, domain.ErrUnknownDocument)
			}
			documents = append(documents, ScoredDocument{Document: doc, Score: score})
		}
		messages[queryID] = build(queryText, documents)
	}
	return messages, nil
}

// Save persists the top-k rankings and any generated answers. The ranking
// written is the rerank-stage result when present, else the retrieve-stage
// result. An empty outputDir is a no-op.
func (t *Task) Save(topK int, outputDir string) error {
	if outputDir == "" {
		return nil
	}
	if t.newSink == nil {
		return fmt.Errorf("result sink: %w", domain.ErrMissingCapability)
	}
	if err := t.acquire("save"); err != nil {
		return err
	}
	defer t.busy.Unlock()

	sink := t.newSink(outputDir)

	final := t.rerankResults
	if final == nil {
		final = t.retrieveResults
	}
	if final != nil {
		if err := sink.SaveRankings(final, topK); err != nil {
			return fmt.Errorf("failed to save rankings: %w", err)
		}
	}
	if t.generateResults != nil {
		if err := sink.SaveAnswers(t.generateResults); err != nil {
			return fmt.Errorf("failed to save answers: %w", err)
		}
	}

	t.logger.Info("results_saved",
		slog.String("task", t.name),
		slog.String("output_dir", outputDir),
		slog.Int("top_k", topK))
	return nil
}
