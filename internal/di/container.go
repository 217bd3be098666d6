package di

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"retrieval-orchestrator/internal/adapter/dataset"
	"retrieval-orchestrator/internal/adapter/openaillm"
	"retrieval-orchestrator/internal/adapter/repository"
	"retrieval-orchestrator/internal/adapter/searchidx"
	"retrieval-orchestrator/internal/adapter/sink"
	"retrieval-orchestrator/internal/domain"
	"retrieval-orchestrator/internal/infra/config"
	"retrieval-orchestrator/internal/infra/httpclient"
	"retrieval-orchestrator/internal/infra/resilience"
	"retrieval-orchestrator/internal/usecase"
	"retrieval-orchestrator/internal/usecase/retrieval"
	"retrieval-orchestrator/internal/worker"
)

const searchTimeout = 30 * time.Second

// ApplicationComponents holds all wired dependencies for the application.
type ApplicationComponents struct {
	// Repositories
	JobRepo   domain.BenchmarkJobRepository
	IndexRepo domain.CorpusIndexRepository

	// Pipeline capabilities
	Retriever domain.Retriever
	Reranker  domain.Reranker
	Generator domain.Generator

	// Usecases
	IngestUsecase usecase.IngestCorpusUsecase
	RunUsecase    *usecase.RunBenchmarkUsecase

	// Factories for handler wiring
	NewLoader usecase.LoaderFactory
	NewSink   usecase.TaskSinkFactory

	// Worker
	Worker *worker.JobWorker
}

// searchBackend composes an independent searcher and reranker into the full
// candidate-search collaborator.
type searchBackend struct {
	domain.CandidateSearcher
	domain.CandidateReranker
}

// identityReranker returns candidates unchanged. Used when the backend has no
// second-pass relevance model of its own.
type identityReranker struct{}

func (identityReranker) Rerank(ctx context.Context, query string, candidates []domain.ScoredCandidate) ([]domain.ScoredCandidate, error) {
	return candidates, nil
}

// NewApplicationComponents wires all dependencies from config and database pool.
func NewApplicationComponents(cfg *config.Config, pool *pgxpool.Pool, log *slog.Logger) *ApplicationComponents {
	// Repositories
	jobRepo := repository.NewBenchmarkJobRepository(pool)
	txManager := repository.NewPostgresTransactionManager(pool)
	indexRepo := repository.NewCorpusIndexRepository(pool, txManager)

	// OpenAI-backed models
	openaiCfg := openai.DefaultConfig(cfg.OpenAI.APIKey)
	if cfg.OpenAI.BaseURL != "" {
		openaiCfg.BaseURL = cfg.OpenAI.BaseURL
	}
	openaiClient := openai.NewClientWithConfig(openaiCfg)

	keywordModel := openaillm.NewKeywordModel(openaiClient, cfg.OpenAI.KeywordModel, log)
	generator := openaillm.NewGenerator(openaiClient, cfg.OpenAI.GeneratorModel, cfg.Retrieval.Concurrency, log)
	embedder := openaillm.NewEmbedder(openaiClient, cfg.OpenAI.EmbeddingModel)

	// Candidate search backend
	var search domain.SearchClient
	var reranker domain.Reranker
	switch cfg.Search.Backend {
	case "postgres":
		search = searchBackend{
			CandidateSearcher: repository.NewCorpusSearchRepository(pool, embedder),
			CandidateReranker: identityReranker{},
		}
		log.Info("search_backend_selected", slog.String("backend", "postgres"))
	default:
		limiter := rate.NewLimiter(rate.Limit(cfg.Search.RateRPS), cfg.Search.RateBurst)
		executor := resilience.NewExecutor(resilience.DefaultPolicy(), log)
		httpSearch := searchidx.NewClient(
			cfg.Search.URL,
			limiter,
			executor,
			searchTimeout,
			log,
			httpclient.NewPooledClient(searchTimeout),
		)
		search = httpSearch
		reranker = retrieval.NewBatchReranker(httpSearch, cfg.Retrieval.Concurrency, log)
		log.Info("search_backend_selected",
			slog.String("backend", "http"),
			slog.String("url", cfg.Search.URL))
	}

	// Retrieval pipeline
	expander := retrieval.NewKeywordExpander(keywordModel, cfg.Retrieval.KeywordCacheSize, log)
	retriever := retrieval.NewFusionRetriever(search, expander, log,
		retrieval.WithConcurrency(cfg.Retrieval.Concurrency))

	// Dataset and output factories
	newLoader := usecase.LoaderFactory(func(datasetDir string) domain.DatasetLoader {
		return dataset.NewLoader(datasetDir)
	})
	newSink := usecase.TaskSinkFactory(func(outputDir, taskName string) domain.ResultSink {
		return sink.NewFileSink(outputDir, taskName, log)
	})

	// Usecases
	ingestUsecase := usecase.NewIngestCorpusUsecase(indexRepo, embedder, cfg.Retrieval.IngestBatchSize, log)
	runUsecase := usecase.NewRunBenchmarkUsecase(retriever, reranker, generator, newLoader, newSink, log)

	// Worker
	pollInterval := time.Duration(cfg.Worker.PollIntervalSeconds) * time.Second
	jobWorker := worker.NewJobWorker(jobRepo, runUsecase, pollInterval, log)

	return &ApplicationComponents{
		JobRepo:       jobRepo,
		IndexRepo:     indexRepo,
		Retriever:     retriever,
		Reranker:      reranker,
		Generator:     generator,
		IngestUsecase: ingestUsecase,
		RunUsecase:    runUsecase,
		NewLoader:     newLoader,
		NewSink:       newSink,
		Worker:        jobWorker,
	}
}
