package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"retrieval-orchestrator/internal/domain"
	"retrieval-orchestrator/internal/evaluation"
	"retrieval-orchestrator/internal/usecase"
)

// taskEntry pairs a live task with the loader that fed it, so the evaluate
// endpoint can reach the dataset's relevance judgments.
type taskEntry struct {
	task   *usecase.Task
	loader domain.DatasetLoader
}

// Handler exposes the pipeline over HTTP. Tasks are created from a dataset
// directory and then driven stage by stage.
type Handler struct {
	retriever   domain.Retriever
	reranker    domain.Reranker
	generator   domain.Generator
	jobRepo     domain.BenchmarkJobRepository
	newLoader   usecase.LoaderFactory
	newSink     usecase.TaskSinkFactory
	defaultTopK int
	logger      *slog.Logger

	mu    sync.RWMutex
	tasks map[string]*taskEntry
}

func NewHandler(
	retriever domain.Retriever,
	reranker domain.Reranker,
	generator domain.Generator,
	jobRepo domain.BenchmarkJobRepository,
	newLoader usecase.LoaderFactory,
	newSink usecase.TaskSinkFactory,
	defaultTopK int,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		retriever:   retriever,
		reranker:    reranker,
		generator:   generator,
		jobRepo:     jobRepo,
		newLoader:   newLoader,
		newSink:     newSink,
		defaultTopK: defaultTopK,
		logger:      logger,
		tasks:       make(map[string]*taskEntry),
	}
}

// RegisterRoutes attaches every endpoint to the echo instance.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/v1/health", h.Health)

	e.POST("/v1/tasks", h.CreateTask)
	e.GET("/v1/tasks/:name", h.GetTask)
	e.POST("/v1/tasks/:name/retrieve", h.Retrieve)
	e.POST("/v1/tasks/:name/rerank", h.Rerank)
	e.POST("/v1/tasks/:name/generate", h.Generate)
	e.POST("/v1/tasks/:name/save", h.Save)
	e.POST("/v1/tasks/:name/evaluate", h.Evaluate)

	e.POST("/v1/jobs", h.EnqueueJob)
	e.GET("/v1/jobs/:id", h.GetJob)
}

func (h *Handler) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type createTaskRequest struct {
	Name       string `json:"name"`
	DatasetDir string `json:"dataset_dir"`
}

func (h *Handler) CreateTask(ctx echo.Context) error {
	var req createTaskRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, errBody("invalid request"))
	}
	if req.Name == "" || req.DatasetDir == "" {
		return ctx.JSON(http.StatusBadRequest, errBody("name and dataset_dir are required"))
	}

	loader := h.newLoader(req.DatasetDir)
	reqCtx := ctx.Request().Context()

	queries, err := loader.LoadQueries(reqCtx)
	if err != nil {
		return ctx.JSON(http.StatusUnprocessableEntity, errBody(err.Error()))
	}
	corpus, err := loader.LoadCorpus(reqCtx)
	if err != nil {
		return ctx.JSON(http.StatusUnprocessableEntity, errBody(err.Error()))
	}

	var opts []usecase.TaskOption
	if h.newSink != nil {
		opts = append(opts, usecase.WithSinkFactory(func(outputDir string) domain.ResultSink {
			return h.newSink(outputDir, req.Name)
		}))
	}
	task := usecase.NewTask(req.Name, queries, corpus, h.logger, opts...)

	h.mu.Lock()
	h.tasks[req.Name] = &taskEntry{task: task, loader: loader}
	h.mu.Unlock()

	return ctx.JSON(http.StatusCreated, map[string]any{
		"name":         req.Name,
		"query_count":  len(queries),
		"corpus_count": len(corpus),
		"stage":        task.Stage().String(),
	})
}

func (h *Handler) GetTask(ctx echo.Context) error {
	entry, err := h.entry(ctx.Param("name"))
	if err != nil {
		return ctx.JSON(http.StatusNotFound, errBody(err.Error()))
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"name":  entry.task.Name(),
		"stage": entry.task.Stage().String(),
	})
}

type stageRequest struct {
	TopK      int    `json:"top_k"`
	BatchSize int    `json:"batch_size"`
	OutputDir string `json:"output_dir"`
	KValues   []int  `json:"k_values"`
}

func (h *Handler) Retrieve(ctx echo.Context) error {
	entry, err := h.entry(ctx.Param("name"))
	if err != nil {
		return ctx.JSON(http.StatusNotFound, errBody(err.Error()))
	}
	req, err := bindStageRequest(ctx, h.defaultTopK)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, errBody(err.Error()))
	}

	results, err := entry.task.Retrieve(ctx.Request().Context(), h.retriever, req.TopK)
	if err != nil {
		return stageError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"stage":       entry.task.Stage().String(),
		"query_count": len(results),
	})
}

func (h *Handler) Rerank(ctx echo.Context) error {
	entry, err := h.entry(ctx.Param("name"))
	if err != nil {
		return ctx.JSON(http.StatusNotFound, errBody(err.Error()))
	}
	req, err := bindStageRequest(ctx, h.defaultTopK)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, errBody(err.Error()))
	}

	results, err := entry.task.Rerank(ctx.Request().Context(), h.reranker, nil, req.TopK, req.BatchSize)
	if err != nil {
		return stageError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"stage":       entry.task.Stage().String(),
		"query_count": len(results),
	})
}

func (h *Handler) Generate(ctx echo.Context) error {
	entry, err := h.entry(ctx.Param("name"))
	if err != nil {
		return ctx.JSON(http.StatusNotFound, errBody(err.Error()))
	}

	answers, err := entry.task.Generate(ctx.Request().Context(), h.generator, nil, nil)
	if err != nil {
		return stageError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"stage":        entry.task.Stage().String(),
		"answer_count": len(answers),
	})
}

func (h *Handler) Save(ctx echo.Context) error {
	entry, err := h.entry(ctx.Param("name"))
	if err != nil {
		return ctx.JSON(http.StatusNotFound, errBody(err.Error()))
	}
	req, err := bindStageRequest(ctx, h.defaultTopK)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, errBody(err.Error()))
	}

	if err := entry.task.Save(req.TopK, req.OutputDir); err != nil {
		return stageError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, map[string]string{"status": "saved"})
}

func (h *Handler) Evaluate(ctx echo.Context) error {
	entry, err := h.entry(ctx.Param("name"))
	if err != nil {
		return ctx.JSON(http.StatusNotFound, errBody(err.Error()))
	}
	var req stageRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, errBody("invalid request"))
	}
	if len(req.KValues) == 0 {
		req.KValues = []int{1, 5, 10}
	}

	results := entry.task.RerankResults()
	if results == nil {
		results = entry.task.RetrieveResults()
	}
	if results == nil {
		return stageError(ctx, domain.ErrNoStageInput)
	}

	qrels, err := entry.loader.LoadQrels(ctx.Request().Context())
	if err != nil {
		return ctx.JSON(http.StatusUnprocessableEntity, errBody(err.Error()))
	}

	report, err := evaluation.Evaluate(qrels, results, req.KValues, true)
	if err != nil {
		return stageError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"ndcg":      report.NDCG,
		"map":       report.MAP,
		"recall":    report.Recall,
		"precision": report.Precision,
	})
}

func (h *Handler) EnqueueJob(ctx echo.Context) error {
	var payload domain.BenchmarkJobPayload
	if err := ctx.Bind(&payload); err != nil {
		return ctx.JSON(http.StatusBadRequest, errBody("invalid request"))
	}
	if payload.TaskName == "" || payload.DatasetDir == "" {
		return ctx.JSON(http.StatusBadRequest, errBody("task_name and dataset_dir are required"))
	}
	if payload.TopK <= 0 {
		payload.TopK = h.defaultTopK
	}

	now := time.Now()
	job := &domain.BenchmarkJob{
		ID:        uuid.New(),
		Payload:   payload,
		Status:    domain.JobStatusNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.jobRepo.Enqueue(ctx.Request().Context(), job); err != nil {
		return ctx.JSON(http.StatusInternalServerError, errBody(err.Error()))
	}

	return ctx.JSON(http.StatusAccepted, map[string]string{
		"job_id": job.ID.String(),
		"status": job.Status,
	})
}

func (h *Handler) GetJob(ctx echo.Context) error {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, errBody("invalid job id"))
	}

	job, err := h.jobRepo.Get(ctx.Request().Context(), id)
	if err != nil {
		return ctx.JSON(http.StatusInternalServerError, errBody(err.Error()))
	}
	if job == nil {
		return ctx.JSON(http.StatusNotFound, errBody("job not found"))
	}

	body := map[string]any{
		"job_id": job.ID.String(),
		"status": job.Status,
	}
	if job.ErrorMessage != nil {
		body["error_message"] = *job.ErrorMessage
	}
	return ctx.JSON(http.StatusOK, body)
}

func (h *Handler) entry(name string) (*taskEntry, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	entry, ok := h.tasks[name]
	if !ok {
		return nil, errors.New("task not found")
	}
	return entry, nil
}

func bindStageRequest(ctx echo.Context, defaultTopK int) (stageRequest, error) {
	var req stageRequest
	if err := ctx.Bind(&req); err != nil {
		return req, errors.New("invalid request")
	}
	if req.TopK == 0 {
		req.TopK = defaultTopK
	}
	return req, nil
}

// stageError maps pipeline sentinels onto HTTP statuses.
func stageError(ctx echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrStageInProgress):
		return ctx.JSON(http.StatusConflict, errBody(err.Error()))
	case errors.Is(err, domain.ErrInvalidTopK),
		errors.Is(err, domain.ErrNoStageInput),
		errors.Is(err, domain.ErrNotLoaded),
		errors.Is(err, domain.ErrUnknownDocument),
		errors.Is(err, domain.ErrEmptyEvaluation):
		return ctx.JSON(http.StatusUnprocessableEntity, errBody(err.Error()))
	default:
		return ctx.JSON(http.StatusInternalServerError, errBody(err.Error()))
	}
}

func errBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
