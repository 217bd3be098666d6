package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"retrieval-orchestrator/internal/adapter/httpapi"
	"retrieval-orchestrator/internal/domain"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLoader struct {
	queries map[string]string
	corpus  map[string]domain.Document
	qrels   domain.Qrels
}

func (s *stubLoader) LoadQueries(ctx context.Context) (map[string]string, error) {
	return s.queries, nil
}

func (s *stubLoader) LoadCorpus(ctx context.Context) (map[string]domain.Document, error) {
	return s.corpus, nil
}

func (s *stubLoader) LoadQrels(ctx context.Context) (domain.Qrels, error) {
	return s.qrels, nil
}

type stubRetriever struct {
	results domain.RankingResult
	err     error
}

func (s *stubRetriever) Retrieve(ctx context.Context, queries map[string]string, corpus map[string]domain.Document, topK int) (domain.RankingResult, error) {
	return s.results, s.err
}

type stubReranker struct {
	results domain.RankingResult
	err     error
}

func (s *stubReranker) Rerank(ctx context.Context, queries map[string]string, corpus map[string]domain.Document, results domain.RankingResult, topK, batchSize int) (domain.RankingResult, error) {
	return s.results, s.err
}

type stubGenerator struct {
	answers map[string]string
}

func (s *stubGenerator) Generate(ctx context.Context, messages map[string][]domain.Message) (map[string]string, error) {
	answers := make(map[string]string, len(messages))
	for id := range messages {
		answers[id] = s.answers[id]
	}
	return answers, nil
}

type stubSink struct {
	rankingsSaved bool
	answersSaved  bool
}

func (s *stubSink) SaveRankings(results domain.RankingResult, topK int) error {
	s.rankingsSaved = true
	return nil
}

func (s *stubSink) SaveAnswers(answers map[string]string) error {
	s.answersSaved = true
	return nil
}

type memoryJobRepo struct {
	jobs map[uuid.UUID]*domain.BenchmarkJob
}

func newMemoryJobRepo() *memoryJobRepo {
	return &memoryJobRepo{jobs: make(map[uuid.UUID]*domain.BenchmarkJob)}
}

func (m *memoryJobRepo) Enqueue(ctx context.Context, job *domain.BenchmarkJob) error {
	m.jobs[job.ID] = job
	return nil
}

func (m *memoryJobRepo) AcquireNextJob(ctx context.Context) (*domain.BenchmarkJob, error) {
	return nil, nil
}

func (m *memoryJobRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string, errorMessage *string) error {
	job, ok := m.jobs[id]
	if !ok {
		return errors.New("job not found")
	}
	job.Status = status
	job.ErrorMessage = errorMessage
	return nil
}

func (m *memoryJobRepo) Get(ctx context.Context, id uuid.UUID) (*domain.BenchmarkJob, error) {
	return m.jobs[id], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type handlerFixture struct {
	handler *httpapi.Handler
	echo    *echo.Echo
	jobRepo *memoryJobRepo
	sink    *stubSink
}

func newFixture(retriever domain.Retriever, reranker domain.Reranker, generator domain.Generator) *handlerFixture {
	loader := &stubLoader{
		queries: map[string]string{"q1": "what moved operating margin"},
		corpus: map[string]domain.Document{
			"d1": {ID: "d1", Title: "10-K", Text: "Operating margin expanded on services growth."},
			"d2": {ID: "d2", Title: "10-Q", Text: "Gross margin was flat quarter over quarter."},
		},
		qrels: domain.Qrels{"q1": {"d1": 1}},
	}
	jobRepo := newMemoryJobRepo()
	sink := &stubSink{}
	handler := httpapi.NewHandler(
		retriever,
		reranker,
		generator,
		jobRepo,
		func(datasetDir string) domain.DatasetLoader { return loader },
		func(outputDir, taskName string) domain.ResultSink { return sink },
		10,
		testLogger(),
	)
	e := echo.New()
	handler.RegisterRoutes(e)
	return &handlerFixture{handler: handler, echo: e, jobRepo: jobRepo, sink: sink}
}

func (f *handlerFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)
	return rec
}

func (f *handlerFixture) createTask(t *testing.T) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/v1/tasks", `{"name":"finqa","dataset_dir":"/data/finqa"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestHandler_Health(t *testing.T) {
	f := newFixture(nil, nil, nil)

	rec := f.do(t, http.MethodGet, "/v1/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandler_CreateTask(t *testing.T) {
	f := newFixture(nil, nil, nil)

	rec := f.do(t, http.MethodPost, "/v1/tasks", `{"name":"finqa","dataset_dir":"/data/finqa"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "finqa", body["name"])
	assert.Equal(t, float64(1), body["query_count"])
	assert.Equal(t, float64(2), body["corpus_count"])
	assert.Equal(t, "loaded", body["stage"])
}

func TestHandler_CreateTask_MissingFields(t *testing.T) {
	f := newFixture(nil, nil, nil)

	rec := f.do(t, http.MethodPost, "/v1/tasks", `{"name":"finqa"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_GetTask_NotFound(t *testing.T) {
	f := newFixture(nil, nil, nil)

	rec := f.do(t, http.MethodGet, "/v1/tasks/missing", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_Retrieve(t *testing.T) {
	retriever := &stubRetriever{results: domain.RankingResult{
		"q1": {"d1": 0.9, "d2": 0.4},
	}}
	f := newFixture(retriever, nil, nil)
	f.createTask(t)

	rec := f.do(t, http.MethodPost, "/v1/tasks/finqa/retrieve", `{"top_k":5}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "retrieved", body["stage"])
	assert.Equal(t, float64(1), body["query_count"])
}

func TestHandler_Rerank_WithoutRetrieve(t *testing.T) {
	f := newFixture(nil, &stubReranker{}, nil)
	f.createTask(t)

	rec := f.do(t, http.MethodPost, "/v1/tasks/finqa/rerank", `{}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandler_Rerank(t *testing.T) {
	retriever := &stubRetriever{results: domain.RankingResult{
		"q1": {"d1": 0.9, "d2": 0.4},
	}}
	reranker := &stubReranker{results: domain.RankingResult{
		"q1": {"d2": 0.95, "d1": 0.1},
	}}
	f := newFixture(retriever, reranker, nil)
	f.createTask(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/tasks/finqa/retrieve", `{}`).Code)

	rec := f.do(t, http.MethodPost, "/v1/tasks/finqa/rerank", `{"batch_size":16}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "reranked", body["stage"])
}

func TestHandler_Generate_AfterRetrieve(t *testing.T) {
	retriever := &stubRetriever{results: domain.RankingResult{
		"q1": {"d1": 0.9},
	}}
	generator := &stubGenerator{answers: map[string]string{"q1": "Margin expanded on services growth."}}
	f := newFixture(retriever, nil, generator)
	f.createTask(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/tasks/finqa/retrieve", `{}`).Code)

	rec := f.do(t, http.MethodPost, "/v1/tasks/finqa/generate", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "generated", body["stage"])
	assert.Equal(t, float64(1), body["answer_count"])
}

func TestHandler_Save(t *testing.T) {
	retriever := &stubRetriever{results: domain.RankingResult{
		"q1": {"d1": 0.9},
	}}
	f := newFixture(retriever, nil, nil)
	f.createTask(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/tasks/finqa/retrieve", `{}`).Code)

	rec := f.do(t, http.MethodPost, "/v1/tasks/finqa/save", `{"output_dir":"results","top_k":10}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.sink.rankingsSaved)
	assert.False(t, f.sink.answersSaved)
}

func TestHandler_Evaluate(t *testing.T) {
	retriever := &stubRetriever{results: domain.RankingResult{
		"q1": {"d1": 0.9, "d2": 0.4},
	}}
	f := newFixture(retriever, nil, nil)
	f.createTask(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/tasks/finqa/retrieve", `{}`).Code)

	rec := f.do(t, http.MethodPost, "/v1/tasks/finqa/evaluate", `{"k_values":[1]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]map[string]float64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1.0, body["ndcg"]["NDCG@1"])
	assert.Equal(t, 1.0, body["precision"]["P@1"])
}

func TestHandler_Evaluate_WithoutResults(t *testing.T) {
	f := newFixture(nil, nil, nil)
	f.createTask(t)

	rec := f.do(t, http.MethodPost, "/v1/tasks/finqa/evaluate", `{}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandler_EnqueueJob(t *testing.T) {
	f := newFixture(nil, nil, nil)

	rec := f.do(t, http.MethodPost, "/v1/jobs", `{"task_name":"finqa","dataset_dir":"/data/finqa","output_dir":"/tmp/out"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, domain.JobStatusNew, body["status"])

	id, err := uuid.Parse(body["job_id"])
	require.NoError(t, err)
	job := f.jobRepo.jobs[id]
	require.NotNil(t, job)
	assert.Equal(t, "finqa", job.Payload.TaskName)
	assert.Equal(t, 10, job.Payload.TopK)
}

func TestHandler_EnqueueJob_MissingFields(t *testing.T) {
	f := newFixture(nil, nil, nil)

	rec := f.do(t, http.MethodPost, "/v1/jobs", `{"task_name":"finqa"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_GetJob(t *testing.T) {
	f := newFixture(nil, nil, nil)
	rec := f.do(t, http.MethodPost, "/v1/jobs", `{"task_name":"finqa","dataset_dir":"/data/finqa"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	got := f.do(t, http.MethodGet, "/v1/jobs/"+created["job_id"], "")

	require.Equal(t, http.StatusOK, got.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(got.Body.Bytes(), &body))
	assert.Equal(t, domain.JobStatusNew, body["status"])
}

func TestHandler_GetJob_NotFound(t *testing.T) {
	f := newFixture(nil, nil, nil)

	rec := f.do(t, http.MethodGet, "/v1/jobs/"+uuid.NewString(), "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
