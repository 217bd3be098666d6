package usecase_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"retrieval-orchestrator/internal/domain"
	"retrieval-orchestrator/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRetriever is a test double for domain.Retriever.
type MockRetriever struct {
	mock.Mock
}

func (m *MockRetriever) Retrieve(ctx context.Context, queries map[string]string, corpus map[string]domain.Document, topK int) (domain.RankingResult, error) {
	args := m.Called(ctx, queries, corpus, topK)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(domain.RankingResult), args.Error(1)
}

// MockReranker is a test double for domain.Reranker.
type MockReranker struct {
	mock.Mock
}

func (m *MockReranker) Rerank(ctx context.Context, queries map[string]string, corpus map[string]domain.Document, results domain.RankingResult, topK, batchSize int) (domain.RankingResult, error) {
	args := m.Called(ctx, queries, corpus, results, topK, batchSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(domain.RankingResult), args.Error(1)
}

// MockGenerator is a test double for domain.Generator.
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, messages map[string][]domain.Message) (map[string]string, error) {
	args := m.Called(ctx, messages)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

// MockSink is a test double for domain.ResultSink.
type MockSink struct {
	mock.Mock
}

func (m *MockSink) SaveRankings(results domain.RankingResult, topK int) error {
	return m.Called(results, topK).Error(0)
}

func (m *MockSink) SaveAnswers(answers map[string]string) error {
	return m.Called(answers).Error(0)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testTask(opts ...usecase.TaskOption) *usecase.Task {
	queries := map[string]string{"q1": "what is the revenue?"}
	corpus := map[string]domain.Document{
		"d1": {ID: "d1", Title: "Report", Text: "Revenue was 10M."},
		"d2": {ID: "d2", Title: "Letter", Text: "Unrelated."},
	}
	return usecase.NewTask("demo", queries, corpus, testLogger(), opts...)
}

func TestTask_Retrieve_StoresResultAndAdvances(t *testing.T) {
	task := testTask()
	ranking := domain.RankingResult{"q1": {"d1": 0.9}}

	retriever := new(MockRetriever)
	retriever.On("Retrieve", mock.Anything, mock.Anything, mock.Anything, 10).Return(ranking, nil)

	out, err := task.Retrieve(context.Background(), retriever, 10)
	require.NoError(t, err)
	assert.Equal(t, ranking, out)
	assert.Equal(t, usecase.StageRetrieved, task.Stage())
	assert.Equal(t, ranking, task.RetrieveResults())
}

func TestTask_Retrieve_NilRetriever(t *testing.T) {
	task := testTask()
	_, err := task.Retrieve(context.Background(), nil, 10)
	assert.ErrorIs(t, err, domain.ErrMissingCapability)
}

func TestTask_Retrieve_NotLoaded(t *testing.T) {
	task := usecase.NewTask("empty", nil, nil, testLogger())
	retriever := new(MockRetriever)

	_, err := task.Retrieve(context.Background(), retriever, 10)
	assert.ErrorIs(t, err, domain.ErrNotLoaded)
	retriever.AssertNotCalled(t, "Retrieve", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTask_Rerank_ConsumesStoredRetrieveOutput(t *testing.T) {
	task := testTask()
	retrieved := domain.RankingResult{"q1": {"d1": 0.9, "d2": 0.1}}
	reranked := domain.RankingResult{"q1": {"d2": 0.95, "d1": 0.9}}

	retriever := new(MockRetriever)
	retriever.On("Retrieve", mock.Anything, mock.Anything, mock.Anything, 10).Return(retrieved, nil)
	_, err := task.Retrieve(context.Background(), retriever, 10)
	require.NoError(t, err)

	reranker := new(MockReranker)
	reranker.On("Rerank", mock.Anything, mock.Anything, mock.Anything, retrieved, 10, 0).Return(reranked, nil)

	out, err := task.Rerank(context.Background(), reranker, nil, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, reranked, out)
	assert.Equal(t, usecase.StageReranked, task.Stage())
	reranker.AssertExpectations(t)
}

func TestTask_Rerank_NoInput(t *testing.T) {
	task := testTask()
	reranker := new(MockReranker)

	_, err := task.Rerank(context.Background(), reranker, nil, 10, 0)
	assert.ErrorIs(t, err, domain.ErrNoStageInput)
}

func TestTask_Rerank_FailureLeavesStoredResultUntouched(t *testing.T) {
	task := testTask()
	retrieved := domain.RankingResult{"q1": {"d1": 0.9}}

	retriever := new(MockRetriever)
	retriever.On("Retrieve", mock.Anything, mock.Anything, mock.Anything, 10).Return(retrieved, nil)
	_, err := task.Retrieve(context.Background(), retriever, 10)
	require.NoError(t, err)

	reranker := new(MockReranker)
	reranker.On("Rerank", mock.Anything, mock.Anything, mock.Anything, mock.Anything, 10, 0).
		Return(nil, errors.New("rerank service down"))

	_, err = task.Rerank(context.Background(), reranker, nil, 10, 0)
	require.Error(t, err)
	assert.Nil(t, task.RerankResults())
	assert.Equal(t, retrieved, task.RetrieveResults())
	assert.Equal(t, usecase.StageRetrieved, task.Stage())
}

func TestTask_Generate_PrefersRerankOverRetrieve(t *testing.T) {
	task := testTask()
	retrieved := domain.RankingResult{"q1": {"d1": 0.9}}
	reranked := domain.RankingResult{"q1": {"d2": 0.95}}

	retriever := new(MockRetriever)
	retriever.On("Retrieve", mock.Anything, mock.Anything, mock.Anything, 10).Return(retrieved, nil)
	_, err := task.Retrieve(context.Background(), retriever, 10)
	require.NoError(t, err)

	reranker := new(MockReranker)
	reranker.On("Rerank", mock.Anything, mock.Anything, mock.Anything, mock.Anything, 10, 0).Return(reranked, nil)
	_, err = task.Rerank(context.Background(), reranker, nil, 10, 0)
	require.NoError(t, err)

	var captured map[string][]domain.Message
	generator := new(MockGenerator)
	generator.On("Generate", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(1).(map[string][]domain.Message)
		}).
		Return(map[string]string{"q1": "an answer"}, nil)

	answers, err := task.Generate(context.Background(), generator, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "an answer", answers["q1"])
	assert.Equal(t, usecase.StageGenerated, task.Stage())

	// The prompt must be built from the reranked top document d2.
	require.Len(t, captured["q1"], 2)
	assert.Contains(t, captured["q1"][1].Content, "Unrelated.")
}

func TestTask_Generate_FallsBackToRetrieveWhenNoRerank(t *testing.T) {
	task := testTask()
	retrieved := domain.RankingResult{"q1": {"d1": 0.9}}

	retriever := new(MockRetriever)
	retriever.On("Retrieve", mock.Anything, mock.Anything, mock.Anything, 10).Return(retrieved, nil)
	_, err := task.Retrieve(context.Background(), retriever, 10)
	require.NoError(t, err)

	generator := new(MockGenerator)
	generator.On("Generate", mock.Anything, mock.Anything).Return(map[string]string{"q1": "ok"}, nil)

	_, err = task.Generate(context.Background(), generator, nil, nil)
	require.NoError(t, err)
	generator.AssertExpectations(t)
}

func TestTask_Generate_NoInputAnywhere(t *testing.T) {
	task := testTask()
	generator := new(MockGenerator)

	_, err := task.Generate(context.Background(), generator, nil, nil)
	assert.ErrorIs(t, err, domain.ErrNoStageInput)
}

func TestTask_Generate_UnknownDocumentIsCallerError(t *testing.T) {
	task := testTask()
	generator := new(MockGenerator)

	_, err := task.Generate(context.Background(), generator, domain.RankingResult{"q1": {"ghost": 0.9}}, nil)
	assert.ErrorIs(t, err, domain.ErrUnknownDocument)
	generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestTask_Save_MostRecentStageWins(t *testing.T) {
	sink := new(MockSink)
	task := testTask(usecase.WithSinkFactory(func(outputDir string) domain.ResultSink { return sink }))

	retrieved := domain.RankingResult{"q1": {"d1": 0.9}}
	reranked := domain.RankingResult{"q1": {"d2": 0.95}}

	retriever := new(MockRetriever)
	retriever.On("Retrieve", mock.Anything, mock.Anything, mock.Anything, 10).Return(retrieved, nil)
	_, err := task.Retrieve(context.Background(), retriever, 10)
	require.NoError(t, err)

	reranker := new(MockReranker)
	reranker.On("Rerank", mock.Anything, mock.Anything, mock.Anything, mock.Anything, 10, 0).Return(reranked, nil)
	_, err = task.Rerank(context.Background(), reranker, nil, 10, 0)
	require.NoError(t, err)

	sink.On("SaveRankings", reranked, 5).Return(nil)

	require.NoError(t, task.Save(5, "/tmp/out"))
	sink.AssertExpectations(t)
	sink.AssertNotCalled(t, "SaveAnswers", mock.Anything)
}

func TestTask_Save_EmptyOutputDirIsNoOp(t *testing.T) {
	sink := new(MockSink)
	task := testTask(usecase.WithSinkFactory(func(outputDir string) domain.ResultSink { return sink }))

	require.NoError(t, task.Save(5, ""))
	sink.AssertNotCalled(t, "SaveRankings", mock.Anything, mock.Anything)
}

// slowRetriever blocks until released so a second stage call can overlap.
type slowRetriever struct {
	started chan struct{}
	release chan struct{}
}

func (r *slowRetriever) Retrieve(ctx context.Context, queries map[string]string, corpus map[string]domain.Document, topK int) (domain.RankingResult, error) {
	close(r.started)
	<-r.release
	return domain.RankingResult{}, nil
}

func TestTask_ConcurrentStageInvocationRejected(t *testing.T) {
	task := testTask()
	slow := &slowRetriever{started: make(chan struct{}), release: make(chan struct{})}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = task.Retrieve(context.Background(), slow, 10)
	}()

	<-slow.started
	_, err := task.Retrieve(context.Background(), new(MockRetriever), 10)
	assert.ErrorIs(t, err, domain.ErrStageInProgress)

	close(slow.release)
	wg.Wait()
}
