package domain

import "context"

// Retriever produces a ranking for every query against the corpus.
type Retriever interface {
	Retrieve(ctx context.Context, queries map[string]string, corpus map[string]Document, topK int) (RankingResult, error)
}

// Reranker re-scores an existing ranking with a second-pass relevance model.
// batchSize <= 0 lets the implementation choose.
type Reranker interface {
	Rerank(ctx context.Context, queries map[string]string, corpus map[string]Document, results RankingResult, topK, batchSize int) (RankingResult, error)
}

// Generator produces one answer per query from prepared chat messages.
// An empty input mapping yields an empty output mapping.
type Generator interface {
	Generate(ctx context.Context, messages map[string][]Message) (map[string]string, error)
}

// DatasetLoader supplies queries, corpus and relevance judgments from a
// dataset source.
type DatasetLoader interface {
	LoadQueries(ctx context.Context) (map[string]string, error)
	LoadCorpus(ctx context.Context) (map[string]Document, error)
	LoadQrels(ctx context.Context) (Qrels, error)
}

// ResultSink persists pipeline output. Implementations own the storage
// format; the orchestrator only decides which stage's result gets written.
type ResultSink interface {
	SaveRankings(results RankingResult, topK int) error
	SaveAnswers(answers map[string]string) error
}
