package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"retrieval-orchestrator/internal/domain"
)

// DefaultRerankBatchSize bounds one cross-encoder call when the caller does
// not choose a batch size.
const DefaultRerankBatchSize = 32

// BatchReranker implements domain.Reranker: it re-scores an existing ranking
// with the candidate reranker, batching the per-query candidate lists so a
// large ranking never lands in a single backend call.
//
// Unlike first-stage retrieval, a rerank failure aborts the whole batch: a
// ranking silently half re-scored would corrupt downstream evaluation.
type BatchReranker struct {
	reranker    domain.CandidateReranker
	concurrency int
	logger      *slog.Logger
}

func NewBatchReranker(reranker domain.CandidateReranker, concurrency int, logger *slog.Logger) *BatchReranker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &BatchReranker{
		reranker:    reranker,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Rerank re-scores each query's candidates and returns a fresh ranking with
// the top topK documents by the new scores. batchSize <= 0 uses the default.
func (b *BatchReranker) Rerank(ctx context.Context, queries map[string]string, corpus map[string]domain.Document, results domain.RankingResult, topK, batchSize int) (domain.RankingResult, error) {
	if topK <= 0 {
		return nil, domain.ErrInvalidTopK
	}
	if batchSize <= 0 {
		batchSize = DefaultRerankBatchSize
	}

	reranked := make(domain.RankingResult, len(results))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for queryID := range results {
		queryText, ok := queries[queryID]
		if !ok {
			return nil, fmt.Errorf("ranking references unknown query id %q", queryID)
		}
		g.Go(func() error {
			ranking, err := b.rerankOne(gctx, queryID, queryText, results, topK, batchSize)
			if err != nil {
				return fmt.Errorf("rerank failed for query %s: %w", queryID, err)
			}
			mu.Lock()
			reranked[queryID] = ranking
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reranked, nil
}

func (b *BatchReranker) rerankOne(ctx context.Context, queryID, queryText string, results domain.RankingResult, topK, batchSize int) (map[string]float64, error) {
	ranked := results.TopDocs(queryID, 0)
	candidates := make([]domain.ScoredCandidate, len(ranked))
	for i, doc := range ranked {
		score := doc.Score
		candidates[i] = domain.ScoredCandidate{DocID: doc.DocID, Score: &score}
	}

	ranking := make(map[string]float64, len(candidates))
	dropped := 0
	for start := 0; start < len(candidates); start += batchSize {
		end := start + batchSize
		if end > len(candidates) {
			end = len(candidates)
		}

		scored, err := b.reranker.Rerank(ctx, queryText, candidates[start:end])
		if err != nil {
			return nil, err
		}
		for _, c := range scored {
			score, ok := c.CanonicalScore()
			if !ok {
				dropped++
				continue
			}
			ranking[c.DocID] = score
		}
	}
	if dropped > 0 {
		b.logger.Warn("malformed_candidates_dropped",
			slog.String("query_id", queryID),
			slog.Int("dropped", dropped))
	}

	return truncateRanking(ranking, queryID, topK), nil
}

// truncateRanking keeps the top-k scores of one query's ranking.
func truncateRanking(ranking map[string]float64, queryID string, topK int) map[string]float64 {
	if len(ranking) <= topK {
		return ranking
	}
	top := domain.RankingResult{queryID: ranking}.TopDocs(queryID, topK)
	out := make(map[string]float64, len(top))
	for _, doc := range top {
		out[doc.DocID] = doc.Score
	}
	return out
}
