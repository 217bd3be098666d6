package retrieval

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"retrieval-orchestrator/internal/domain"
)

const keywordSeparator = "; "

// FusionRetriever produces one ranking per query by fusing a lexical
// keyword-search stage with a hybrid (lexical+vector) stage, falling back to
// vector-only search when the hybrid mode fails. It implements
// domain.Retriever.
//
// Failure isolation is per query: any search or rerank failure degrades that
// query's result (empty lexical list, fallback mode, or an empty entry) and
// never aborts the batch.
type FusionRetriever struct {
	search      domain.SearchClient
	expander    *KeywordExpander
	concurrency int
	subset      map[string]struct{}
	logger      *slog.Logger
}

// FusionOption configures a FusionRetriever.
type FusionOption func(*FusionRetriever)

// WithConcurrency bounds the per-query worker pool. Values below 1 keep the
// sequential default.
func WithConcurrency(n int) FusionOption {
	return func(r *FusionRetriever) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithQuerySubset restricts retrieval to the given query ids; queries outside
// the subset produce no entry.
func WithQuerySubset(ids []string) FusionOption {
	return func(r *FusionRetriever) {
		subset := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			subset[id] = struct{}{}
		}
		r.subset = subset
	}
}

// NewFusionRetriever builds a retriever over the candidate-search client and
// keyword expander.
func NewFusionRetriever(search domain.SearchClient, expander *KeywordExpander, logger *slog.Logger, opts ...FusionOption) *FusionRetriever {
	r := &FusionRetriever{
		search:      search,
		expander:    expander,
		concurrency: 1,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve implements domain.Retriever. Duplicate query ids in the mapping
// are already collapsed by map semantics.
func (r *FusionRetriever) Retrieve(ctx context.Context, queries map[string]string, corpus map[string]domain.Document, topK int) (domain.RankingResult, error) {
	list := make([]domain.Query, 0, len(queries))
	for id, text := range queries {
		list = append(list, domain.Query{ID: id, Text: text})
	}
	return r.RetrieveAll(ctx, list, topK)
}

// RetrieveAll runs the fusion algorithm for every query and returns the batch
// ranking. Duplicate query ids: last one wins. On cancellation the entries
// already completed are returned together with the context error; partially
// processed queries are discarded.
func (r *FusionRetriever) RetrieveAll(ctx context.Context, queries []domain.Query, topK int) (domain.RankingResult, error) {
	if topK <= 0 {
		return nil, domain.ErrInvalidTopK
	}

	selected := make([]domain.Query, 0, len(queries))
	seen := make(map[string]int, len(queries))
	for _, q := range queries {
		if r.subset != nil {
			if _, ok := r.subset[q.ID]; !ok {
				continue
			}
		}
		if idx, ok := seen[q.ID]; ok {
			selected[idx] = q
			continue
		}
		seen[q.ID] = len(selected)
		selected = append(selected, q)
	}

	results := make(domain.RankingResult, len(selected))
	if len(selected) == 0 {
		return results, nil
	}

	r.logger.Info("fusion_retrieval_started",
		slog.Int("query_count", len(selected)),
		slog.Int("top_k", topK),
		slog.Int("concurrency", r.concurrency))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, q := range selected {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ranking := r.retrieveOne(gctx, q, topK)
			if err := gctx.Err(); err != nil {
				return err
			}
			mu.Lock()
			results[q.ID] = ranking
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// retrieveOne runs the lexical and dense stages for a single query and fuses
// their candidate lists, lexical first.
func (r *FusionRetriever) retrieveOne(ctx context.Context, q domain.Query, topK int) map[string]float64 {
	var (
		lexical, dense []domain.ScoredCandidate
		denseOK        bool
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		lexical = r.lexicalStage(ctx, q, topK)
	}()
	go func() {
		defer wg.Done()
		dense, denseOK = r.denseStage(ctx, q, topK)
	}()
	wg.Wait()

	// A dense-stage total failure invalidates the query: the lexical list is
	// discarded and the query keeps an empty entry.
	if !denseOK {
		r.logger.Warn("query_result_emptied_after_dense_failure",
			slog.String("query_id", q.ID))
		return map[string]float64{}
	}

	ranking := fuseCandidates(lexical, dense, q.ID, r.logger)
	r.logger.Info("query_retrieved",
		slog.String("query_id", q.ID),
		slog.Int("doc_count", len(ranking)))
	return ranking
}

// lexicalStage expands the query into keywords and runs a reranked full-text
// search. Every failure here is recoverable and yields an empty list.
func (r *FusionRetriever) lexicalStage(ctx context.Context, q domain.Query, topK int) []domain.ScoredCandidate {
	keywords, err := r.expander.Expand(ctx, q.Text)
	if err != nil {
		r.logger.Warn("keyword_expansion_failed",
			slog.String("query_id", q.ID),
			slog.String("error", err.Error()))
		return nil
	}

	keywordQuery := strings.Join(keywords, keywordSeparator)
	candidates, err := r.searchAndRerank(ctx, keywordQuery, domain.ModeLexical, topK)
	if err != nil {
		r.logger.Warn("lexical_search_failed",
			slog.String("query_id", q.ID),
			slog.String("error", err.Error()))
		return nil
	}

	r.logger.Info("lexical_search_completed",
		slog.String("query_id", q.ID),
		slog.Int("candidate_count", len(candidates)))
	return candidates
}

// denseStage runs a reranked hybrid search, falling back to vector-only
// search when the hybrid mode fails. The second return reports whether any
// dense mode succeeded; false means the query ends with an empty result.
func (r *FusionRetriever) denseStage(ctx context.Context, q domain.Query, topK int) ([]domain.ScoredCandidate, bool) {
	candidates, err := r.searchAndRerank(ctx, q.Text, domain.ModeHybrid, topK)
	if err == nil {
		return candidates, true
	}
	r.logger.Warn("hybrid_search_failed_falling_back_to_vector",
		slog.String("query_id", q.ID),
		slog.String("error", err.Error()))

	candidates, err = r.searchAndRerank(ctx, q.Text, domain.ModeVector, topK)
	if err != nil {
		r.logger.Error("vector_search_failed",
			slog.String("query_id", q.ID),
			slog.String("error", err.Error()))
		return nil, false
	}
	return candidates, true
}

func (r *FusionRetriever) searchAndRerank(ctx context.Context, query string, mode domain.SearchMode, topK int) ([]domain.ScoredCandidate, error) {
	candidates, err := r.search.Search(ctx, query, mode, topK)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return candidates, nil
	}
	return r.search.Rerank(ctx, query, candidates)
}

// fuseCandidates concatenates the lexical list ahead of the dense list,
// deduplicates by document id keeping the first occurrence (lexical wins
// ties), drops malformed rows, and resolves the canonical score per row.
// Descending order is reconstructed downstream from the scores.
func fuseCandidates(lexical, dense []domain.ScoredCandidate, queryID string, logger *slog.Logger) map[string]float64 {
	merged := make([]domain.ScoredCandidate, 0, len(lexical)+len(dense))
	merged = append(merged, lexical...)
	merged = append(merged, dense...)

	ranking := make(map[string]float64, len(merged))
	seen := make(map[string]struct{}, len(merged))
	dropped := 0
	for _, c := range merged {
		if _, dup := seen[c.DocID]; dup {
			continue
		}
		seen[c.DocID] = struct{}{}
		score, ok := c.CanonicalScore()
		if !ok {
			dropped++
			continue
		}
		ranking[c.DocID] = score
	}
	if dropped > 0 {
		logger.Warn("malformed_candidates_dropped",
			slog.String("query_id", queryID),
			slog.Int("dropped", dropped))
	}
	return ranking
}
