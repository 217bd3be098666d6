package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"retrieval-orchestrator/internal/domain"
)

// defaultRRFK is the reciprocal rank fusion constant for hybrid search.
const defaultRRFK = 60.0

const lexicalSearchQuery = `
	SELECT id, ts_rank_cd(tsv, query) AS score
	FROM corpus_documents, websearch_to_tsquery('english', $1) query
	WHERE tsv @@ query
	ORDER BY score DESC
	LIMIT $2
`

const vectorSearchQuery = `
	SELECT id, 1 - (embedding <=> $1) AS score
	FROM corpus_documents
	WHERE embedding IS NOT NULL
	ORDER BY embedding <=> $1
	LIMIT $2
`

const hybridSearchQuery = `
	WITH lexical AS (
		SELECT id, row_number() OVER (ORDER BY ts_rank_cd(tsv, query) DESC) AS rank
		FROM corpus_documents, websearch_to_tsquery('english', $1) query
		WHERE tsv @@ query
		ORDER BY rank
		LIMIT $3
	),
	dense AS (
		SELECT id, row_number() OVER (ORDER BY embedding <=> $2) AS rank
		FROM corpus_documents
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $2
		LIMIT $3
	)
	SELECT COALESCE(lexical.id, dense.id) AS id,
	       COALESCE(1.0 / ($4 + lexical.rank), 0) + COALESCE(1.0 / ($4 + dense.rank), 0) AS score
	FROM lexical
	FULL OUTER JOIN dense USING (id)
	ORDER BY score DESC
	LIMIT $3
`

// corpusSearchRepository implements domain.CandidateSearcher directly
// against the indexed corpus. Lexical search uses full-text ranking,
// vector search uses cosine distance, and hybrid fuses both rankings
// with reciprocal rank fusion.
type corpusSearchRepository struct {
	pool    *pgxpool.Pool
	encoder domain.VectorEncoder
	rrfK    float64
}

// NewCorpusSearchRepository creates a Postgres-backed candidate searcher.
// The encoder embeds query text for the vector and hybrid modes.
func NewCorpusSearchRepository(pool *pgxpool.Pool, encoder domain.VectorEncoder) domain.CandidateSearcher {
	return &corpusSearchRepository{
		pool:    pool,
		encoder: encoder,
		rrfK:    defaultRRFK,
	}
}

func (r *corpusSearchRepository) Search(ctx context.Context, query string, mode domain.SearchMode, topK int) ([]domain.ScoredCandidate, error) {
	switch mode {
	case domain.ModeLexical:
		return r.scan(ctx, lexicalSearchQuery, query, topK)
	case domain.ModeVector:
		embedding, err := r.embedQuery(ctx, query)
		if err != nil {
			return nil, err
		}
		return r.scan(ctx, vectorSearchQuery, embedding, topK)
	case domain.ModeHybrid:
		embedding, err := r.embedQuery(ctx, query)
		if err != nil {
			return nil, err
		}
		return r.scan(ctx, hybridSearchQuery, query, embedding, topK, r.rrfK)
	default:
		return nil, fmt.Errorf("unknown search mode: %q", mode)
	}
}

func (r *corpusSearchRepository) embedQuery(ctx context.Context, query string) (pgvector.Vector, error) {
	embeddings, err := r.encoder.Encode(ctx, []string{query})
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(embeddings) != 1 {
		return pgvector.Vector{}, fmt.Errorf("expected 1 embedding, got %d", len(embeddings))
	}
	return pgvector.NewVector(embeddings[0]), nil
}

func (r *corpusSearchRepository) scan(ctx context.Context, sql string, args ...interface{}) ([]domain.ScoredCandidate, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("search query failed: %w", err)
	}
	defer rows.Close()

	var candidates []domain.ScoredCandidate
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		candidates = append(candidates, domain.ScoredCandidate{DocID: id, Score: &score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return candidates, nil
}
