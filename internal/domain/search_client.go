package domain

import "context"

// CandidateSearcher issues a typed query against a candidate index.
type CandidateSearcher interface {
	// Search returns up to topK scored candidates for the query. The score
	// scale is mode-dependent; callers must not compare scores across modes.
	Search(ctx context.Context, query string, mode SearchMode, topK int) ([]ScoredCandidate, error)
}

// CandidateReranker re-scores a candidate list against the query with a more
// precise relevance model. The returned rows carry their score as either
// "score" or "relevance" depending on the backend model.
type CandidateReranker interface {
	Rerank(ctx context.Context, query string, candidates []ScoredCandidate) ([]ScoredCandidate, error)
}

// SearchClient is the full candidate-search collaborator: search plus rerank.
type SearchClient interface {
	CandidateSearcher
	CandidateReranker
}

// KeywordModel extracts domain-relevant search keywords from a query via an
// external language model.
type KeywordModel interface {
	ExtractKeywords(ctx context.Context, query string) ([]string, error)
}
