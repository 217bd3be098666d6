package domain

import (
	"math"
	"sort"
)

// Query is a single information need, immutable once loaded.
type Query struct {
	ID   string
	Text string
}

// Document is a corpus entry, immutable once loaded.
type Document struct {
	ID    string
	Title string
	Text  string
}

// SearchMode selects the query type issued against the candidate index.
type SearchMode string

const (
	ModeLexical SearchMode = "lexical"
	ModeVector  SearchMode = "vector"
	ModeHybrid  SearchMode = "hybrid"
)

// ScoredCandidate is one row returned by a search or rerank call.
//
// Depending on the backend stage, the raw payload carries the score either as
// "score" or as "relevance". Exactly one of the two must be present for the
// row to be usable; CanonicalScore resolves it.
type ScoredCandidate struct {
	DocID     string   `json:"doc_id"`
	Score     *float64 `json:"score,omitempty"`
	Relevance *float64 `json:"relevance,omitempty"`
}

// CanonicalScore returns the single usable score of the candidate.
// The second return value is false for malformed rows: no score field,
// both score fields, or a NaN value.
func (c ScoredCandidate) CanonicalScore() (float64, bool) {
	switch {
	case c.Score != nil && c.Relevance != nil:
		return 0, false
	case c.Score != nil:
		return *c.Score, !math.IsNaN(*c.Score)
	case c.Relevance != nil:
		return *c.Relevance, !math.IsNaN(*c.Relevance)
	default:
		return 0, false
	}
}

// RankingResult maps query id -> doc id -> score. Map iteration order carries
// no guarantee; consumers obtain the per-query descending order via TopDocs.
type RankingResult map[string]map[string]float64

// ScoredDoc is a (document id, score) pair in ranked order.
type ScoredDoc struct {
	DocID string
	Score float64
}

// Qrels holds ground-truth relevance grades: query id -> doc id -> grade.
// Grade 0 means judged irrelevant.
type Qrels map[string]map[string]int

// TopDocs returns up to k documents for the query ordered by descending
// score. Ties are broken by descending doc id, the trec_eval convention, so
// the ordering is a pure function of the mapping's content. k <= 0 returns
// the full ranking.
func (r RankingResult) TopDocs(queryID string, k int) []ScoredDoc {
	docs := r[queryID]
	ranked := make([]ScoredDoc, 0, len(docs))
	for id, score := range docs {
		ranked = append(ranked, ScoredDoc{DocID: id, Score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].DocID > ranked[j].DocID
	})
	if k > 0 && len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}

// Message is a single chat turn sent to the generation model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
