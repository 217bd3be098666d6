package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"retrieval-orchestrator/internal/domain"
)

// DefaultKeywordCacheSize bounds the keyword memo. Keyword lists are short,
// so a thousand entries stay well under a megabyte.
const DefaultKeywordCacheSize = 1000

// KeywordExpander extracts expanded search keywords for a query through an
// external language model, memoizing results by the literal query text.
// Safe for concurrent use: the LRU handles its own locking.
type KeywordExpander struct {
	model  domain.KeywordModel
	cache  *lru.Cache[string, []string]
	logger *slog.Logger
}

// NewKeywordExpander wraps the model with a bounded memo. cacheSize <= 0
// falls back to DefaultKeywordCacheSize.
func NewKeywordExpander(model domain.KeywordModel, cacheSize int, logger *slog.Logger) *KeywordExpander {
	if cacheSize <= 0 {
		cacheSize = DefaultKeywordCacheSize
	}
	cache, _ := lru.New[string, []string](cacheSize)
	return &KeywordExpander{
		model:  model,
		cache:  cache,
		logger: logger,
	}
}

// Expand returns the expanded keyword list for the query. A repeated
// identical query returns the stored result without re-invoking the model.
func (e *KeywordExpander) Expand(ctx context.Context, query string) ([]string, error) {
	if keywords, ok := e.cache.Get(query); ok {
		return keywords, nil
	}

	keywords, err := e.model.ExtractKeywords(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to extract keywords: %w", err)
	}

	e.cache.Add(query, keywords)
	e.logger.Debug("keywords_extracted",
		slog.String("query", truncateString(query, 100)),
		slog.Int("keyword_count", len(keywords)))
	return keywords, nil
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
