package searchidx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"retrieval-orchestrator/internal/domain"
	"retrieval-orchestrator/internal/infra/resilience"
)

// SearchRequest is the request payload for the typed search endpoint.
type SearchRequest struct {
	Query string `json:"query"`
	Mode  string `json:"mode"`
	TopK  int    `json:"top_k"`
}

// RerankRequest is the request payload for the rerank endpoint.
type RerankRequest struct {
	Query      string                   `json:"query"`
	Candidates []domain.ScoredCandidate `json:"candidates"`
}

// scoredResponse is the shared response envelope of both endpoints. Rows keep
// their raw score fields so malformed entries reach the fusion layer intact.
type scoredResponse struct {
	Results []domain.ScoredCandidate `json:"results"`
}

// Client implements domain.SearchClient against the search index service.
// All calls share a rate limiter and go through the resilience executor.
type Client struct {
	BaseURL string
	Client  *http.Client

	limiter  *rate.Limiter
	executor *resilience.Executor
	logger   *slog.Logger
}

// NewClient constructs a search index client. If httpClient is nil, a
// default client with the given timeout is created.
func NewClient(baseURL string, limiter *rate.Limiter, executor *resilience.Executor, timeout time.Duration, logger *slog.Logger, httpClient ...*http.Client) *Client {
	var c *http.Client
	if len(httpClient) > 0 && httpClient[0] != nil {
		c = httpClient[0]
	} else {
		c = &http.Client{Timeout: timeout}
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Client:   c,
		limiter:  limiter,
		executor: executor,
		logger:   logger,
	}
}

// Search issues a typed query and returns up to topK raw candidate rows.
func (c *Client) Search(ctx context.Context, query string, mode domain.SearchMode, topK int) ([]domain.ScoredCandidate, error) {
	reqBody := SearchRequest{
		Query: query,
		Mode:  string(mode),
		TopK:  topK,
	}

	operation := fmt.Sprintf("search.%s", mode)
	results, err := c.post(ctx, operation, "/v1/search", reqBody)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}

	c.logger.Debug("search_completed",
		slog.String("mode", string(mode)),
		slog.String("query", truncateString(query, 100)),
		slog.Int("result_count", len(results)))

	return results, nil
}

// Rerank re-scores the candidate list with the index's cross-encoder.
func (c *Client) Rerank(ctx context.Context, query string, candidates []domain.ScoredCandidate) ([]domain.ScoredCandidate, error) {
	if len(candidates) == 0 {
		return []domain.ScoredCandidate{}, nil
	}

	startTime := time.Now()
	reqBody := RerankRequest{
		Query:      query,
		Candidates: candidates,
	}

	results, err := c.post(ctx, "rerank", "/v1/rerank", reqBody)
	if err != nil {
		c.logger.Warn("reranking_failed",
			slog.String("error", err.Error()),
			slog.Int64("elapsed_ms", time.Since(startTime).Milliseconds()))
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}

	c.logger.Info("reranking_completed",
		slog.Int("candidate_count", len(candidates)),
		slog.Int("result_count", len(results)),
		slog.Int64("elapsed_ms", time.Since(startTime).Milliseconds()))

	return results, nil
}

func (c *Client) post(ctx context.Context, operation, path string, payload any) ([]domain.ScoredCandidate, error) {
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var results []domain.ScoredCandidate
	call := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(jsonPayload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.Client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return &resilience.StatusError{
				Operation:  operation,
				StatusCode: resp.StatusCode,
				Body:       truncateString(string(body), 500),
			}
		}

		var envelope scoredResponse
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		results = envelope.Results
		return nil
	}

	if c.executor != nil {
		err = c.executor.Execute(ctx, operation, call, resilience.ClassifyHTTP)
	} else {
		err = call(ctx)
	}
	if err != nil {
		if resilience.IsCircuitOpen(err) {
			c.logger.Warn("circuit_open",
				"operation", operation)
		}
		return nil, err
	}
	return results, nil
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
