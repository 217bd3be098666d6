package openaillm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"

	"retrieval-orchestrator/internal/domain"
)

const generationTemperature = 0.0

// Generator implements domain.Generator with an OpenAI-compatible chat
// completion endpoint. Queries are answered concurrently up to the
// configured limit.
type Generator struct {
	client      *openai.Client
	model       string
	concurrency int
	logger      *slog.Logger
}

func NewGenerator(client *openai.Client, model string, concurrency int, logger *slog.Logger) *Generator {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Generator{
		client:      client,
		model:       model,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Generate answers every prepared message list and returns answers keyed by
// query id. One failed query fails the whole batch so a partial answer set
// is never mistaken for a complete one.
func (g *Generator) Generate(ctx context.Context, messages map[string][]domain.Message) (map[string]string, error) {
	if len(messages) == 0 {
		return map[string]string{}, nil
	}

	startTime := time.Now()
	answers := make(map[string]string, len(messages))
	var mu sync.Mutex

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)

	for queryID, turns := range messages {
		eg.Go(func() error {
			answer, err := g.generateOne(gctx, turns)
			if err != nil {
				return fmt.Errorf("generation failed for query %s: %w", queryID, err)
			}
			mu.Lock()
			answers[queryID] = answer
			mu.Unlock()
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	g.logger.Info("generation_completed",
		slog.String("model", g.model),
		slog.Int("query_count", len(answers)),
		slog.Int64("elapsed_ms", time.Since(startTime).Milliseconds()))

	return answers, nil
}

func (g *Generator) generateOne(ctx context.Context, turns []domain.Message) (string, error) {
	chatMessages := make([]openai.ChatCompletionMessage, len(turns))
	for i, turn := range turns {
		chatMessages[i] = openai.ChatCompletionMessage{
			Role:    turn.Role,
			Content: turn.Content,
		}
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    chatMessages,
		Temperature: generationTemperature,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
