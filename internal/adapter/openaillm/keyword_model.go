package openaillm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const keywordSystemPrompt = `Extract search keywords from input query, focus on financial terms, companies, person names, and dates.
Expand the query by adding more keywords that are semantically related to the query, consider synonyms, related terms, and variations to broaden the scope.
Ensure the extracted and expanded search keywords are relevant to a finance domain. Avoid generic terms like "financial statement".
Output keywords in a comma-separated list, nothing else.`

// keywordSeed pins the completion sampling so repeated runs over the same
// query set produce comparable expansions.
const keywordSeed = 42

// KeywordModel implements domain.KeywordModel with an OpenAI-compatible
// chat completion endpoint.
type KeywordModel struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

func NewKeywordModel(client *openai.Client, model string, logger *slog.Logger) *KeywordModel {
	return &KeywordModel{
		client: client,
		model:  model,
		logger: logger,
	}
}

// ExtractKeywords asks the model for finance-domain search keywords and
// returns them split on the comma-separated list format the prompt demands.
func (m *KeywordModel) ExtractKeywords(ctx context.Context, query string) ([]string, error) {
	seed := keywordSeed
	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: m.model,
		Seed:  &seed,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: keywordSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Input query: %s", query)},
		},
		MaxTokens: 256,
	})
	if err != nil {
		return nil, fmt.Errorf("keyword completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("keyword completion returned no choices")
	}

	keywords := strings.Split(resp.Choices[0].Message.Content, ", ")

	m.logger.Debug("keywords_extracted",
		slog.String("model", m.model),
		slog.Int("keyword_count", len(keywords)))

	return keywords, nil
}
