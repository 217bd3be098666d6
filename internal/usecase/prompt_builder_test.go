package usecase_test

import (
	"testing"

	"retrieval-orchestrator/internal/domain"
	"retrieval-orchestrator/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMessageBuilder_PicksHighestScoredDocument(t *testing.T) {
	docs := []usecase.ScoredDocument{
		{Document: domain.Document{ID: "d1", Title: "A", Text: "first"}, Score: 0.2},
		{Document: domain.Document{ID: "d2", Title: "B", Text: "second"}, Score: 0.9},
		{Document: domain.Document{ID: "d3", Title: "C", Text: "third"}, Score: 0.5},
	}

	messages := usecase.DefaultMessageBuilder("which one?", docs)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].Role)
	assert.Equal(t, "You are a helpful assistant.", messages[0].Content)
	assert.Equal(t, "user", messages[1].Role)
	assert.Contains(t, messages[1].Content, "B\nsecond")
	assert.Contains(t, messages[1].Content, "Question: which one?")
	assert.NotContains(t, messages[1].Content, "first")
}

func TestDefaultMessageBuilder_UntitledDocument(t *testing.T) {
	docs := []usecase.ScoredDocument{
		{Document: domain.Document{ID: "d1", Text: "body only"}, Score: 1.0},
	}

	messages := usecase.DefaultMessageBuilder("q", docs)
	require.Len(t, messages, 2)
	assert.Contains(t, messages[1].Content, "Document: body only\n")
}

func TestDefaultMessageBuilder_NoDocuments(t *testing.T) {
	assert.Nil(t, usecase.DefaultMessageBuilder("q", nil))
}
