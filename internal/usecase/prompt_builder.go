package usecase

import (
	"fmt"
	"strings"

	"retrieval-orchestrator/internal/domain"
)

// DefaultMessageBuilder selects the single highest-scored document for the
// query and builds a fixed two-turn prompt around it.
func DefaultMessageBuilder(queryText string, documents []ScoredDocument) []domain.Message {
	if len(documents) == 0 {
		return nil
	}

	best := documents[0]
	for _, d := range documents[1:] {
		if d.Score > best.Score {
			best = d
		}
	}

	return []domain.Message{
		{Role: "system", Content: "You are a helpful assistant."},
		{
			Role: "user",
			Content: fmt.Sprintf("Document: %s\nGenerate an answer to the question from the document.\nQuestion: %s",
				renderDocument(best.Document), queryText),
		},
	}
}

func renderDocument(doc domain.Document) string {
	if doc.Title == "" {
		return doc.Text
	}
	var sb strings.Builder
	sb.WriteString(doc.Title)
	sb.WriteString("\n")
	sb.WriteString(doc.Text)
	return sb.String()
}
