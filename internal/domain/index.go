package domain

import (
	"context"

	"github.com/pgvector/pgvector-go"
)

// VectorEncoder turns document or query text into dense vectors.
type VectorEncoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	// Version identifies the embedding model so stale vectors can be found.
	Version() string
}

// IndexedDocument is a corpus entry prepared for the search index: the
// document plus its embedding and a content hash for idempotent re-ingest.
type IndexedDocument struct {
	Document
	SourceHash string
	Embedding  pgvector.Vector
}

// CorpusIndexRepository persists the searchable corpus.
type CorpusIndexRepository interface {
	// BulkUpsert inserts or replaces documents by id.
	BulkUpsert(ctx context.Context, docs []IndexedDocument) error
	// SourceHashes returns the stored content hash per document id.
	SourceHashes(ctx context.Context) (map[string]string, error)
	// Count reports the number of indexed documents.
	Count(ctx context.Context) (int, error)
}
