package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"retrieval-orchestrator/internal/domain"
)

// DefaultIngestBatchSize bounds how many documents are embedded and
// upserted per round trip.
const DefaultIngestBatchSize = 64

type IngestCorpusUsecase interface {
	// Ingest embeds and indexes the corpus. It is idempotent: documents
	// whose content hash is already stored are skipped.
	Ingest(ctx context.Context, corpus map[string]domain.Document) (IngestReport, error)
}

// IngestReport summarizes one ingest run.
type IngestReport struct {
	RunID      string
	Indexed    int
	Skipped    int
	IndexTotal int
	Duration   time.Duration
}

type ingestCorpusUsecase struct {
	repo      domain.CorpusIndexRepository
	encoder   domain.VectorEncoder
	batchSize int
	logger    *slog.Logger
}

func NewIngestCorpusUsecase(repo domain.CorpusIndexRepository, encoder domain.VectorEncoder, batchSize int, logger *slog.Logger) IngestCorpusUsecase {
	if batchSize <= 0 {
		batchSize = DefaultIngestBatchSize
	}
	return &ingestCorpusUsecase{
		repo:      repo,
		encoder:   encoder,
		batchSize: batchSize,
		logger:    logger,
	}
}

func (u *ingestCorpusUsecase) Ingest(ctx context.Context, corpus map[string]domain.Document) (IngestReport, error) {
	report := IngestReport{RunID: uuid.NewString()}
	if len(corpus) == 0 {
		return report, nil
	}

	startTime := time.Now()
	existing, err := u.repo.SourceHashes(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to load stored hashes: %w", err)
	}

	// Stable order keeps batch boundaries reproducible across runs.
	ids := make([]string, 0, len(corpus))
	for id := range corpus {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// The encoder version is part of the hash so switching embedding models
	// invalidates every stored vector.
	encoderVersion := u.encoder.Version()

	var pending []domain.IndexedDocument
	for _, id := range ids {
		doc := corpus[id]
		hash := contentHash(doc, encoderVersion)
		if existing[id] == hash {
			report.Skipped++
			continue
		}
		pending = append(pending, domain.IndexedDocument{
			Document:   doc,
			SourceHash: hash,
		})
	}

	u.logger.Info("corpus_ingest_started",
		slog.String("run_id", report.RunID),
		slog.Int("corpus_size", len(corpus)),
		slog.Int("pending", len(pending)),
		slog.Int("skipped", report.Skipped),
		slog.Int("batch_size", u.batchSize))

	for start := 0; start < len(pending); start += u.batchSize {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		end := start + u.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		texts := make([]string, len(batch))
		for i, d := range batch {
			texts[i] = d.Title + "\n" + d.Text
		}

		embeddings, err := u.encoder.Encode(ctx, texts)
		if err != nil {
			return report, fmt.Errorf("failed to encode batch at offset %d: %w", start, err)
		}
		if len(embeddings) != len(batch) {
			return report, fmt.Errorf("embeddings count mismatch")
		}
		for i := range batch {
			batch[i].Embedding = pgvector.NewVector(embeddings[i])
		}

		if err := u.repo.BulkUpsert(ctx, batch); err != nil {
			return report, fmt.Errorf("failed to upsert batch at offset %d: %w", start, err)
		}
		report.Indexed += len(batch)
	}

	total, err := u.repo.Count(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to count indexed documents: %w", err)
	}
	report.IndexTotal = total

	report.Duration = time.Since(startTime)
	u.logger.Info("corpus_ingest_completed",
		slog.String("run_id", report.RunID),
		slog.Int("indexed", report.Indexed),
		slog.Int("skipped", report.Skipped),
		slog.Int("index_total", report.IndexTotal),
		slog.Int64("elapsed_ms", report.Duration.Milliseconds()))

	return report, nil
}

func contentHash(doc domain.Document, encoderVersion string) string {
	h := sha256.Sum256([]byte(encoderVersion + "\x00" + doc.Title + "\x00" + doc.Text))
	return hex.EncodeToString(h[:])
}
