package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"retrieval-orchestrator/internal/domain"
)

type corpusIndexRepository struct {
	pool      *pgxpool.Pool
	txManager domain.TransactionManager
}

// NewCorpusIndexRepository creates a new CorpusIndexRepository.
func NewCorpusIndexRepository(pool *pgxpool.Pool, txManager domain.TransactionManager) domain.CorpusIndexRepository {
	return &corpusIndexRepository{pool: pool, txManager: txManager}
}

type dbExecutor interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

func (r *corpusIndexRepository) getExecutor(ctx context.Context) dbExecutor {
	tx := ExtractTx(ctx)
	if tx != nil {
		return tx
	}
	return r.pool
}

// BulkUpsert replaces each document by id: delete-then-copy inside one
// transaction so a re-ingested batch is never half visible.
func (r *corpusIndexRepository) BulkUpsert(ctx context.Context, docs []domain.IndexedDocument) error {
	if len(docs) == 0 {
		return nil
	}

	ids := make([]string, len(docs))
	rows := make([][]interface{}, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
		rows[i] = []interface{}{
			doc.ID,
			doc.Title,
			doc.Text,
			doc.SourceHash,
			doc.Embedding,
		}
	}

	return r.txManager.RunInTx(ctx, func(ctx context.Context) error {
		exec := r.getExecutor(ctx)

		if _, err := exec.Exec(ctx, `DELETE FROM corpus_documents WHERE id = ANY($1)`, ids); err != nil {
			return fmt.Errorf("failed to delete stale documents: %w", err)
		}

		_, err := exec.CopyFrom(
			ctx,
			pgx.Identifier{"corpus_documents"},
			[]string{"id", "title", "body", "source_hash", "embedding"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("failed to bulk insert documents: %w", err)
		}
		return nil
	})
}

func (r *corpusIndexRepository) SourceHashes(ctx context.Context) (map[string]string, error) {
	query := `SELECT id, source_hash FROM corpus_documents`

	rows, err := r.getExecutor(ctx).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query source hashes: %w", err)
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, fmt.Errorf("failed to scan source hash: %w", err)
		}
		hashes[id] = hash
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return hashes, nil
}

func (r *corpusIndexRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM corpus_documents`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}
