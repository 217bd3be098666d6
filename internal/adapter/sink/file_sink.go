package sink

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"retrieval-orchestrator/internal/domain"
)

// FileSink writes pipeline output under outputDir/taskName:
//
//	results.csv           top-k (query_id, corpus_id) pairs per query
//	results_output.jsonl  every scored (query_id, corpus_id, score) row
//	output.jsonl          generated (query_id, answer) rows
//
// Queries are written in sorted id order so repeated runs produce
// byte-identical files.
type FileSink struct {
	dir    string
	logger *slog.Logger
}

func NewFileSink(outputDir, taskName string, logger *slog.Logger) *FileSink {
	return &FileSink{
		dir:    filepath.Join(outputDir, taskName),
		logger: logger,
	}
}

type rankingRow struct {
	QueryID  string  `json:"query_id"`
	CorpusID string  `json:"corpus_id"`
	Score    float64 `json:"score"`
}

type answerRow struct {
	QueryID string `json:"query_id"`
	Answer  string `json:"answer"`
}

func (s *FileSink) SaveRankings(results domain.RankingResult, topK int) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	queryIDs := sortedQueryIDs(results)

	jsonlPath := filepath.Join(s.dir, "results_output.jsonl")
	if err := s.writeRankingJSONL(jsonlPath, results, queryIDs); err != nil {
		return err
	}

	csvPath := filepath.Join(s.dir, "results.csv")
	if err := s.writeRankingCSV(csvPath, results, queryIDs, topK); err != nil {
		return err
	}

	s.logger.Info("rankings_saved",
		slog.String("csv_path", csvPath),
		slog.Int("query_count", len(queryIDs)),
		slog.Int("top_k", topK))
	return nil
}

func (s *FileSink) writeRankingJSONL(path string, results domain.RankingResult, queryIDs []string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	encoder := json.NewEncoder(file)
	for _, queryID := range queryIDs {
		for _, doc := range results.TopDocs(queryID, 0) {
			row := rankingRow{QueryID: queryID, CorpusID: doc.DocID, Score: doc.Score}
			if err := encoder.Encode(row); err != nil {
				return fmt.Errorf("failed to write ranking row: %w", err)
			}
		}
	}
	return nil
}

func (s *FileSink) writeRankingCSV(path string, results domain.RankingResult, queryIDs []string, topK int) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"query_id", "corpus_id"}); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, queryID := range queryIDs {
		for _, doc := range results.TopDocs(queryID, topK) {
			if err := writer.Write([]string{queryID, doc.DocID}); err != nil {
				return fmt.Errorf("failed to write csv row: %w", err)
			}
		}
	}

	writer.Flush()
	return writer.Error()
}

func (s *FileSink) SaveAnswers(answers map[string]string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	queryIDs := make([]string, 0, len(answers))
	for id := range answers {
		queryIDs = append(queryIDs, id)
	}
	sort.Strings(queryIDs)

	path := filepath.Join(s.dir, "output.jsonl")
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	encoder := json.NewEncoder(file)
	for _, queryID := range queryIDs {
		if err := encoder.Encode(answerRow{QueryID: queryID, Answer: answers[queryID]}); err != nil {
			return fmt.Errorf("failed to write answer row: %w", err)
		}
	}

	s.logger.Info("answers_saved",
		slog.String("path", path),
		slog.Int("answer_count", len(queryIDs)))
	return nil
}

func sortedQueryIDs(results domain.RankingResult) []string {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
