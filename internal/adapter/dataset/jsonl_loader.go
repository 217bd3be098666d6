package dataset

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"retrieval-orchestrator/internal/domain"
)

// Loader reads a BEIR-style dataset directory:
//
//	corpus.jsonl   {"_id": ..., "title": ..., "text": ...}
//	queries.jsonl  {"_id": ..., "text": ...}
//	qrels/test.tsv query-id <tab> corpus-id <tab> score
type Loader struct {
	dir string
}

func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

type corpusRow struct {
	ID    string `json:"_id"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

type queryRow struct {
	ID   string `json:"_id"`
	Text string `json:"text"`
}

func (l *Loader) LoadCorpus(ctx context.Context) (map[string]domain.Document, error) {
	corpus := make(map[string]domain.Document)
	err := l.eachLine(ctx, filepath.Join(l.dir, "corpus.jsonl"), func(line []byte) error {
		var row corpusRow
		if err := json.Unmarshal(line, &row); err != nil {
			return err
		}
		corpus[row.ID] = domain.Document{ID: row.ID, Title: row.Title, Text: row.Text}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus: %w", err)
	}
	return corpus, nil
}

func (l *Loader) LoadQueries(ctx context.Context) (map[string]string, error) {
	queries := make(map[string]string)
	err := l.eachLine(ctx, filepath.Join(l.dir, "queries.jsonl"), func(line []byte) error {
		var row queryRow
		if err := json.Unmarshal(line, &row); err != nil {
			return err
		}
		queries[row.ID] = row.Text
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load queries: %w", err)
	}
	return queries, nil
}

func (l *Loader) LoadQrels(ctx context.Context) (domain.Qrels, error) {
	path := filepath.Join(l.dir, "qrels", "test.tsv")
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load qrels: %w", err)
	}
	defer func() { _ = file.Close() }()

	qrels := make(domain.Qrels)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) != 3 {
			return nil, fmt.Errorf("failed to load qrels: line %d has %d fields", lineNo, len(fields))
		}
		// Skip the (query-id, corpus-id, score) header row.
		if lineNo == 1 && fields[0] == "query-id" {
			continue
		}

		grade, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("failed to load qrels: line %d: %w", lineNo, err)
		}

		queryID, docID := fields[0], fields[1]
		if qrels[queryID] == nil {
			qrels[queryID] = make(map[string]int)
		}
		qrels[queryID][docID] = grade
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to load qrels: %w", err)
	}
	return qrels, nil
}

func (l *Loader) eachLine(ctx context.Context, path string, fn func(line []byte) error) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	// Corpus documents can run long; allow lines up to 16 MiB.
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		lineNo++
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	return scanner.Err()
}
