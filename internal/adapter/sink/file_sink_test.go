package sink

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"retrieval-orchestrator/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestFileSink_SaveRankings(t *testing.T) {
	dir := t.TempDir()
	s := NewFileSink(dir, "FinQA", testLogger())

	results := domain.RankingResult{
		"q1": {"d1": 0.9, "d2": 0.5, "d3": 0.1},
		"q2": {"d4": 0.7},
	}

	require.NoError(t, s.SaveRankings(results, 2))

	csvBytes, err := os.ReadFile(filepath.Join(dir, "FinQA", "results.csv"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(csvBytes)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "query_id,corpus_id", lines[0])
	assert.Equal(t, "q1,d1", lines[1])
	assert.Equal(t, "q1,d2", lines[2])
	assert.Equal(t, "q2,d4", lines[3])
}

func TestFileSink_SaveRankings_JSONLHasEveryRow(t *testing.T) {
	dir := t.TempDir()
	s := NewFileSink(dir, "FinQA", testLogger())

	results := domain.RankingResult{
		"q1": {"d1": 0.9, "d2": 0.5, "d3": 0.1},
	}

	require.NoError(t, s.SaveRankings(results, 1))

	file, err := os.Open(filepath.Join(dir, "FinQA", "results_output.jsonl"))
	require.NoError(t, err)
	defer func() { _ = file.Close() }()

	var rows []rankingRow
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var row rankingRow
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &row))
		rows = append(rows, row)
	}
	require.NoError(t, scanner.Err())

	// The top-k cutoff applies only to the CSV.
	require.Len(t, rows, 3)
	assert.Equal(t, rankingRow{QueryID: "q1", CorpusID: "d1", Score: 0.9}, rows[0])
}

func TestFileSink_SaveAnswers(t *testing.T) {
	dir := t.TempDir()
	s := NewFileSink(dir, "FinQA", testLogger())

	require.NoError(t, s.SaveAnswers(map[string]string{
		"q2": "second answer",
		"q1": "first answer",
	}))

	data, err := os.ReadFile(filepath.Join(dir, "FinQA", "output.jsonl"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first answerRow
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, answerRow{QueryID: "q1", Answer: "first answer"}, first)
}

func TestFileSink_SaveRankings_Deterministic(t *testing.T) {
	results := domain.RankingResult{
		"q2": {"d4": 0.7, "d5": 0.2},
		"q1": {"d1": 0.9, "d2": 0.5},
	}

	dirA, dirB := t.TempDir(), t.TempDir()
	require.NoError(t, NewFileSink(dirA, "t", testLogger()).SaveRankings(results, 10))
	require.NoError(t, NewFileSink(dirB, "t", testLogger()).SaveRankings(results, 10))

	a, err := os.ReadFile(filepath.Join(dirA, "t", "results_output.jsonl"))
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(dirB, "t", "results_output.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
