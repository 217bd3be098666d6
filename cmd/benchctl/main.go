package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"retrieval-orchestrator/internal/adapter/dataset"
	"retrieval-orchestrator/internal/di"
	"retrieval-orchestrator/internal/domain"
	"retrieval-orchestrator/internal/infra"
	"retrieval-orchestrator/internal/infra/config"
)

var (
	version = "dev"

	// Global flags
	verbose bool

	// Shared run/enqueue flags
	taskName   string
	datasetDir string
	outputDir  string
	topK       int
	batchSize  int
	kValues    []int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "benchctl",
	Short:   "Drive retrieval benchmark runs",
	Version: version,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Embed a dataset corpus into the local candidate index",
	Long: `Embed a dataset corpus and upsert it into the PostgreSQL candidate
index. Documents whose content is unchanged since the last ingest are
skipped.

Examples:
  # Index a dataset corpus
  benchctl ingest --dataset /data/finqa`,
	RunE: runIngest,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a benchmark pipeline end to end",
	Long: `Run the full pipeline for one dataset: retrieve, rerank and generate
where backends are configured, save results, and report metrics for the
requested cutoffs.

Examples:
  # Retrieve and evaluate at the default cutoffs
  benchctl run --task finqa --dataset /data/finqa --k-values 1,5,10

  # Save rankings without evaluating
  benchctl run --task finqa --dataset /data/finqa --output results`,
	RunE: runBenchmark,
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Enqueue a benchmark job on a running orchestrator",
	RunE:  enqueueJob,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	for _, cmd := range []*cobra.Command{runCmd, enqueueCmd} {
		cmd.Flags().StringVar(&taskName, "task", "", "task name, used as the output subdirectory")
		cmd.Flags().StringVar(&datasetDir, "dataset", "", "dataset directory")
		cmd.Flags().StringVar(&outputDir, "output", "", "output directory; empty skips saving")
		cmd.Flags().IntVar(&topK, "top-k", 0, "ranking depth, 0 uses the configured default")
		cmd.Flags().IntVar(&batchSize, "batch-size", 0, "rerank batch size, 0 uses the backend default")
		cmd.Flags().IntSliceVar(&kValues, "k-values", nil, "evaluation cutoffs; empty skips evaluation")
		_ = cmd.MarkFlagRequired("task")
		_ = cmd.MarkFlagRequired("dataset")
	}

	ingestCmd.Flags().StringVar(&datasetDir, "dataset", "", "dataset directory")
	_ = ingestCmd.MarkFlagRequired("dataset")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(enqueueCmd)
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down...", slog.String("signal", sig.String()))
		cancel()
	}()
	return ctx, cancel
}

func runIngest(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	cfg := config.Load()

	ctx, cancel := signalContext(logger)
	defer cancel()

	pool, err := infra.NewPostgresDB(ctx, cfg.DB.DSN(), infra.PoolConfig{
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return fmt.Errorf("connect to db: %w", err)
	}
	defer pool.Close()

	components := di.NewApplicationComponents(cfg, pool, logger)

	loader := dataset.NewLoader(datasetDir)
	corpus, err := loader.LoadCorpus(ctx)
	if err != nil {
		return fmt.Errorf("load corpus: %w", err)
	}

	report, err := components.IngestUsecase.Ingest(ctx, corpus)
	if err != nil {
		return fmt.Errorf("ingest corpus: %w", err)
	}

	fmt.Printf("indexed %d documents, skipped %d unchanged, %d in index (%s)\n",
		report.Indexed, report.Skipped, report.IndexTotal, report.Duration.Round(time.Millisecond))
	return nil
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	cfg := config.Load()

	ctx, cancel := signalContext(logger)
	defer cancel()

	pool, err := infra.NewPostgresDB(ctx, cfg.DB.DSN(), infra.PoolConfig{
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return fmt.Errorf("connect to db: %w", err)
	}
	defer pool.Close()

	components := di.NewApplicationComponents(cfg, pool, logger)

	payload := domain.BenchmarkJobPayload{
		TaskName:   taskName,
		DatasetDir: datasetDir,
		OutputDir:  outputDir,
		TopK:       topK,
		BatchSize:  batchSize,
		KValues:    kValues,
	}
	if payload.TopK <= 0 {
		payload.TopK = cfg.Retrieval.TopK
	}

	report, err := components.RunUsecase.Run(ctx, payload)
	if err != nil {
		return fmt.Errorf("run benchmark: %w", err)
	}

	fmt.Printf("task %s finished at stage %s in %s\n",
		report.TaskName, report.Stage, report.Duration.Round(time.Millisecond))
	if report.Metrics != nil {
		out, err := json.MarshalIndent(report.Metrics, "", "  ")
		if err != nil {
			return fmt.Errorf("encode metrics: %w", err)
		}
		fmt.Println(string(out))
	}
	return nil
}

func enqueueJob(cmd *cobra.Command, args []string) error {
	orchestratorURL := os.Getenv("ORCHESTRATOR_URL")
	if orchestratorURL == "" {
		orchestratorURL = "http://localhost:9010"
	}

	payload := domain.BenchmarkJobPayload{
		TaskName:   taskName,
		DatasetDir: datasetDir,
		OutputDir:  outputDir,
		TopK:       topK,
		BatchSize:  batchSize,
		KValues:    kValues,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(orchestratorURL+"/v1/jobs", "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("enqueue job: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	fmt.Printf("job %s enqueued (%s)\n", body.JobID, body.Status)
	return nil
}
