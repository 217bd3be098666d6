package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Env       string
	Server    ServerConfig
	DB        DBConfig
	Search    SearchConfig
	OpenAI    OpenAIConfig
	Retrieval RetrievalConfig
	Output    OutputConfig
	Worker    WorkerConfig
	OTel      OTelConfig
}

type ServerConfig struct {
	Port string
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	MaxConns int32
	MinConns int32
}

// DSN builds the PostgreSQL connection string.
func (d DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type SearchConfig struct {
	// Backend selects the candidate index: "http" for the external search
	// service, "postgres" for the local pgvector-backed index.
	Backend   string
	URL       string
	RateRPS   float64
	RateBurst int
}

type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	KeywordModel   string
	GeneratorModel string
	EmbeddingModel string
}

type RetrievalConfig struct {
	TopK             int
	RerankBatchSize  int
	Concurrency      int
	KeywordCacheSize int
	IngestBatchSize  int
}

type OutputConfig struct {
	Dir string
}

type WorkerConfig struct {
	PollIntervalSeconds int
}

type OTelConfig struct {
	LogsEnabled bool
}

func Load() *Config {
	return &Config{
		Env: getEnv("ENV", "development"),
		Server: ServerConfig{
			Port: getEnv("PORT", "9010"),
		},
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "bench-db"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "bench_user"),
			Password: getSecret("DB_PASSWORD", "DB_PASSWORD_FILE", "bench_password"),
			Name:     getEnv("DB_NAME", "bench_db"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 20)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 5)),
		},
		Search: SearchConfig{
			Backend:   getEnv("SEARCH_BACKEND", "http"),
			URL:       getEnvWithAlt("SEARCH_INDEX_URL", "SEARCH_INDEX_EXTERNAL_URL", "http://search-index:7700"),
			RateRPS:   getEnvFloat64("SEARCH_RATE_RPS", 20),
			RateBurst: getEnvInt("SEARCH_RATE_BURST", 40),
		},
		OpenAI: OpenAIConfig{
			APIKey:         getSecret("OPENAI_API_KEY", "OPENAI_API_KEY_FILE", ""),
			BaseURL:        getEnv("OPENAI_BASE_URL", ""),
			KeywordModel:   getEnv("KEYWORD_MODEL", "gpt-4o-mini"),
			GeneratorModel: getEnv("GENERATOR_MODEL", "gpt-4o-mini"),
			EmbeddingModel: getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		},
		Retrieval: RetrievalConfig{
			TopK:             getEnvInt("RETRIEVE_DEFAULT_TOP_K", 100),
			RerankBatchSize:  getEnvInt("RERANK_BATCH_SIZE", 32),
			Concurrency:      getEnvInt("RETRIEVE_CONCURRENCY", 4),
			KeywordCacheSize: getEnvInt("KEYWORD_CACHE_SIZE", 1000),
			IngestBatchSize:  getEnvInt("INGEST_BATCH_SIZE", 64),
		},
		Output: OutputConfig{
			Dir: getEnv("OUTPUT_DIR", "results"),
		},
		Worker: WorkerConfig{
			PollIntervalSeconds: getEnvInt("WORKER_POLL_INTERVAL_SECONDS", 5),
		},
		OTel: OTelConfig{
			LogsEnabled: getEnvBool("OTEL_LOGS_ENABLED", false),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getSecret(envKey, fileEnvKey, fallback string) string {
	if value, ok := os.LookupEnv(envKey); ok {
		return value
	}

	if filePath, ok := os.LookupEnv(fileEnvKey); ok {
		content, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(content))
		}
	}

	return fallback
}

func getEnvWithAlt(key, altKey, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	if value, ok := os.LookupEnv(altKey); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat64(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
