package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/jinford/chat-recall/internal/core/recall"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Database設定
	Database DatabaseConfig

	// OpenAI設定（Embeddings用）
	OpenAI OpenAIConfig

	// Recall Engine の設定
	Recall recall.Config

	// ログ設定
	Log LogConfig

	// バックフィルワーカー設定
	Worker WorkerConfig
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// OpenAIConfig はOpenAI API設定
type OpenAIConfig struct {
	APIKey             string
	BaseURL            string
	EmbeddingDimension int
}

// LogConfig はロガー設定
type LogConfig struct {
	Level  string
	Format string
}

// WorkerConfig はバックフィルワーカー設定
type WorkerConfig struct {
	Schedule    string
	BatchSize   int
	MetricsAddr string
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	defaults := recall.DefaultConfig()
	env := &envReader{}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     env.str("DB_HOST", "localhost"),
			Port:     env.asInt("DB_PORT", 5432),
			User:     env.str("DB_USER", "recall"),
			Password: env.str("DB_PASSWORD", ""),
			DBName:   env.str("DB_NAME", "chat_recall"),
			SSLMode:  env.str("DB_SSLMODE", "disable"),
			MaxConns: env.asInt("DB_MAX_CONNS", 0),
		},
		OpenAI: OpenAIConfig{
			APIKey:             env.str("OPENAI_API_KEY", ""),
			BaseURL:            env.str("OPENAI_BASE_URL", ""),
			EmbeddingDimension: env.asInt("OPENAI_EMBEDDING_DIMENSION", 1536),
		},
		Recall: recall.Config{
			Enabled:               env.asBool("RECALL_ENABLED", defaults.Enabled),
			ChunkSizeTokens:       env.asInt("RECALL_CHUNK_SIZE_TOKENS", defaults.ChunkSizeTokens),
			ChunkOverlapTokens:    env.asInt("RECALL_CHUNK_OVERLAP_TOKENS", defaults.ChunkOverlapTokens),
			MaxChunksPerMessage:   env.asInt("RECALL_MAX_CHUNKS", defaults.MaxChunksPerMessage),
			ResultLimit:           env.asInt("RECALL_RESULT_LIMIT", defaults.ResultLimit),
			MinSimilarity:         env.asFloat("RECALL_MIN_SIMILARITY", defaults.MinSimilarity),
			RetrievalTimeout:      env.asDuration("RECALL_RETRIEVAL_TIMEOUT", defaults.RetrievalTimeout),
			MaxPromptTokens:       env.asInt("RECALL_MAX_PROMPT_TOKENS", defaults.MaxPromptTokens),
			WindowSize:            env.asInt("RECALL_WINDOW_SIZE", defaults.WindowSize),
			RecallSnippetMaxRunes: env.asInt("RECALL_SNIPPET_MAX_RUNES", defaults.RecallSnippetMaxRunes),
			ReservedPromptTokens:  env.asInt("RECALL_RESERVED_PROMPT_TOKENS", defaults.ReservedPromptTokens),
			RecallTrimOrder:       recall.TrimOrder(strings.ToLower(env.str("RECALL_TRIM_ORDER", string(defaults.RecallTrimOrder)))),
			EmbeddingModel:        env.str("OPENAI_EMBEDDING_MODEL", defaults.EmbeddingModel),
			IndexTimeout:          env.asDuration("RECALL_INDEX_TIMEOUT", defaults.IndexTimeout),
		},
		Log: LogConfig{
			Level:  env.str("LOG_LEVEL", "info"),
			Format: env.str("LOG_FORMAT", "json"),
		},
		Worker: WorkerConfig{
			Schedule:    env.str("WORKER_SCHEDULE", "@every 1m"),
			BatchSize:   env.asInt("WORKER_BATCH_SIZE", recall.DefaultBackfillBatchSize),
			MetricsAddr: env.str("METRICS_ADDR", ":9090"),
		},
	}

	if err := env.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate は起動時に必須の設定を検証します
func (c *Config) Validate() error {
	if err := c.Recall.Validate(); err != nil {
		return err
	}
	if c.OpenAI.EmbeddingDimension <= 0 {
		return fmt.Errorf("OPENAI_EMBEDDING_DIMENSION must be positive: %d", c.OpenAI.EmbeddingDimension)
	}
	return nil
}

// envReader は環境変数を読み取り、解釈できなかった値をエラーとして蓄積します
type envReader struct {
	errs []error
}

func (r *envReader) invalid(key, value, want string) {
	r.errs = append(r.errs, &recall.ConfigurationError{
		Field:  key,
		Reason: fmt.Sprintf("cannot parse %q as %s", value, want),
	})
}

// err は蓄積したエラーをまとめて返します
func (r *envReader) err() error {
	return errors.Join(r.errs...)
}

// str は環境変数を取得し、存在しない場合はデフォルト値を返します
func (r *envReader) str(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// asInt は環境変数を整数として取得します
func (r *envReader) asInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(strings.TrimSpace(valueStr))
	if err != nil {
		r.invalid(key, valueStr, "integer")
		return defaultValue
	}
	return value
}

// asFloat は環境変数を浮動小数点数として取得します
func (r *envReader) asFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(valueStr), 64)
	if err != nil {
		r.invalid(key, valueStr, "number")
		return defaultValue
	}
	return value
}

// asBool は環境変数を真偽値として取得します
func (r *envReader) asBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(strings.TrimSpace(valueStr))
	if err != nil {
		r.invalid(key, valueStr, "boolean")
		return defaultValue
	}
	return value
}

// asDuration は環境変数を時間として取得します（"3s" 形式、または秒数）
func (r *envReader) asDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	if seconds, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return time.Duration(seconds * float64(time.Second))
	}
	r.invalid(key, valueStr, "duration")
	return defaultValue
}
