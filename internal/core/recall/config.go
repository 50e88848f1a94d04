package recall

import (
	"fmt"
	"time"
)

// TrimOrder は予算超過時に recall セグメントを落とす順序を表す
type TrimOrder string

const (
	// TrimByRelevance は類似度の低いものから落とす
	TrimByRelevance TrimOrder = "relevance"
	// TrimByRecency は元メッセージの古いものから落とす
	TrimByRecency TrimOrder = "recency"
)

const (
	DefaultChunkSizeTokens       = 700
	DefaultChunkOverlapTokens    = 140
	DefaultMaxChunksPerMessage   = 8
	DefaultResultLimit           = 5
	DefaultMinSimilarity         = 0.75
	DefaultMaxPromptTokens       = 6000
	DefaultWindowSize            = 12
	DefaultEmbeddingModel        = "text-embedding-3-small"
	DefaultRetrievalTimeout      = 3 * time.Second
	DefaultIndexTimeout          = 60 * time.Second
	DefaultRecallSnippetMaxRunes = 400
)

// Config は Recall Engine の設定を保持する
// 各コンポーネントは構築時に Config を受け取り、それ以外の状態を持たない
type Config struct {
	Enabled bool

	// チャンク分割
	ChunkSizeTokens     int
	ChunkOverlapTokens  int
	MaxChunksPerMessage int

	// 検索
	ResultLimit      int
	MinSimilarity    float64
	RetrievalTimeout time.Duration

	// プロンプト構築
	MaxPromptTokens       int
	WindowSize            int
	RecallSnippetMaxRunes int
	RecallTrimOrder       TrimOrder
	// ReservedPromptTokens は呼び出し元が先頭に付与するシステムプロンプト・要約の分として予算から差し引く
	ReservedPromptTokens int

	// Embedding
	EmbeddingModel string
	IndexTimeout   time.Duration
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Enabled:               true,
		ChunkSizeTokens:       DefaultChunkSizeTokens,
		ChunkOverlapTokens:    DefaultChunkOverlapTokens,
		MaxChunksPerMessage:   DefaultMaxChunksPerMessage,
		ResultLimit:           DefaultResultLimit,
		MinSimilarity:         DefaultMinSimilarity,
		RetrievalTimeout:      DefaultRetrievalTimeout,
		MaxPromptTokens:       DefaultMaxPromptTokens,
		WindowSize:            DefaultWindowSize,
		RecallSnippetMaxRunes: DefaultRecallSnippetMaxRunes,
		RecallTrimOrder:       TrimByRelevance,
		EmbeddingModel:        DefaultEmbeddingModel,
		IndexTimeout:          DefaultIndexTimeout,
	}
}

// Validate は設定値を検証し、不正な場合は ConfigurationError を返す
func (c Config) Validate() error {
	if err := ValidateChunking(c.ChunkSizeTokens, c.ChunkOverlapTokens); err != nil {
		return err
	}
	if c.MaxChunksPerMessage <= 0 {
		return &ConfigurationError{Field: "MaxChunksPerMessage", Reason: "must be positive"}
	}
	if c.ResultLimit < 0 {
		return &ConfigurationError{Field: "ResultLimit", Reason: "must not be negative"}
	}
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		return &ConfigurationError{Field: "MinSimilarity", Reason: fmt.Sprintf("must be within [0, 1], got %v", c.MinSimilarity)}
	}
	if c.RetrievalTimeout <= 0 {
		return &ConfigurationError{Field: "RetrievalTimeout", Reason: "must be positive"}
	}
	if c.MaxPromptTokens <= 0 {
		return &ConfigurationError{Field: "MaxPromptTokens", Reason: "must be positive"}
	}
	if c.ReservedPromptTokens < 0 || c.ReservedPromptTokens >= c.MaxPromptTokens {
		return &ConfigurationError{
			Field:  "ReservedPromptTokens",
			Reason: fmt.Sprintf("must be within [0, MaxPromptTokens), got %d", c.ReservedPromptTokens),
		}
	}
	if c.WindowSize < 0 {
		return &ConfigurationError{Field: "WindowSize", Reason: "must not be negative"}
	}
	if c.RecallSnippetMaxRunes < 4 {
		return &ConfigurationError{Field: "RecallSnippetMaxRunes", Reason: "must be at least 4"}
	}
	switch c.RecallTrimOrder {
	case TrimByRelevance, TrimByRecency:
	default:
		return &ConfigurationError{Field: "RecallTrimOrder", Reason: fmt.Sprintf("unknown value %q", c.RecallTrimOrder)}
	}
	if c.EmbeddingModel == "" {
		return &ConfigurationError{Field: "EmbeddingModel", Reason: "is required"}
	}
	if c.IndexTimeout <= 0 {
		return &ConfigurationError{Field: "IndexTimeout", Reason: "must be positive"}
	}
	return nil
}

// ValidateChunking はチャンクサイズとオーバーラップの組み合わせを検証する
// 0 < overlap < chunkSize を満たす必要がある
func ValidateChunking(chunkSize, overlap int) error {
	if chunkSize <= 0 {
		return &ConfigurationError{Field: "ChunkSizeTokens", Reason: "must be positive"}
	}
	if overlap <= 0 {
		return &ConfigurationError{Field: "ChunkOverlapTokens", Reason: "must be positive"}
	}
	if overlap >= chunkSize {
		return &ConfigurationError{
			Field:  "ChunkOverlapTokens",
			Reason: fmt.Sprintf("must be smaller than chunk size (%d >= %d)", overlap, chunkSize),
		}
	}
	return nil
}
