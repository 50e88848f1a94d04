package recall

import (
	"context"
	"time"
)

// Tokenizer はモデルトークン相当の単位でテキストを符号化する
type Tokenizer interface {
	// Encode はテキストをトークン列に変換する
	Encode(text string) []int

	// Decode はトークン列をテキストに戻す
	Decode(tokens []int) string

	// Count はテキストのトークン数を返す
	Count(text string) int
}

// Embedder はテキストをベクトル表現に変換するインターフェース
type Embedder interface {
	// Embed は単一テキストのEmbeddingと使用したモデル名を返す
	Embed(ctx context.Context, text string) ([]float32, string, error)
}

// ChunkStore はチャンクの永続化と類似検索を担うインターフェース
type ChunkStore interface {
	// UpsertChunk は (MessageID, ChunkIndex) をキーにチャンクを書き込む
	// 既存行がある場合は何もしない（先勝ち）。inserted は新規挿入の場合のみ true
	UpsertChunk(ctx context.Context, chunk Chunk) (inserted bool, err error)

	// QuerySimilar はセッション内で類似度が minSimilarity 以上のチャンクを最大 limit 件返す
	QuerySimilar(ctx context.Context, scope SessionScope, queryVector []float32, limit int, minSimilarity float64) ([]RecallCandidate, error)
}

// EmbeddingStore は Embedding 生成とチャンクストアをまとめたアダプタ
type EmbeddingStore interface {
	Embedder
	ChunkStore
}

type embeddingStore struct {
	Embedder
	ChunkStore
}

// NewEmbeddingStore は Embedder と ChunkStore を1つの EmbeddingStore にまとめる
func NewEmbeddingStore(embedder Embedder, chunks ChunkStore) EmbeddingStore {
	return embeddingStore{Embedder: embedder, ChunkStore: chunks}
}

// MessageStore は会話メッセージの読み取りインターフェース
type MessageStore interface {
	// GetRecentTurns はセッションの直近 windowSize 件を時系列順（古い順）で返す
	GetRecentTurns(ctx context.Context, scope SessionScope, windowSize int) ([]Message, error)
}

// UnindexedMessageLister はチャンク未作成のメッセージを列挙する（バックフィル用）
type UnindexedMessageLister interface {
	ListUnindexedMessages(ctx context.Context, limit int) ([]Message, error)
}

// MetricsRecorder はエンジンの動作を外部メトリクスに記録する
type MetricsRecorder interface {
	RecordChunksIndexed(written, failed int)
	RecordRetrieval(outcome string, candidates int, elapsed time.Duration)
	RecordAssembly(promptTokens, recallDropped, turnsDropped int)
}

// 検索結果の outcome ラベル
const (
	RetrievalOK       = "ok"
	RetrievalDisabled = "disabled"
	RetrievalFailed   = "failed"
	RetrievalTimeout  = "timeout"
)

type nopMetrics struct{}

func (nopMetrics) RecordChunksIndexed(int, int)               {}
func (nopMetrics) RecordRetrieval(string, int, time.Duration) {}
func (nopMetrics) RecordAssembly(int, int, int)               {}
