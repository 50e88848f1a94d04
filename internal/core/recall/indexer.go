package recall

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// IndexResult はメッセージ1件のインデックス化結果を表す
type IndexResult struct {
	// Written は書き込みに成功したチャンク数（既存行による no-op を含む）
	Written int `json:"written"`
	// Inserted は新規に挿入されたチャンク数
	Inserted int `json:"inserted"`
	// Failed は Embedding 生成または書き込みに失敗したウィンドウ数
	Failed int `json:"failed"`
	// ChunkCount は保存対象のウィンドウ数（上限で切り詰め後の値）
	ChunkCount int `json:"chunkCount"`
	// Truncated は上限によりウィンドウを切り詰めた場合に true
	Truncated bool `json:"truncated"`
}

// Indexer はメッセージをチャンク化し、Embedding と共に保存する
type Indexer struct {
	cfg     Config
	chunker *Chunker
	store   EmbeddingStore
	metrics MetricsRecorder
	logger  *slog.Logger
	now     func() time.Time

	wg sync.WaitGroup
}

type indexerOptions struct {
	logger  *slog.Logger
	metrics MetricsRecorder
	now     func() time.Time
}

// IndexerOption は Indexer のオプション設定
type IndexerOption func(*indexerOptions)

// WithIndexerLogger は Indexer にロガーを設定する
func WithIndexerLogger(logger *slog.Logger) IndexerOption {
	return func(o *indexerOptions) {
		o.logger = logger
	}
}

// WithIndexerMetrics はメトリクス記録先を設定する
func WithIndexerMetrics(m MetricsRecorder) IndexerOption {
	return func(o *indexerOptions) {
		o.metrics = m
	}
}

// WithIndexerClock はチャンクの created_at に使う時刻関数を差し替える
func WithIndexerClock(now func() time.Time) IndexerOption {
	return func(o *indexerOptions) {
		o.now = now
	}
}

// NewIndexer は新しい Indexer を作成する
func NewIndexer(cfg Config, tokenizer Tokenizer, store EmbeddingStore, opts ...IndexerOption) (*Indexer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := indexerOptions{
		logger:  slog.Default(),
		metrics: nopMetrics{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.metrics == nil {
		options.metrics = nopMetrics{}
	}

	return &Indexer{
		cfg:     cfg,
		chunker: NewChunker(tokenizer),
		store:   store,
		metrics: options.metrics,
		logger:  options.logger,
		now:     options.now,
	}, nil
}

// Index はメッセージをチャンク化して保存し、書き込んだチャンク数を含む結果を返す
// 失敗はウィンドウ単位でログに記録して継続し、呼び出し元にエラーを返さない
func (ix *Indexer) Index(ctx context.Context, msg Message) IndexResult {
	if !ix.cfg.Enabled {
		return IndexResult{}
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return IndexResult{}
	}

	windows, err := ix.chunker.Chunk(text, ix.cfg.ChunkSizeTokens, ix.cfg.ChunkOverlapTokens)
	if err != nil {
		// 構築時に検証済みのため通常は到達しない
		ix.logger.Error("チャンク分割に失敗", "messageID", msg.ID, "error", err)
		return IndexResult{}
	}

	result := IndexResult{}
	if len(windows) > ix.cfg.MaxChunksPerMessage {
		ix.logger.Debug("チャンク数を上限で切り詰め",
			"messageID", msg.ID,
			"windows", len(windows),
			"max", ix.cfg.MaxChunksPerMessage,
		)
		windows = windows[:ix.cfg.MaxChunksPerMessage]
		result.Truncated = true
	}
	result.ChunkCount = len(windows)

	createdAt := ix.now().UTC()
	for _, w := range windows {
		if err := ctx.Err(); err != nil {
			ix.logger.Warn("インデックス化を中断", "messageID", msg.ID, "chunkIndex", w.Index, "error", err)
			result.Failed += len(windows) - w.Index
			break
		}

		inserted, err := ix.indexWindow(ctx, msg, w, result.ChunkCount, createdAt)
		if err != nil {
			ix.logger.Warn("チャンクのインデックス化に失敗",
				"messageID", msg.ID,
				"chunkIndex", w.Index,
				"chunkTokens", w.Tokens(),
				"error", err,
			)
			result.Failed++
			continue
		}
		result.Written++
		if inserted {
			result.Inserted++
		}
	}

	ix.metrics.RecordChunksIndexed(result.Written, result.Failed)

	if result.ChunkCount > 1 {
		ix.logger.Debug("チャンク化したEmbeddingを保存",
			"messageID", msg.ID,
			"chunks", result.ChunkCount,
			"written", result.Written,
			"inserted", result.Inserted,
		)
	}

	return result
}

func (ix *Indexer) indexWindow(ctx context.Context, msg Message, w Window, chunkCount int, createdAt time.Time) (bool, error) {
	vector, model, err := ix.store.Embed(ctx, w.Text)
	if err != nil {
		return false, providerError("embed", err)
	}
	if len(vector) == 0 {
		return false, providerError("embed", errEmptyVector)
	}
	if model == "" {
		model = ix.cfg.EmbeddingModel
	}

	inserted, err := ix.store.UpsertChunk(ctx, Chunk{
		MessageID:  msg.ID,
		ChunkIndex: w.Index,
		ChunkText:  w.Text,
		StartToken: w.StartToken,
		EndToken:   w.EndToken,
		ChunkCount: chunkCount,
		Embedding:  vector,
		Model:      model,
		CreatedAt:  createdAt,
	})
	if err != nil {
		return false, providerError("upsert chunk", err)
	}
	return inserted, nil
}

// IndexAsync はバックグラウンドでインデックス化を実行する
// 呼び出し元のキャンセルからは切り離し、IndexTimeout で上限を設ける
func (ix *Indexer) IndexAsync(ctx context.Context, msg Message) {
	if !ix.cfg.Enabled {
		return
	}

	bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ix.cfg.IndexTimeout)
	ix.wg.Add(1)
	go func() {
		defer ix.wg.Done()
		defer cancel()
		ix.Index(bgCtx, msg)
	}()
}

// Wait は実行中のバックグラウンドインデックス化の完了を待つ
func (ix *Indexer) Wait() {
	ix.wg.Wait()
}
