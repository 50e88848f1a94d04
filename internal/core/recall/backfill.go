package recall

import (
	"context"
	"fmt"
	"log/slog"
)

// DefaultBackfillBatchSize はバックフィル1回あたりの最大メッセージ数
const DefaultBackfillBatchSize = 50

// BackfillResult はバックフィル1回分の集計結果
type BackfillResult struct {
	Messages int `json:"messages"`
	Written  int `json:"written"`
	Inserted int `json:"inserted"`
	Failed   int `json:"failed"`
}

// MessageIndexer はメッセージ1件をインデックス化する
type MessageIndexer interface {
	Index(ctx context.Context, msg Message) IndexResult
}

// Backfiller はチャンク未作成のメッセージをまとめてインデックス化する
// 非同期インデックス化の取りこぼしやモデル変更後の再構築に使う
type Backfiller struct {
	lister    UnindexedMessageLister
	indexer   MessageIndexer
	batchSize int
	logger    *slog.Logger
}

// BackfillerOption は Backfiller のオプション設定
type BackfillerOption func(*Backfiller)

// WithBatchSize は1回の実行で処理するメッセージ数を設定する
func WithBatchSize(n int) BackfillerOption {
	return func(b *Backfiller) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// WithBackfillerLogger は Backfiller にロガーを設定する
func WithBackfillerLogger(logger *slog.Logger) BackfillerOption {
	return func(b *Backfiller) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBackfiller は新しい Backfiller を作成する
func NewBackfiller(lister UnindexedMessageLister, indexer MessageIndexer, opts ...BackfillerOption) *Backfiller {
	b := &Backfiller{
		lister:    lister,
		indexer:   indexer,
		batchSize: DefaultBackfillBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run は未インデックスのメッセージを最大 batchSize 件取得して順にインデックス化する
// 一覧取得の失敗のみエラーとして返す
func (b *Backfiller) Run(ctx context.Context) (BackfillResult, error) {
	messages, err := b.lister.ListUnindexedMessages(ctx, b.batchSize)
	if err != nil {
		return BackfillResult{}, fmt.Errorf("failed to list unindexed messages: %w", err)
	}

	var result BackfillResult
	for _, msg := range messages {
		if err := ctx.Err(); err != nil {
			b.logger.Warn("バックフィルを中断", "processed", result.Messages, "error", err)
			break
		}

		r := b.indexer.Index(ctx, msg)
		result.Messages++
		result.Written += r.Written
		result.Inserted += r.Inserted
		result.Failed += r.Failed
	}

	if result.Messages > 0 {
		b.logger.Info("バックフィル完了",
			"messages", result.Messages,
			"written", result.Written,
			"inserted", result.Inserted,
			"failed", result.Failed,
		)
	}

	return result, nil
}
