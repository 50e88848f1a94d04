package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/jinford/chat-recall/internal/core/recall"
)

var (
	// MigrationLockID はスキーマ適用を直列化するロックID
	MigrationLockID = LockID("chat-recall", "migrate")
	// BackfillLockID はバックフィルの多重実行を防ぐロックID
	BackfillLockID = LockID("chat-recall", "backfill")
)

// TxBeginner はトランザクションを開始できる接続（pgxpool.Pool など）
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// LockID は文字列からアドバイザリロックIDを生成します
func LockID(parts ...string) int64 {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	// ハッシュの先頭8バイトを使用
	return int64(binary.BigEndian.Uint64(h.Sum(nil)[:8]))
}

// AcquireXactLock はトランザクションスコープのアドバイザリロックを取得するまで待ちます
// ロックはトランザクション終了時に解放されるため、db には pgx.Tx を渡します
func AcquireXactLock(ctx context.Context, db DBTX, lockID int64) error {
	if _, err := db.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", lockID); err != nil {
		return fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	return nil
}

// TryAcquireXactLock は待たずにロック取得を試み、取得できたかどうかを返します
func TryAcquireXactLock(ctx context.Context, db DBTX, lockID int64) (bool, error) {
	var acquired bool
	if err := db.QueryRow(ctx, "SELECT pg_try_advisory_xact_lock($1)", lockID).Scan(&acquired); err != nil {
		return false, fmt.Errorf("failed to try advisory lock: %w", err)
	}
	return acquired, nil
}

// TryWithXactLock はロックを待たずに取得を試み、取得できた場合のみ fn を実行します
// ロックは fn の完了までトランザクションで保持します。取得できなかった場合は false を返します
func TryWithXactLock(ctx context.Context, db TxBeginner, lockID int64, fn func(ctx context.Context) error) (bool, error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin lock transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	acquired, err := TryAcquireXactLock(ctx, tx, lockID)
	if err != nil || !acquired {
		return false, err
	}
	return true, fn(ctx)
}

// BackfillRunner はバックフィル1回分を実行する
type BackfillRunner interface {
	Run(ctx context.Context) (recall.BackfillResult, error)
}

// ExclusiveBackfiller は複数プロセス間でバックフィルが重ならないようにする
// 他のプロセスが実行中の場合は何もせず空の結果を返す
type ExclusiveBackfiller struct {
	db     TxBeginner
	inner  BackfillRunner
	logger *slog.Logger
}

// NewExclusiveBackfiller は新しい ExclusiveBackfiller を作成する
func NewExclusiveBackfiller(db TxBeginner, inner BackfillRunner, logger *slog.Logger) *ExclusiveBackfiller {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExclusiveBackfiller{db: db, inner: inner, logger: logger}
}

func (b *ExclusiveBackfiller) Run(ctx context.Context) (recall.BackfillResult, error) {
	var result recall.BackfillResult
	acquired, err := TryWithXactLock(ctx, b.db, BackfillLockID, func(ctx context.Context) error {
		var runErr error
		result, runErr = b.inner.Run(ctx)
		return runErr
	})
	if err != nil {
		return result, err
	}
	if !acquired {
		b.logger.Info("他のプロセスがバックフィル中のためスキップ")
	}
	return result, nil
}
