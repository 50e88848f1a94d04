package commands

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/urfave/cli/v3"

	"github.com/jinford/chat-recall/internal/infra/postgres"
	"github.com/jinford/chat-recall/internal/platform/container"
	"github.com/jinford/chat-recall/internal/platform/database"
)

// MigrateAction はスキーマを作成するコマンドのアクション
// Embedding API には接続しないため OPENAI_API_KEY は不要
func MigrateAction(ctx context.Context, cmd *cli.Command) error {
	cfg, appLogger, err := loadConfig(cmd.String("env"))
	if err != nil {
		return err
	}

	db, err := container.OpenDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	dimension := cfg.OpenAI.EmbeddingDimension
	appLogger.Info("マイグレーションを開始", "embeddingDimension", dimension)

	if _, err := database.Transact(ctx, db, func(tx pgx.Tx) (struct{}, error) {
		if err := postgres.AcquireXactLock(ctx, tx, postgres.MigrationLockID); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, postgres.Migrate(ctx, tx, dimension)
	}); err != nil {
		return fmt.Errorf("マイグレーションに失敗: %w", err)
	}

	appLogger.Info("マイグレーション完了")
	fmt.Fprintln(output(cmd), "✓ スキーマを作成しました")
	return nil
}
