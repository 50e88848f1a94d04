package commands

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/jinford/chat-recall/internal/core/recall"
	"github.com/jinford/chat-recall/internal/infra/postgres"
)

// IndexAction は保存済みメッセージ1件をインデックス化するコマンドのアクション
func IndexAction(ctx context.Context, cmd *cli.Command) error {
	messageID, err := uuid.Parse(cmd.String("message-id"))
	if err != nil {
		return fmt.Errorf("message-id が不正です: %w", err)
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	found, err := appCtx.Container.Messages.GetMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("メッセージの取得に失敗: %w", err)
	}
	msg, ok := found.Get()
	if !ok {
		return fmt.Errorf("メッセージが見つかりません: %s", messageID)
	}

	result := appCtx.Container.Engine.Index(ctx, msg)
	stored, err := appCtx.Container.Chunks.CountChunks(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("チャンク数の取得に失敗: %w", err)
	}
	appCtx.Logger().Info("インデックス化完了",
		"messageID", msg.ID,
		"written", result.Written,
		"failed", result.Failed,
		"stored", stored,
	)

	renderIndexResult(output(cmd), result, stored)
	if result.Failed > 0 {
		return fmt.Errorf("%d 件のチャンクのインデックス化に失敗しました", result.Failed)
	}
	return nil
}

// BackfillAction は未インデックスのメッセージを1回分インデックス化するコマンドのアクション
func BackfillAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	backfiller := appCtx.Container.Backfiller
	if n := cmd.Int("batch-size"); n > 0 {
		backfiller = postgres.NewExclusiveBackfiller(appCtx.Container.Database().Pool, recall.NewBackfiller(
			appCtx.Container.Messages,
			appCtx.Container.Engine,
			recall.WithBatchSize(n),
			recall.WithBackfillerLogger(appCtx.Logger()),
		), appCtx.Logger())
	}

	result, err := backfiller.Run(ctx)
	appCtx.Container.Metrics.RecordBackfill(err)
	if err != nil {
		return fmt.Errorf("バックフィルに失敗: %w", err)
	}

	renderBackfillResult(output(cmd), result)
	return nil
}

// ForgetAction はメッセージを論理削除し、以降の recall と直近ターンから除外するコマンドのアクション
func ForgetAction(ctx context.Context, cmd *cli.Command) error {
	messageID, err := uuid.Parse(cmd.String("message-id"))
	if err != nil {
		return fmt.Errorf("message-id が不正です: %w", err)
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	deleted, err := appCtx.Container.Messages.SoftDeleteMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("メッセージの削除に失敗: %w", err)
	}
	if !deleted {
		return fmt.Errorf("メッセージが見つかりません: %s", messageID)
	}

	appCtx.Logger().Info("メッセージを削除", "messageID", messageID)
	fmt.Fprintf(output(cmd), "✓ メッセージ %s を recall 対象から除外しました\n", messageID)
	return nil
}
