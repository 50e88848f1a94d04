package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/jinford/chat-recall/internal/core/recall"
)

// parseNewTurn はフラグから新しいターンを組み立てる
func parseNewTurn(sessionStr, roleStr, text string, now time.Time) (recall.Message, error) {
	session, err := uuid.Parse(sessionStr)
	if err != nil {
		return recall.Message{}, fmt.Errorf("session が不正です: %w", err)
	}

	role := recall.Role(strings.ToLower(strings.TrimSpace(roleStr)))
	if !role.IsValid() {
		return recall.Message{}, fmt.Errorf("role が不正です: %q", roleStr)
	}

	if strings.TrimSpace(text) == "" {
		return recall.Message{}, fmt.Errorf("text が空です")
	}

	return recall.Message{
		SessionID:   session,
		Role:        role,
		Text:        text,
		MessageType: recall.MessageTypeText,
		CreatedAt:   now.UTC(),
	}, nil
}

// ContextAction は新しいターンに対するプロンプトを構築するコマンドのアクション
func ContextAction(ctx context.Context, cmd *cli.Command) error {
	newTurn, err := parseNewTurn(cmd.String("session"), cmd.String("role"), cmd.String("text"), time.Now())
	if err != nil {
		return err
	}
	persist := cmd.Bool("persist")

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if persist {
		newTurn, err = appCtx.Container.Messages.InsertMessage(ctx, newTurn)
		if err != nil {
			return fmt.Errorf("メッセージの保存に失敗: %w", err)
		}
		appCtx.Logger().Info("メッセージを保存", "messageID", newTurn.ID, "sessionID", newTurn.SessionID)
	}

	prompt, err := appCtx.Container.Engine.AssembleContext(ctx, newTurn.SessionID, newTurn)
	if err != nil {
		return fmt.Errorf("プロンプトの構築に失敗: %w", err)
	}

	if persist {
		// Close で完了を待つ
		appCtx.Container.Engine.IndexAsync(ctx, newTurn)
	}

	if cmd.Bool("json") {
		return writeJSON(output(cmd), prompt)
	}
	renderPrompt(output(cmd), prompt)
	return nil
}
