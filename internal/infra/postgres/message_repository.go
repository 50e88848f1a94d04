package postgres

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/samber/mo"

	"github.com/jinford/chat-recall/internal/core/recall"
)

const messageColumns = `id, session_id, role, message_type, content, media_url, created_at`

const getRecentTurnsSQL = `
SELECT ` + messageColumns + `
FROM chat_messages
WHERE session_id = $1 AND deleted_at IS NULL
ORDER BY created_at DESC, id DESC
LIMIT $2`

const getMessageSQL = `
SELECT ` + messageColumns + `
FROM chat_messages
WHERE id = $1 AND deleted_at IS NULL`

const listUnindexedMessagesSQL = `
SELECT ` + messageColumns + `
FROM chat_messages m
WHERE m.deleted_at IS NULL
  AND btrim(m.content) <> ''
  AND COALESCE((
      SELECT count(*) < max(e.chunk_count)
      FROM message_embeddings e
      WHERE e.message_id = m.id
  ), true)
ORDER BY m.created_at ASC
LIMIT $1`

const insertMessageSQL = `
INSERT INTO chat_messages (` + messageColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

const softDeleteMessageSQL = `
UPDATE chat_messages SET deleted_at = $2
WHERE id = $1 AND deleted_at IS NULL`

// MessageRepository は会話メッセージを扱う PostgreSQL リポジトリ
type MessageRepository struct {
	db  DBTX
	now func() time.Time
}

// NewMessageRepository は新しい MessageRepository を作成する
func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db, now: time.Now}
}

// コンパイル時の型チェック
var (
	_ recall.MessageStore           = (*MessageRepository)(nil)
	_ recall.UnindexedMessageLister = (*MessageRepository)(nil)
)

// GetRecentTurns はセッションの直近 windowSize 件を古い順で返す
func (r *MessageRepository) GetRecentTurns(ctx context.Context, scope recall.SessionScope, windowSize int) ([]recall.Message, error) {
	if windowSize <= 0 {
		return nil, nil
	}

	rows, err := r.db.Query(ctx, getRecentTurnsSQL, UUIDToPgtype(scope), int32(windowSize))
	if err != nil {
		return nil, fmt.Errorf("failed to get recent turns: %w", err)
	}
	messages, err := collectMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent turns: %w", err)
	}

	slices.Reverse(messages)
	return messages, nil
}

// GetMessage はIDでメッセージを取得する。削除済み・存在しない場合は None を返す
func (r *MessageRepository) GetMessage(ctx context.Context, id uuid.UUID) (mo.Option[recall.Message], error) {
	msg, err := scanMessage(r.db.QueryRow(ctx, getMessageSQL, UUIDToPgtype(id)))
	if err != nil {
		if IsNoRows(err) {
			return mo.None[recall.Message](), nil
		}
		return mo.None[recall.Message](), fmt.Errorf("failed to get message: %w", err)
	}
	return mo.Some(msg), nil
}

// ListUnindexedMessages はチャンクが1件もない、または一部のチャンクが欠けている本文ありメッセージを古い順に返す
func (r *MessageRepository) ListUnindexedMessages(ctx context.Context, limit int) ([]recall.Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := r.db.Query(ctx, listUnindexedMessagesSQL, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list unindexed messages: %w", err)
	}
	messages, err := collectMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list unindexed messages: %w", err)
	}
	return messages, nil
}

// InsertMessage はメッセージを保存する。ID・作成日時が未設定の場合は採番する
func (r *MessageRepository) InsertMessage(ctx context.Context, msg recall.Message) (recall.Message, error) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = r.now()
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	if msg.MessageType == "" {
		msg.MessageType = recall.MessageTypeText
	}

	_, err := r.db.Exec(ctx, insertMessageSQL,
		UUIDToPgtype(msg.ID),
		UUIDToPgtype(msg.SessionID),
		string(msg.Role),
		msg.MessageType,
		msg.Text,
		StringPtrToPgtext(msg.MediaURL),
		TimeToPgtimestamptz(msg.CreatedAt),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return recall.Message{}, fmt.Errorf("%w: %s", ErrMessageExists, msg.ID)
		}
		return recall.Message{}, fmt.Errorf("failed to insert message: %w", err)
	}
	return msg, nil
}

// SoftDeleteMessage はメッセージを論理削除する。以降は検索・ウィンドウの対象外になる
func (r *MessageRepository) SoftDeleteMessage(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, softDeleteMessageSQL, UUIDToPgtype(id), TimeToPgtimestamptz(r.now().UTC()))
	if err != nil {
		return false, fmt.Errorf("failed to delete message: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func collectMessages(rows pgx.Rows) ([]recall.Message, error) {
	defer rows.Close()

	var messages []recall.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

func scanMessage(row pgx.Row) (recall.Message, error) {
	var (
		id          pgtype.UUID
		sessionID   pgtype.UUID
		role        string
		messageType string
		content     string
		mediaURL    pgtype.Text
		createdAt   pgtype.Timestamptz
	)
	if err := row.Scan(&id, &sessionID, &role, &messageType, &content, &mediaURL, &createdAt); err != nil {
		return recall.Message{}, err
	}

	return recall.Message{
		ID:          PgtypeToUUID(id),
		SessionID:   PgtypeToUUID(sessionID),
		Role:        recall.Role(role),
		Text:        content,
		MessageType: messageType,
		MediaURL:    PgtextToStringPtr(mediaURL),
		CreatedAt:   PgtimestamptzToTime(createdAt),
	}, nil
}
