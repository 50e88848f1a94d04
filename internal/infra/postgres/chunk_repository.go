package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jinford/chat-recall/internal/core/recall"
)

const upsertChunkSQL = `
INSERT INTO message_embeddings (
    message_id, chunk_index, chunk_text, start_token, end_token,
    chunk_count, embedding, model, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (message_id, chunk_index) DO NOTHING`

// コサイン距離の昇順で並べることで HNSW インデックスを利用する
const querySimilarSQL = `
SELECT
    e.message_id, e.chunk_index, e.chunk_text, e.start_token, e.end_token,
    e.chunk_count, e.model, e.created_at,
    m.role, m.created_at,
    1 - (e.embedding <=> $1) AS similarity
FROM message_embeddings e
JOIN chat_messages m ON m.id = e.message_id
WHERE m.session_id = $2
  AND m.deleted_at IS NULL
  AND 1 - (e.embedding <=> $1) >= $3
ORDER BY e.embedding <=> $1 ASC, e.created_at DESC
LIMIT $4`

const countChunksSQL = `SELECT count(*) FROM message_embeddings WHERE message_id = $1`

// ChunkRepository は recall.ChunkStore を実装する PostgreSQL + pgvector リポジトリ
type ChunkRepository struct {
	db DBTX
}

// NewChunkRepository は新しい ChunkRepository を作成する
func NewChunkRepository(db DBTX) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// コンパイル時の型チェック
var _ recall.ChunkStore = (*ChunkRepository)(nil)

func (r *ChunkRepository) UpsertChunk(ctx context.Context, chunk recall.Chunk) (bool, error) {
	tag, err := r.db.Exec(ctx, upsertChunkSQL,
		UUIDToPgtype(chunk.MessageID),
		IntToPgtype(chunk.ChunkIndex),
		chunk.ChunkText,
		IntToPgtype(chunk.StartToken),
		IntToPgtype(chunk.EndToken),
		IntToPgtype(chunk.ChunkCount),
		pgvector.NewVector(chunk.Embedding),
		chunk.Model,
		TimeToPgtimestamptz(chunk.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert chunk: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ChunkRepository) QuerySimilar(ctx context.Context, scope recall.SessionScope, queryVector []float32, limit int, minSimilarity float64) ([]recall.RecallCandidate, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := r.db.Query(ctx, querySimilarSQL,
		pgvector.NewVector(queryVector),
		UUIDToPgtype(scope),
		minSimilarity,
		int32(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar chunks: %w", err)
	}
	defer rows.Close()

	var results []recall.RecallCandidate
	for rows.Next() {
		var (
			messageID        pgtype.UUID
			chunkIndex       pgtype.Int4
			chunkText        string
			startToken       pgtype.Int4
			endToken         pgtype.Int4
			chunkCount       pgtype.Int4
			model            string
			createdAt        pgtype.Timestamptz
			role             string
			messageCreatedAt pgtype.Timestamptz
			similarity       float64
		)
		if err := rows.Scan(
			&messageID, &chunkIndex, &chunkText, &startToken, &endToken,
			&chunkCount, &model, &createdAt,
			&role, &messageCreatedAt,
			&similarity,
		); err != nil {
			return nil, fmt.Errorf("failed to scan similar chunk: %w", err)
		}

		results = append(results, recall.RecallCandidate{
			Chunk: recall.Chunk{
				MessageID:  PgtypeToUUID(messageID),
				ChunkIndex: PgtypeToInt(chunkIndex),
				ChunkText:  chunkText,
				StartToken: PgtypeToInt(startToken),
				EndToken:   PgtypeToInt(endToken),
				ChunkCount: PgtypeToInt(chunkCount),
				Model:      model,
				CreatedAt:  PgtimestamptzToTime(createdAt),
			},
			Similarity:       similarity,
			Role:             recall.Role(role),
			MessageCreatedAt: PgtimestamptzToTime(messageCreatedAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate similar chunks: %w", err)
	}

	return results, nil
}

// CountChunks はメッセージに紐づくチャンク数を返す
func (r *ChunkRepository) CountChunks(ctx context.Context, messageID uuid.UUID) (int, error) {
	var count int64
	if err := r.db.QueryRow(ctx, countChunksSQL, UUIDToPgtype(messageID)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return int(count), nil
}
