package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"strings"
)

//go:embed schema.sql
var schemaSQL string

const dimensionPlaceholder = "{{EMBEDDING_DIMENSION}}"

// Schema は Embedding 次元を埋め込んだスキーマ定義を返す
func Schema(dimension int) (string, error) {
	if dimension <= 0 {
		return "", fmt.Errorf("embedding dimension must be positive: %d", dimension)
	}
	return strings.ReplaceAll(schemaSQL, dimensionPlaceholder, strconv.Itoa(dimension)), nil
}

// Migrate はスキーマを適用する。既存のテーブル・インデックスはそのまま残す
func Migrate(ctx context.Context, db DBTX, dimension int) error {
	schema, err := Schema(dimension)
	if err != nil {
		return err
	}
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
