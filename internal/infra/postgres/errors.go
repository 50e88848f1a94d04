package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrMessageExists は同じIDのメッセージが既に存在する場合のエラー
var ErrMessageExists = errors.New("message already exists")

// IsUniqueViolation は一意制約違反（23505）かどうかを返す
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// IsNoRows は該当行なしのエラーかどうかを返す
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
