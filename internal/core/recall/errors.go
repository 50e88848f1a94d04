package recall

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig は設定値が不正な場合のエラー
	ErrInvalidConfig = errors.New("invalid recall configuration")

	// ErrBudgetExceeded は新規ターン単体でトークン予算を超過した場合のエラー
	ErrBudgetExceeded = errors.New("prompt token budget exceeded")

	// ErrProvider は Embedding プロバイダまたは類似検索の呼び出しに失敗した場合のエラー
	ErrProvider = errors.New("recall provider failure")

	errEmptyVector = errors.New("empty embedding vector")
)

// ConfigurationError は静的な設定ミスを表す。構築時にのみ返す
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidConfig, e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrInvalidConfig
}

// BudgetExceededError は必須の新規ターンが予算に収まらないことを表す
type BudgetExceededError struct {
	NewTurnTokens int
	MaxTokens     int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("%s: new turn requires %d tokens, budget is %d", ErrBudgetExceeded, e.NewTurnTokens, e.MaxTokens)
}

func (e *BudgetExceededError) Unwrap() error {
	return ErrBudgetExceeded
}

// ProviderError は埋め込み生成・類似検索・チャンク書き込みの失敗を表す
// インデクサとリトリーバ内で必ず回復され、呼び出し元には返らない
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrProvider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	return []error{ErrProvider, e.Err}
}

func providerError(op string, err error) error {
	return &ProviderError{Op: op, Err: err}
}
