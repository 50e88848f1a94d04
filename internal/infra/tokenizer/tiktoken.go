package tokenizer

import (
	"fmt"

	"github.com/jinford/chat-recall/internal/core/recall"
	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding は OpenAI の chat / embedding モデルが使うエンコーディング
const DefaultEncoding = "cl100k_base"

// Tiktoken は tiktoken を利用した Tokenizer 実装
type Tiktoken struct {
	encoding *tiktoken.Tiktoken
}

// New は指定したエンコーディングの Tokenizer を作成する。空の場合は cl100k_base を使う
func New(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding %q: %w", encoding, err)
	}
	return &Tiktoken{encoding: enc}, nil
}

// Encode はテキストをトークン列に変換する
func (t *Tiktoken) Encode(text string) []int {
	return t.encoding.Encode(text, nil, nil)
}

// Decode はトークン列をテキストに戻す
func (t *Tiktoken) Decode(tokens []int) string {
	return t.encoding.Decode(tokens)
}

// Count はテキストのトークン数を返す
func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.Encode(text))
}

// インターフェース実装の確認
var _ recall.Tokenizer = (*Tiktoken)(nil)
