package recall

import (
	"strings"
	"unicode/utf8"
)

// Chunker はテキストを重なりのある固定長トークンウィンドウに分割する
// 入力のみで出力が決まり、副作用を持たない
type Chunker struct {
	tokenizer Tokenizer
}

// NewChunker は新しい Chunker を作成する
func NewChunker(tokenizer Tokenizer) *Chunker {
	return &Chunker{tokenizer: tokenizer}
}

// Chunk はテキストを chunkSize トークンのウィンドウに分割する
//
// ウィンドウ i は i*(chunkSize-overlap) から始まり、最大 chunkSize トークンを含む（N で打ち切り）。
// 最後のウィンドウの終端が N に達した時点で終了する。
// N <= chunkSize の場合はテキスト全体を1つのウィンドウとして返す。
func (c *Chunker) Chunk(text string, chunkSize, overlap int) ([]Window, error) {
	if err := ValidateChunking(chunkSize, overlap); err != nil {
		return nil, err
	}

	tokens := c.tokenizer.Encode(text)
	total := len(tokens)

	if total <= chunkSize {
		return []Window{{
			Index:      0,
			Text:       text,
			StartToken: 0,
			EndToken:   total,
		}}, nil
	}

	step := chunkSize - overlap
	windows := make([]Window, 0, WindowCount(total, chunkSize, overlap))
	for start := 0; start < total; start += step {
		end := min(start+chunkSize, total)
		windows = append(windows, Window{
			Index:      len(windows),
			Text:       snapToRunes(c.tokenizer.Decode(tokens[start:end])),
			StartToken: start,
			EndToken:   end,
		})
		if end == total {
			break
		}
	}

	return windows, nil
}

// snapToRunes はウィンドウ境界で分断されたマルチバイト文字の断片を両端から取り除く
// 1文字が複数トークンに分かれる場合でも、前後のウィンドウとのオーバーラップで本文は欠落しない
func snapToRunes(s string) string {
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		if r != utf8.RuneError || size != 1 {
			break
		}
		s = s[1:]
	}
	for len(s) > 0 {
		r, size := utf8.DecodeLastRuneInString(s)
		if r != utf8.RuneError || size != 1 {
			break
		}
		s = s[:len(s)-1]
	}
	return strings.ToValidUTF8(s, "")
}

// WindowCount はトークン数 total に対して生成されるウィンドウ数を返す
// ceil((total-overlap)/(chunkSize-overlap))、total <= chunkSize の場合は 1
func WindowCount(total, chunkSize, overlap int) int {
	if total <= chunkSize {
		return 1
	}
	step := chunkSize - overlap
	return (total - overlap + step - 1) / step
}
