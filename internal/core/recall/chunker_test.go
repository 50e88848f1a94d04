package recall

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunker_SlidingWindows(t *testing.T) {
	chunker := NewChunker(newWordTokenizer())

	windows, err := chunker.Chunk(words("t", 1500), 700, 140)
	require.NoError(t, err)
	require.Len(t, windows, 3)

	expected := [][2]int{{0, 700}, {560, 1260}, {1120, 1500}}
	for i, w := range windows {
		assert.Equal(t, i, w.Index)
		assert.Equal(t, expected[i][0], w.StartToken)
		assert.Equal(t, expected[i][1], w.EndToken)
	}
	assert.Equal(t, 380, windows[2].Tokens())
	assert.Equal(t, "t560", firstWord(windows[1].Text))
}

func TestChunker_ShortTextIsSingleWindow(t *testing.T) {
	chunker := NewChunker(newWordTokenizer())

	text := "hello   recall\nworld"
	windows, err := chunker.Chunk(text, 700, 140)
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, text, windows[0].Text)
	assert.Equal(t, 0, windows[0].StartToken)
	assert.Equal(t, 3, windows[0].EndToken)
}

func TestChunker_WindowCountProperty(t *testing.T) {
	chunker := NewChunker(newWordTokenizer())

	params := []struct {
		size    int
		overlap int
	}{
		{size: 10, overlap: 1},
		{size: 10, overlap: 9},
		{size: 7, overlap: 3},
		{size: 700, overlap: 140},
	}

	for _, p := range params {
		for _, n := range []int{1, p.size - 1, p.size, p.size + 1, 3 * p.size, 1500} {
			if n <= 0 {
				continue
			}
			windows, err := chunker.Chunk(words("w", n), p.size, p.overlap)
			require.NoError(t, err)

			require.Len(t, windows, WindowCount(n, p.size, p.overlap), "n=%d size=%d overlap=%d", n, p.size, p.overlap)
			for i, w := range windows {
				assert.Equal(t, i, w.Index)
				assert.LessOrEqual(t, w.Tokens(), p.size)
				if i > 0 {
					assert.Equal(t, i*(p.size-p.overlap), w.StartToken)
				}
			}
			assert.Equal(t, n, windows[len(windows)-1].EndToken)
		}
	}
}

func TestChunker_InvalidParameters(t *testing.T) {
	chunker := NewChunker(newWordTokenizer())

	tests := []struct {
		name    string
		size    int
		overlap int
	}{
		{name: "オーバーラップがサイズ以上", size: 100, overlap: 100},
		{name: "オーバーラップが0", size: 100, overlap: 0},
		{name: "サイズが0", size: 0, overlap: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := chunker.Chunk("some text", tt.size, tt.overlap)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))

			var cfgErr *ConfigurationError
			assert.True(t, errors.As(err, &cfgErr))
		})
	}
}

func TestWindowCount(t *testing.T) {
	assert.Equal(t, 1, WindowCount(0, 700, 140))
	assert.Equal(t, 1, WindowCount(700, 700, 140))
	assert.Equal(t, 2, WindowCount(701, 700, 140))
	assert.Equal(t, 3, WindowCount(1500, 700, 140))
}

func firstWord(s string) string {
	for i, r := range s {
		if r == ' ' {
			return s[:i]
		}
	}
	return s
}

// byteTokenizer は1バイトを1トークンとして扱う。cl100k_base が稀な文字に使うバイト単位の分割を模倣する
type byteTokenizer struct{}

func (byteTokenizer) Encode(text string) []int {
	tokens := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		tokens[i] = int(text[i])
	}
	return tokens
}

func (byteTokenizer) Decode(tokens []int) string {
	b := make([]byte, len(tokens))
	for i, t := range tokens {
		b[i] = byte(t)
	}
	return string(b)
}

func (byteTokenizer) Count(text string) int {
	return len(text)
}

func TestChunker_MultiByteRunesStayValid(t *testing.T) {
	chunker := NewChunker(byteTokenizer{})
	text := strings.Repeat("注文😀", 100)

	windows, err := chunker.Chunk(text, 50, 13)
	require.NoError(t, err)
	require.Len(t, windows, WindowCount(len(text), 50, 13))

	prevEnd := 0
	for i, w := range windows {
		require.True(t, utf8.ValidString(w.Text), "window %d is not valid UTF-8: %q", i, w.Text)
		assert.NotContains(t, w.Text, string(utf8.RuneError))
		require.NotEmpty(t, w.Text)

		// 両端の断片を落とした後も元テキストの連続した範囲であり、隣接ウィンドウと隙間なく繋がる
		raw := text[w.StartToken:w.EndToken]
		offset := strings.Index(raw, w.Text)
		require.GreaterOrEqual(t, offset, 0, "window %d", i)
		start := w.StartToken + offset
		end := start + len(w.Text)

		if i == 0 {
			assert.Equal(t, 0, start)
		}
		assert.LessOrEqual(t, start, prevEnd, "gap before window %d", i)
		prevEnd = end
	}
	assert.Equal(t, len(text), prevEnd)
}

func TestSnapToRunes(t *testing.T) {
	emoji := "😀"
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "ascii", in: "abc", want: "abc"},
		{name: "leading fragment", in: emoji[2:] + "注文", want: "注文"},
		{name: "trailing fragment", in: "注文" + emoji[:3], want: "注文"},
		{name: "both ends", in: "文"[1:] + "a" + emoji[:1], want: "a"},
		{name: "only fragment", in: emoji[:2], want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, snapToRunes(tt.in))
		})
	}
}
