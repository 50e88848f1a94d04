package recall

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// wordTokenizer は空白区切りの単語を1トークンとして扱うテスト用トークナイザ
type wordTokenizer struct {
	mu    sync.Mutex
	vocab map[string]int
	words []string
}

func newWordTokenizer() *wordTokenizer {
	return &wordTokenizer{vocab: make(map[string]int)}
}

func (t *wordTokenizer) Encode(text string) []int {
	t.mu.Lock()
	defer t.mu.Unlock()

	fields := strings.Fields(text)
	tokens := make([]int, len(fields))
	for i, w := range fields {
		id, ok := t.vocab[w]
		if !ok {
			id = len(t.words)
			t.vocab[w] = id
			t.words = append(t.words, w)
		}
		tokens[i] = id
	}
	return tokens
}

func (t *wordTokenizer) Decode(tokens []int) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	words := make([]string, len(tokens))
	for i, id := range tokens {
		words[i] = t.words[id]
	}
	return strings.Join(words, " ")
}

func (t *wordTokenizer) Count(text string) int {
	return len(strings.Fields(text))
}

type chunkKey struct {
	messageID  uuid.UUID
	chunkIndex int
}

// stubStore はメモリ上で Embedding 生成とチャンク保存を模倣する
type stubStore struct {
	mu sync.Mutex

	rows       map[chunkKey]Chunk
	embedCalls int
	queryCalls int
	upserts    int

	model      string
	embedErr   func(text string) error
	embedBlock bool
	upsertErr  error

	candidates []RecallCandidate
	queryErr   error
	lastLimit  int
	lastScope  SessionScope
}

func newStubStore() *stubStore {
	return &stubStore{
		rows:  make(map[chunkKey]Chunk),
		model: "stub-model",
	}
}

func (s *stubStore) Embed(ctx context.Context, text string) ([]float32, string, error) {
	s.mu.Lock()
	s.embedCalls++
	block := s.embedBlock
	embedErr := s.embedErr
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, "", ctx.Err()
	}
	if embedErr != nil {
		if err := embedErr(text); err != nil {
			return nil, "", err
		}
	}
	return []float32{float32(len(text)), 1}, s.model, nil
}

func (s *stubStore) UpsertChunk(ctx context.Context, chunk Chunk) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.upserts++
	if s.upsertErr != nil {
		return false, s.upsertErr
	}
	key := chunkKey{messageID: chunk.MessageID, chunkIndex: chunk.ChunkIndex}
	if _, exists := s.rows[key]; exists {
		return false, nil
	}
	s.rows[key] = chunk
	return true, nil
}

func (s *stubStore) QuerySimilar(ctx context.Context, scope SessionScope, queryVector []float32, limit int, minSimilarity float64) ([]RecallCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queryCalls++
	s.lastLimit = limit
	s.lastScope = scope
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.candidates, nil
}

func (s *stubStore) snapshot() map[chunkKey]Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[chunkKey]Chunk, len(s.rows))
	for k, v := range s.rows {
		out[k] = v
	}
	return out
}

func (s *stubStore) providerCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.embedCalls + s.queryCalls + s.upserts
}

type stubMessages struct {
	turns      []Message
	err        error
	lastWindow int
}

func (m *stubMessages) GetRecentTurns(ctx context.Context, scope SessionScope, windowSize int) ([]Message, error) {
	m.lastWindow = windowSize
	if m.err != nil {
		return nil, m.err
	}
	return m.turns, nil
}

// recordingMetrics は記録されたメトリクスを保持する
type recordingMetrics struct {
	mu        sync.Mutex
	written   int
	failed    int
	outcomes  []string
	assembled []int
}

func (r *recordingMetrics) RecordChunksIndexed(written, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.written += written
	r.failed += failed
}

func (r *recordingMetrics) RecordRetrieval(outcome string, candidates int, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recordingMetrics) RecordAssembly(promptTokens, recallDropped, turnsDropped int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assembled = append(r.assembled, promptTokens)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// words は prefix0 prefix1 ... の形式で n 単語のテキストを生成する
func words(prefix string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(parts, " ")
}

func testMessage(text string) Message {
	return Message{
		ID:        uuid.New(),
		SessionID: uuid.New(),
		Role:      RoleUser,
		Text:      text,
		CreatedAt: time.Date(2024, 1, 2, 15, 4, 0, 0, time.UTC),
	}
}
