package recall

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, cfg Config, store *stubStore, messages *stubMessages, metrics MetricsRecorder) *Engine {
	t.Helper()
	engine, err := NewEngine(cfg, newWordTokenizer(), store, messages,
		WithLogger(discardLogger()),
		WithMetrics(metrics),
	)
	require.NoError(t, err)
	return engine
}

func TestEngine_AssembleContext(t *testing.T) {
	store := newStubStore()
	turns := turnsOf(3, 5)
	newTurn := testMessage("what was the plan for friday")

	inWindow := candidate(0.95, "already in window", recallAt)
	inWindow.MessageID = turns[1].ID
	self := candidate(0.99, "the new turn itself", recallAt)
	self.MessageID = newTurn.ID
	old := candidate(0.9, "we agreed to ship on friday", recallAt.AddDate(0, -1, 0))
	store.candidates = []RecallCandidate{inWindow, self, old}

	messages := &stubMessages{turns: append(turns, newTurn)}
	metrics := &recordingMetrics{}
	engine := newTestEngine(t, DefaultConfig(), store, messages, metrics)

	prompt, err := engine.AssembleContext(context.Background(), newTurn.SessionID, newTurn)
	require.NoError(t, err)

	recall := prompt.RecallSegments()
	require.Len(t, recall, 1)
	assert.Equal(t, old.MessageID, recall[0].MessageID)

	require.Len(t, prompt.Segments, 5)
	assert.Equal(t, turns[0].ID, prompt.Segments[1].MessageID)
	assert.Equal(t, SegmentNewTurn, prompt.Segments[4].Kind)
	assert.Equal(t, newTurn.ID, prompt.Segments[4].MessageID)

	assert.Equal(t, DefaultWindowSize, messages.lastWindow)
	assert.Equal(t, DefaultResultLimit, store.lastLimit)
	assert.Equal(t, newTurn.SessionID, store.lastScope)
	assert.Equal(t, []string{RetrievalOK}, metrics.outcomes)
	assert.Len(t, metrics.assembled, 1)
}

func TestEngine_AssembleContextDegradesWithoutRecall(t *testing.T) {
	store := newStubStore()
	store.queryErr = errors.New("pgvector unavailable")
	engine := newTestEngine(t, DefaultConfig(), store, &stubMessages{turns: turnsOf(2, 5)}, &recordingMetrics{})

	prompt, err := engine.AssembleContext(context.Background(), uuid.New(), testMessage("hello"))
	require.NoError(t, err)

	assert.Empty(t, prompt.RecallSegments())
	assert.Len(t, prompt.Segments, 3)
}

func TestEngine_AssembleContextPropagatesErrors(t *testing.T) {
	t.Run("メッセージストアの失敗", func(t *testing.T) {
		messagesErr := errors.New("db closed")
		engine := newTestEngine(t, DefaultConfig(), newStubStore(), &stubMessages{err: messagesErr}, &recordingMetrics{})

		_, err := engine.AssembleContext(context.Background(), uuid.New(), testMessage("hello"))
		require.Error(t, err)
		assert.ErrorIs(t, err, messagesErr)
	})

	t.Run("新規ターンが予算超過", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MaxPromptTokens = 10
		engine := newTestEngine(t, cfg, newStubStore(), &stubMessages{}, &recordingMetrics{})

		_, err := engine.AssembleContext(context.Background(), uuid.New(), testMessage(words("w", 11)))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrBudgetExceeded)
	})
}

func TestEngine_DisabledMakesNoProviderCalls(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	store := newStubStore()
	engine := newTestEngine(t, cfg, store, &stubMessages{turns: turnsOf(2, 5)}, &recordingMetrics{})

	msg := testMessage(words("m", 1500))
	result := engine.Index(context.Background(), msg)
	engine.IndexAsync(context.Background(), msg)
	engine.Wait()

	prompt, err := engine.AssembleContext(context.Background(), msg.SessionID, msg)
	require.NoError(t, err)

	assert.Equal(t, IndexResult{}, result)
	assert.Empty(t, prompt.RecallSegments())
	assert.Equal(t, 0, store.providerCalls())
}

func TestEngine_ZeroWindowSkipsMessageStore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WindowSize = 0
	messages := &stubMessages{err: errors.New("should not be called")}
	engine := newTestEngine(t, cfg, newStubStore(), messages, &recordingMetrics{})

	prompt, err := engine.AssembleContext(context.Background(), uuid.New(), testMessage("hello"))
	require.NoError(t, err)
	assert.Len(t, prompt.Segments, 1)
}

func TestEngine_IndexThenRecall(t *testing.T) {
	store := newStubStore()
	engine := newTestEngine(t, DefaultConfig(), store, &stubMessages{}, &recordingMetrics{})

	msg := testMessage("the launch moved to friday")
	engine.IndexAsync(context.Background(), msg)
	engine.Wait()

	rows := store.snapshot()
	require.Len(t, rows, 1)
	row := rows[chunkKey{messageID: msg.ID, chunkIndex: 0}]
	store.candidates = []RecallCandidate{{
		Chunk:            row,
		Similarity:       0.91,
		Role:             msg.Role,
		MessageCreatedAt: msg.CreatedAt,
	}}

	later := testMessage("when is the launch?")
	later.CreatedAt = msg.CreatedAt.Add(48 * time.Hour)
	prompt, err := engine.AssembleContext(context.Background(), msg.SessionID, later)
	require.NoError(t, err)

	recall := prompt.RecallSegments()
	require.Len(t, recall, 1)
	assert.Equal(t, "[2024-01-02 15:04] User: the launch moved to friday", recall[0].Content)
}

func TestNewEngine_Validation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChunkOverlapTokens = 700

	_, err := NewEngine(cfg, newWordTokenizer(), newStubStore(), &stubMessages{})
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "ChunkOverlapTokens", cfgErr.Field)

	_, err = NewEngine(DefaultConfig(), nil, newStubStore(), &stubMessages{})
	assert.Error(t, err)
}
