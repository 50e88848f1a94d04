package recall

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var recallAt = time.Date(2024, 1, 2, 15, 4, 0, 0, time.UTC)

func newTestAssembler(t *testing.T, cfg Config) *Assembler {
	t.Helper()
	a, err := NewAssembler(cfg, newWordTokenizer(), WithAssemblerLogger(discardLogger()))
	require.NoError(t, err)
	return a
}

func assemblerConfig() Config {
	cfg := DefaultConfig()
	cfg.RecallSnippetMaxRunes = 4000
	return cfg
}

// recallOf は描画後に tokens トークンとなる recall 候補を作る
// "[2024-01-02 15:04] User:" の3トークンを差し引いた本文を持つ
func recallOf(similarity float64, tokens int, at time.Time) RecallCandidate {
	return candidate(similarity, words(fmt.Sprintf("s%v_", similarity), tokens-3), at)
}

func turnsOf(n, tokens int) []Message {
	turns := make([]Message, n)
	for i := range turns {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		turns[i] = Message{
			ID:        uuid.New(),
			Role:      role,
			Text:      words(fmt.Sprintf("turn%d_", i), tokens),
			CreatedAt: recallAt.Add(time.Duration(i) * time.Minute),
		}
	}
	return turns
}

func TestAssembler_DropsRecallBeforeTurns(t *testing.T) {
	recall := []RecallCandidate{
		recallOf(0.78, 100, recallAt),
		recallOf(0.9, 100, recallAt),
		recallOf(0.8, 100, recallAt),
		recallOf(0.85, 100, recallAt),
	}
	turns := turnsOf(9, 100)
	newTurn := testMessage(words("new", 50))

	t.Run("recall削除のみで予算内", func(t *testing.T) {
		a := newTestAssembler(t, assemblerConfig())

		prompt, err := a.Assemble(recall, turns, newTurn, 1000)
		require.NoError(t, err)

		assert.Equal(t, 950, prompt.TotalTokens)
		assert.Empty(t, prompt.RecallSegments())
		assert.Equal(t, 4, prompt.Usage.RecallDropped)
		assert.Equal(t, 0, prompt.Usage.TurnsDropped)
		assert.False(t, prompt.Usage.RecallIncluded)
		require.Len(t, prompt.Segments, 10)
	})

	t.Run("関連度の低いものから削除", func(t *testing.T) {
		a := newTestAssembler(t, assemblerConfig())

		prompt, err := a.Assemble(recall, turns, newTurn, 1200)
		require.NoError(t, err)

		kept := prompt.RecallSegments()
		require.Len(t, kept, 2)
		assert.Equal(t, 0.9, kept[0].Similarity)
		assert.Equal(t, 0.85, kept[1].Similarity)
		assert.Equal(t, 1150, prompt.TotalTokens)
		assert.Equal(t, 2, prompt.Usage.RecallDropped)
		assert.Equal(t, 0, prompt.Usage.TurnsDropped)
		assert.True(t, prompt.Usage.RecallIncluded)
		assert.Equal(t, 2, prompt.Usage.RecallCount)
	})

	t.Run("recall削除だけでは足りない場合は古いターンから削除", func(t *testing.T) {
		a := newTestAssembler(t, assemblerConfig())

		prompt, err := a.Assemble(recall, turns, newTurn, 500)
		require.NoError(t, err)

		assert.Equal(t, 450, prompt.TotalTokens)
		assert.Equal(t, 4, prompt.Usage.RecallDropped)
		assert.Equal(t, 5, prompt.Usage.TurnsDropped)
		require.Len(t, prompt.Segments, 5)
		assert.Equal(t, turns[5].ID, prompt.Segments[0].MessageID)
		assert.Equal(t, SegmentNewTurn, prompt.Segments[4].Kind)
	})
}

func TestAssembler_NeverExceedsBudget(t *testing.T) {
	a := newTestAssembler(t, assemblerConfig())
	recall := []RecallCandidate{recallOf(0.9, 40, recallAt), recallOf(0.8, 25, recallAt)}
	turns := turnsOf(6, 30)
	newTurn := testMessage(words("new", 20))

	for budget := 20; budget <= 300; budget += 7 {
		prompt, err := a.Assemble(recall, turns, newTurn, budget)
		require.NoError(t, err)
		assert.LessOrEqual(t, prompt.TotalTokens, budget)
		if prompt.Usage.TurnsDropped > 0 {
			assert.Empty(t, prompt.RecallSegments(), "budget=%d", budget)
		}
	}
}

func TestAssembler_OrdersSegments(t *testing.T) {
	a := newTestAssembler(t, assemblerConfig())
	recall := []RecallCandidate{recallOf(0.8, 10, recallAt), recallOf(0.9, 10, recallAt)}
	turns := turnsOf(2, 5)
	newTurn := testMessage("latest question")

	prompt, err := a.Assemble(recall, turns, newTurn, 1000)
	require.NoError(t, err)

	kinds := make([]SegmentKind, 0, len(prompt.Segments))
	for _, s := range prompt.Segments {
		kinds = append(kinds, s.Kind)
	}
	assert.Equal(t, []SegmentKind{SegmentRecall, SegmentRecall, SegmentTurn, SegmentTurn, SegmentNewTurn}, kinds)
	assert.Equal(t, 0.9, prompt.Segments[0].Similarity)

	messages := prompt.Messages()
	require.Len(t, messages, 5)
	assert.Equal(t, RoleSystem, messages[0].Role)
	assert.Equal(t, RoleUser, messages[2].Role)
	assert.Equal(t, RoleAssistant, messages[3].Role)
	assert.Equal(t, ChatMessage{Role: RoleUser, Content: "latest question"}, messages[4])
	assert.Equal(t, 2, prompt.Usage.WindowSize)
}

func TestAssembler_BudgetExceededByNewTurn(t *testing.T) {
	a := newTestAssembler(t, assemblerConfig())

	_, err := a.Assemble(nil, turnsOf(2, 5), testMessage(words("big", 60)), 50)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBudgetExceeded)

	var budgetErr *BudgetExceededError
	require.True(t, errors.As(err, &budgetErr))
	assert.Equal(t, 60, budgetErr.NewTurnTokens)
	assert.Equal(t, 50, budgetErr.MaxTokens)
}

func TestAssembler_DefaultBudgetFromConfig(t *testing.T) {
	cfg := assemblerConfig()
	cfg.MaxPromptTokens = 30
	a := newTestAssembler(t, cfg)

	prompt, err := a.Assemble(nil, turnsOf(3, 10), testMessage(words("q", 10)), 0)
	require.NoError(t, err)
	assert.Equal(t, 30, prompt.Usage.MaxTokens)
	assert.Equal(t, 30, prompt.TotalTokens)
	assert.Equal(t, 1, prompt.Usage.TurnsDropped)
}

func TestAssembler_RecencyTrimOrder(t *testing.T) {
	cfg := assemblerConfig()
	cfg.RecallTrimOrder = TrimByRecency
	a := newTestAssembler(t, cfg)

	old := recallOf(0.95, 10, recallAt.AddDate(-1, 0, 0))
	recent := recallOf(0.8, 10, recallAt)

	prompt, err := a.Assemble([]RecallCandidate{old, recent}, nil, testMessage(words("q", 5)), 15)
	require.NoError(t, err)

	kept := prompt.RecallSegments()
	require.Len(t, kept, 1)
	assert.Equal(t, recent.MessageID, kept[0].MessageID)
}

func TestAssembler_RecallFormatting(t *testing.T) {
	cfg := assemblerConfig()
	cfg.RecallSnippetMaxRunes = 12
	a := newTestAssembler(t, cfg)

	short := candidate(0.9, "line\none  two", recallAt)
	short.Role = RoleAssistant
	long := candidate(0.8, "abcdefghijklmnopqrstuvwxyz", recallAt)
	undated := candidate(0.7, "hi", time.Time{})
	undated.Role = ""

	prompt, err := a.Assemble([]RecallCandidate{short, long, undated}, nil, testMessage("q"), 1000)
	require.NoError(t, err)

	kept := prompt.RecallSegments()
	require.Len(t, kept, 3)
	assert.Equal(t, "[2024-01-02 15:04] Assistant: line one two", kept[0].Content)
	assert.Equal(t, "[2024-01-02 15:04] User: abcdefghi...", kept[1].Content)
	assert.Equal(t, "[unknown] Unknown: hi", kept[2].Content)
	assert.Nil(t, kept[2].SourceAt)
}

func TestAssembler_SkipsEmptyTurns(t *testing.T) {
	a := newTestAssembler(t, assemblerConfig())
	turns := []Message{
		{ID: uuid.New(), Role: RoleUser, Text: "  "},
		{ID: uuid.New(), Role: "tool", Text: "ignored"},
		{ID: uuid.New(), Role: RoleAssistant, Text: "kept"},
	}

	prompt, err := a.Assemble(nil, turns, testMessage("q"), 100)
	require.NoError(t, err)
	require.Len(t, prompt.Segments, 2)
	assert.Equal(t, "kept", prompt.Segments[0].Content)
}

func TestFormatMessageContent(t *testing.T) {
	url := "https://example.com/cat.png"

	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{name: "テキスト", msg: Message{Text: "  hello  "}, want: "hello"},
		{name: "画像URLあり", msg: Message{MessageType: "image", MediaURL: &url}, want: "[Image shared: https://example.com/cat.png]"},
		{name: "画像URLなし", msg: Message{MessageType: "image"}, want: "[Image message]"},
		{name: "複合語の種別", msg: Message{MessageType: "voice_note"}, want: "[Voice Note message]"},
		{name: "空テキスト", msg: Message{MessageType: MessageTypeText}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatMessageContent(tt.msg))
		})
	}
}

func TestAssembler_ReservedTokensShrinkBudget(t *testing.T) {
	recall := []RecallCandidate{
		recallOf(0.9, 100, recallAt),
		recallOf(0.85, 100, recallAt),
	}
	turns := turnsOf(9, 100)
	newTurn := testMessage(words("new", 50))

	cfg := assemblerConfig()
	cfg.ReservedPromptTokens = 200
	a := newTestAssembler(t, cfg)

	prompt, err := a.Assemble(recall, turns, newTurn, 1200)
	require.NoError(t, err)

	assert.Equal(t, 950, prompt.TotalTokens)
	assert.Equal(t, 200, prompt.Usage.ReservedTokens)
	assert.Equal(t, 1200, prompt.Usage.MaxTokens)
	assert.Equal(t, 2, prompt.Usage.RecallDropped)
	assert.LessOrEqual(t, prompt.TotalTokens+prompt.Usage.ReservedTokens, prompt.Usage.MaxTokens)

	cfg.ReservedPromptTokens = 980
	a = newTestAssembler(t, cfg)
	_, err = a.Assemble(nil, nil, newTurn, 1000)

	var budgetErr *BudgetExceededError
	require.True(t, errors.As(err, &budgetErr))
	assert.Equal(t, 50, budgetErr.NewTurnTokens)
	assert.Equal(t, 20, budgetErr.MaxTokens)
}
