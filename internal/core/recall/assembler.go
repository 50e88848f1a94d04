package recall

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const recallTimestampLayout = "2006-01-02 15:04"

// Assembler は recall 結果と直近ターンをトークン予算内の1つのプロンプトにまとめる
//
// 予算超過時の削除順は固定:
//  1. recall セグメント（RecallTrimOrder に従い関連度の低いもの、または古いものから）
//  2. 直近ターン（古いものから）
//
// 新規ターンは削除しない。
type Assembler struct {
	cfg       Config
	tokenizer Tokenizer
	metrics   MetricsRecorder
	logger    *slog.Logger
}

type assemblerOptions struct {
	logger  *slog.Logger
	metrics MetricsRecorder
}

// AssemblerOption は Assembler のオプション設定
type AssemblerOption func(*assemblerOptions)

// WithAssemblerLogger は Assembler にロガーを設定する
func WithAssemblerLogger(logger *slog.Logger) AssemblerOption {
	return func(o *assemblerOptions) {
		o.logger = logger
	}
}

// WithAssemblerMetrics はメトリクス記録先を設定する
func WithAssemblerMetrics(m MetricsRecorder) AssemblerOption {
	return func(o *assemblerOptions) {
		o.metrics = m
	}
}

// NewAssembler は新しい Assembler を作成する
func NewAssembler(cfg Config, tokenizer Tokenizer, opts ...AssemblerOption) (*Assembler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := assemblerOptions{
		logger:  slog.Default(),
		metrics: nopMetrics{},
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.metrics == nil {
		options.metrics = nopMetrics{}
	}

	return &Assembler{
		cfg:       cfg,
		tokenizer: tokenizer,
		metrics:   options.metrics,
		logger:    options.logger,
	}, nil
}

// Assemble はプロンプトを構築する。maxTokens が 0 以下の場合は設定値 MaxPromptTokens を使う
// 予算は maxTokens から ReservedPromptTokens を差し引いた値。新規ターン単体で超える場合は BudgetExceededError を返す
func (a *Assembler) Assemble(candidates []RecallCandidate, recentTurns []Message, newTurn Message, maxTokens int) (*AssembledPrompt, error) {
	if maxTokens <= 0 {
		maxTokens = a.cfg.MaxPromptTokens
	}

	reserved := a.cfg.ReservedPromptTokens
	budget := maxTokens - reserved

	newSeg := a.renderTurn(newTurn, SegmentNewTurn)
	if newTurn.Role == "" {
		newSeg.Role = RoleUser
	}
	if newSeg.Tokens > budget {
		return nil, &BudgetExceededError{NewTurnTokens: newSeg.Tokens, MaxTokens: budget}
	}

	ranked := make([]RecallCandidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return candidateLess(ranked[i], ranked[j])
	})

	recall := make([]Segment, 0, len(ranked))
	for _, c := range ranked {
		seg, ok := a.renderRecall(c)
		if ok {
			recall = append(recall, seg)
		}
	}

	turns := make([]Segment, 0, len(recentTurns))
	for _, m := range recentTurns {
		seg := a.renderTurn(m, SegmentTurn)
		if seg.Content == "" || !seg.Role.IsValid() {
			continue
		}
		turns = append(turns, seg)
	}

	total := newSeg.Tokens + sumTokens(recall) + sumTokens(turns)
	usage := Usage{MaxTokens: maxTokens, ReservedTokens: reserved, WindowSize: len(recentTurns)}

	for total > budget && len(recall) > 0 {
		idx := a.recallDropIndex(recall)
		total -= recall[idx].Tokens
		recall = append(recall[:idx], recall[idx+1:]...)
		usage.RecallDropped++
	}
	for total > budget && len(turns) > 0 {
		total -= turns[0].Tokens
		turns = turns[1:]
		usage.TurnsDropped++
	}

	if usage.RecallDropped > 0 || usage.TurnsDropped > 0 {
		a.logger.Debug("トークン予算に合わせてプロンプトを削減",
			"maxTokens", maxTokens,
			"reservedTokens", reserved,
			"promptTokens", total,
			"recallDropped", usage.RecallDropped,
			"turnsDropped", usage.TurnsDropped,
		)
	}

	segments := make([]Segment, 0, len(recall)+len(turns)+1)
	segments = append(segments, recall...)
	segments = append(segments, turns...)
	segments = append(segments, newSeg)

	usage.PromptTokens = total
	usage.RecallCount = len(recall)
	usage.RecallIncluded = len(recall) > 0

	a.metrics.RecordAssembly(total, usage.RecallDropped, usage.TurnsDropped)

	return &AssembledPrompt{
		Segments:    segments,
		TotalTokens: total,
		Usage:       usage,
	}, nil
}

// recallDropIndex は次に削除する recall セグメントの位置を返す
// recall は関連度順に並んでいる前提
func (a *Assembler) recallDropIndex(recall []Segment) int {
	last := len(recall) - 1
	if a.cfg.RecallTrimOrder != TrimByRecency {
		return last
	}

	// 最も古いものを選ぶ。同時刻なら関連度の低い（後ろの）ものを優先
	idx := last
	for i := last - 1; i >= 0; i-- {
		if recall[i].SourceAt == nil {
			continue
		}
		if recall[idx].SourceAt == nil || recall[i].SourceAt.Before(*recall[idx].SourceAt) {
			idx = i
		}
	}
	return idx
}

func (a *Assembler) renderRecall(c RecallCandidate) (Segment, bool) {
	text := flattenSnippet(c.ChunkText, a.cfg.RecallSnippetMaxRunes)
	if text == "" {
		return Segment{}, false
	}

	sourceAt := c.MessageCreatedAt
	if sourceAt.IsZero() {
		sourceAt = c.CreatedAt
	}
	timestamp := "unknown"
	if !sourceAt.IsZero() {
		timestamp = sourceAt.UTC().Format(recallTimestampLayout)
	}

	content := fmt.Sprintf("[%s] %s: %s", timestamp, speakerLabel(c.Role), text)
	seg := Segment{
		Kind:       SegmentRecall,
		Role:       RoleSystem,
		Content:    content,
		Tokens:     a.tokenizer.Count(content),
		MessageID:  c.MessageID,
		Similarity: c.Similarity,
	}
	if !sourceAt.IsZero() {
		at := sourceAt
		seg.SourceAt = &at
	}
	return seg, true
}

func (a *Assembler) renderTurn(m Message, kind SegmentKind) Segment {
	content := FormatMessageContent(m)
	return Segment{
		Kind:      kind,
		Role:      m.Role,
		Content:   content,
		Tokens:    a.tokenizer.Count(content),
		MessageID: m.ID,
	}
}

// FormatMessageContent はメッセージの本文を返す
// 本文が空のメディアメッセージは "[Image shared: <url>]" のようなプレースホルダーにする
func FormatMessageContent(m Message) string {
	text := strings.TrimSpace(m.Text)
	if text != "" {
		return text
	}

	if m.MessageType == "" || m.MessageType == MessageTypeText {
		return ""
	}

	note := titleWords(strings.ReplaceAll(m.MessageType, "_", " "))
	if m.MediaURL != nil && *m.MediaURL != "" {
		return fmt.Sprintf("[%s shared: %s]", note, *m.MediaURL)
	}
	return fmt.Sprintf("[%s message]", note)
}

func speakerLabel(role Role) string {
	switch role {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return "Unknown"
	}
}

// flattenSnippet は改行を空白にし、maxRunes を超える場合は末尾を "..." にする
func flattenSnippet(text string, maxRunes int) string {
	flat := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(flat) <= maxRunes {
		return flat
	}
	runes := []rune(flat)
	return string(runes[:maxRunes-3]) + "..."
}

func titleWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
	}
	return strings.Join(words, " ")
}

func sumTokens(segments []Segment) int {
	total := 0
	for _, s := range segments {
		total += s.Tokens
	}
	return total
}
