package recall

import (
	"time"

	"github.com/google/uuid"
)

// Role はメッセージの発話者種別を表す
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// IsValid は既知のロールかどうかを返す
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleSystem
}

// MessageTypeText はテキストメッセージの種別
const MessageTypeText = "text"

// SessionScope は検索・ウィンドウ取得の対象となる会話セッションを表す
type SessionScope = uuid.UUID

// Message は永続化済みの会話メッセージを表す（エンジンからは読み取り専用）
type Message struct {
	ID          uuid.UUID `json:"id"`
	SessionID   uuid.UUID `json:"sessionID"`
	Role        Role      `json:"role"`
	Text        string    `json:"text"`
	MessageType string    `json:"messageType,omitempty"`
	MediaURL    *string   `json:"mediaURL,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Window はチャンカーが生成するトークンウィンドウを表す
// StartToken/EndToken は元テキストに対する半開区間 [start, end)
type Window struct {
	Index      int    `json:"index"`
	Text       string `json:"text"`
	StartToken int    `json:"startToken"`
	EndToken   int    `json:"endToken"`
}

// Tokens はウィンドウのトークン数を返す
func (w Window) Tokens() int {
	return w.EndToken - w.StartToken
}

// Chunk はメッセージから派生したチャンクとEmbeddingを表す
// (MessageID, ChunkIndex) が一意キー
type Chunk struct {
	MessageID  uuid.UUID `json:"messageID"`
	ChunkIndex int       `json:"chunkIndex"`
	ChunkText  string    `json:"chunkText"`
	StartToken int       `json:"startToken"`
	EndToken   int       `json:"endToken"`
	ChunkCount int       `json:"chunkCount"`
	Embedding  []float32 `json:"-"`
	Model      string    `json:"model"`
	CreatedAt  time.Time `json:"createdAt"`
}

// RecallCandidate は類似検索でヒットしたチャンクと類似度を表す
type RecallCandidate struct {
	Chunk
	Similarity       float64   `json:"similarity"`
	Role             Role      `json:"role"`
	MessageCreatedAt time.Time `json:"messageCreatedAt"`
}

// SegmentKind はプロンプトセグメントの種別を表す
type SegmentKind string

const (
	SegmentRecall  SegmentKind = "recall"
	SegmentTurn    SegmentKind = "turn"
	SegmentNewTurn SegmentKind = "new_turn"
)

// Segment はプロンプトを構成するロール付きテキスト片を表す
type Segment struct {
	Kind      SegmentKind `json:"kind"`
	Role      Role        `json:"role"`
	Content   string      `json:"content"`
	Tokens    int         `json:"tokens"`
	MessageID uuid.UUID   `json:"messageID"`

	// recall セグメントのみ
	Similarity float64    `json:"similarity,omitempty"`
	SourceAt   *time.Time `json:"sourceAt,omitempty"`
}

// Usage はプロンプト構築時のトークン使用状況を表す
type Usage struct {
	PromptTokens   int  `json:"promptTokens"`
	ReservedTokens int  `json:"reservedTokens"`
	MaxTokens      int  `json:"maxTokens"`
	WindowSize     int  `json:"windowSize"`
	RecallIncluded bool `json:"recallIncluded"`
	RecallCount    int  `json:"recallCount"`
	RecallDropped  int  `json:"recallDropped"`
	TurnsDropped   int  `json:"turnsDropped"`
}

// AssembledPrompt はトークン予算内に収めたプロンプトを表す
// TotalTokens + Usage.ReservedTokens <= Usage.MaxTokens
// 順序: recall（関連度順） → 直近ターン（時系列） → 新規ターン
type AssembledPrompt struct {
	Segments    []Segment `json:"segments"`
	TotalTokens int       `json:"totalTokens"`
	Usage       Usage     `json:"usage"`
}

// ChatMessage はLLM呼び出しに渡す role/content の組を表す
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Messages はセグメントをLLM呼び出し用のメッセージ列に変換する
func (p *AssembledPrompt) Messages() []ChatMessage {
	messages := make([]ChatMessage, 0, len(p.Segments))
	for _, seg := range p.Segments {
		messages = append(messages, ChatMessage{Role: seg.Role, Content: seg.Content})
	}
	return messages
}

// RecallSegments は recall セグメントのみを返す
func (p *AssembledPrompt) RecallSegments() []Segment {
	var result []Segment
	for _, seg := range p.Segments {
		if seg.Kind == SegmentRecall {
			result = append(result, seg)
		}
	}
	return result
}
