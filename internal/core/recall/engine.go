package recall

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Engine は Recall Engine の呼び出し側 API を提供する
// メッセージ保存後の Index/IndexAsync と、応答生成時の AssembleContext を公開する
type Engine struct {
	cfg       Config
	messages  MessageStore
	indexer   *Indexer
	retriever *Retriever
	assembler *Assembler
	logger    *slog.Logger
}

type engineOptions struct {
	logger  *slog.Logger
	metrics MetricsRecorder
	now     func() time.Time
}

// EngineOption は Engine のオプション設定
type EngineOption func(*engineOptions)

// WithLogger は Engine 配下の全コンポーネントにロガーを設定する
func WithLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// WithMetrics は Engine 配下の全コンポーネントにメトリクス記録先を設定する
func WithMetrics(m MetricsRecorder) EngineOption {
	return func(o *engineOptions) {
		o.metrics = m
	}
}

// WithClock はチャンクの作成日時に使う時刻関数を差し替える
func WithClock(now func() time.Time) EngineOption {
	return func(o *engineOptions) {
		o.now = now
	}
}

// NewEngine は新しい Engine を作成する。設定が不正な場合は ConfigurationError を返す
func NewEngine(cfg Config, tokenizer Tokenizer, store EmbeddingStore, messages MessageStore, opts ...EngineOption) (*Engine, error) {
	options := engineOptions{
		logger:  slog.Default(),
		metrics: nopMetrics{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tokenizer == nil || store == nil || messages == nil {
		return nil, fmt.Errorf("recall engine requires tokenizer, embedding store and message store")
	}

	indexer, err := NewIndexer(cfg, tokenizer, store,
		WithIndexerLogger(options.logger),
		WithIndexerMetrics(options.metrics),
		WithIndexerClock(options.now),
	)
	if err != nil {
		return nil, err
	}
	retriever, err := NewRetriever(cfg, store,
		WithRetrieverLogger(options.logger),
		WithRetrieverMetrics(options.metrics),
	)
	if err != nil {
		return nil, err
	}
	assembler, err := NewAssembler(cfg, tokenizer,
		WithAssemblerLogger(options.logger),
		WithAssemblerMetrics(options.metrics),
	)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:       cfg,
		messages:  messages,
		indexer:   indexer,
		retriever: retriever,
		assembler: assembler,
		logger:    options.logger,
	}, nil
}

// Config はエンジンの設定を返す
func (e *Engine) Config() Config {
	return e.cfg
}

// Index はメッセージを同期的にインデックス化する
func (e *Engine) Index(ctx context.Context, msg Message) IndexResult {
	return e.indexer.Index(ctx, msg)
}

// IndexAsync はメッセージをバックグラウンドでインデックス化する
func (e *Engine) IndexAsync(ctx context.Context, msg Message) {
	e.indexer.IndexAsync(ctx, msg)
}

// Wait は実行中のバックグラウンドインデックス化の完了を待つ
func (e *Engine) Wait() {
	e.indexer.Wait()
}

// AssembleContext は新規ターンに対するプロンプトを構築する
//
// 直近ターンの取得と recall 検索は並行に実行する。recall の失敗は空の結果として扱い、
// 新規ターン単体で予算を超える場合のみ BudgetExceededError を返す。
func (e *Engine) AssembleContext(ctx context.Context, scope SessionScope, newTurn Message) (*AssembledPrompt, error) {
	type turnsResult struct {
		turns []Message
		err   error
	}

	turnsCh := make(chan turnsResult, 1)
	go func() {
		if e.cfg.WindowSize == 0 {
			turnsCh <- turnsResult{}
			return
		}
		turns, err := e.messages.GetRecentTurns(ctx, scope, e.cfg.WindowSize)
		turnsCh <- turnsResult{turns: turns, err: err}
	}()

	candidates := e.retriever.Retrieve(ctx, scope, newTurn.Text, e.cfg.ResultLimit, e.cfg.MinSimilarity)

	turnsRes := <-turnsCh
	if turnsRes.err != nil {
		return nil, fmt.Errorf("failed to get recent turns: %w", turnsRes.err)
	}

	turns := make([]Message, 0, len(turnsRes.turns))
	seen := make(map[uuid.UUID]struct{}, len(turnsRes.turns)+1)
	if newTurn.ID != uuid.Nil {
		seen[newTurn.ID] = struct{}{}
	}
	for _, m := range turnsRes.turns {
		// 保存済みの新規ターンが直近ターンにも含まれる場合は除く
		if newTurn.ID != uuid.Nil && m.ID == newTurn.ID {
			continue
		}
		seen[m.ID] = struct{}{}
		turns = append(turns, m)
	}

	recall := make([]RecallCandidate, 0, len(candidates))
	for _, c := range candidates {
		if _, dup := seen[c.MessageID]; dup {
			continue
		}
		recall = append(recall, c)
	}

	prompt, err := e.assembler.Assemble(recall, turns, newTurn, e.cfg.MaxPromptTokens)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("プロンプトを構築",
		"sessionID", scope,
		"promptTokens", prompt.Usage.PromptTokens,
		"windowSize", prompt.Usage.WindowSize,
		"recallCount", prompt.Usage.RecallCount,
		"recallDropped", prompt.Usage.RecallDropped,
		"turnsDropped", prompt.Usage.TurnsDropped,
	)

	return prompt, nil
}
