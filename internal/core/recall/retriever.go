package recall

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Retriever は最新のユーザー発話に関連する過去チャンクを検索する
// 失敗時は空の結果を返す（fail-open）
type Retriever struct {
	cfg     Config
	store   EmbeddingStore
	metrics MetricsRecorder
	logger  *slog.Logger
}

type retrieverOptions struct {
	logger  *slog.Logger
	metrics MetricsRecorder
}

// RetrieverOption は Retriever のオプション設定
type RetrieverOption func(*retrieverOptions)

// WithRetrieverLogger は Retriever にロガーを設定する
func WithRetrieverLogger(logger *slog.Logger) RetrieverOption {
	return func(o *retrieverOptions) {
		o.logger = logger
	}
}

// WithRetrieverMetrics はメトリクス記録先を設定する
func WithRetrieverMetrics(m MetricsRecorder) RetrieverOption {
	return func(o *retrieverOptions) {
		o.metrics = m
	}
}

// NewRetriever は新しい Retriever を作成する
func NewRetriever(cfg Config, store EmbeddingStore, opts ...RetrieverOption) (*Retriever, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := retrieverOptions{
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

	return &Retriever{
		cfg:     cfg,
		store:   store,
		metrics: options.metrics,
		logger:  options.logger,
	}, nil
}

// Retrieve は queryText に類似するチャンクを関連度の高い順に最大 limit 件返す
//
// 類似度が minSimilarity 未満の候補は含めない。同点の場合は作成日時の新しい順。
// Embedding 生成・検索の失敗や RetrievalTimeout 超過時はログを残して空を返す。
func (r *Retriever) Retrieve(ctx context.Context, scope SessionScope, queryText string, limit int, minSimilarity float64) []RecallCandidate {
	start := time.Now()

	if !r.cfg.Enabled || limit <= 0 {
		r.metrics.RecordRetrieval(RetrievalDisabled, 0, time.Since(start))
		return nil
	}
	query := strings.TrimSpace(queryText)
	if query == "" {
		r.metrics.RecordRetrieval(RetrievalDisabled, 0, time.Since(start))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.RetrievalTimeout)
	defer cancel()

	candidates, err := r.query(ctx, scope, query, limit, minSimilarity)
	if err != nil {
		outcome := RetrievalFailed
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = RetrievalTimeout
		}
		r.logger.Warn("リコール検索に失敗",
			"sessionID", scope,
			"outcome", outcome,
			"error", err,
		)
		r.metrics.RecordRetrieval(outcome, 0, time.Since(start))
		return nil
	}

	ranked := RankCandidates(candidates, limit, minSimilarity)
	r.metrics.RecordRetrieval(RetrievalOK, len(ranked), time.Since(start))
	return ranked
}

func (r *Retriever) query(ctx context.Context, scope SessionScope, query string, limit int, minSimilarity float64) ([]RecallCandidate, error) {
	vector, _, err := r.store.Embed(ctx, query)
	if err != nil {
		return nil, providerError("embed query", err)
	}
	if len(vector) == 0 {
		return nil, providerError("embed query", errEmptyVector)
	}

	candidates, err := r.store.QuerySimilar(ctx, scope, vector, limit, minSimilarity)
	if err != nil {
		return nil, providerError("query similar", err)
	}
	return candidates, nil
}

// RankCandidates は閾値未満と本文なしの候補を除き、類似度降順・作成日時降順で並べて limit 件に切り詰める
// 入力スライスは変更しない
func RankCandidates(candidates []RecallCandidate, limit int, minSimilarity float64) []RecallCandidate {
	if limit <= 0 {
		return nil
	}

	filtered := make([]RecallCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Similarity < minSimilarity {
			continue
		}
		if strings.TrimSpace(c.ChunkText) == "" {
			continue
		}
		filtered = append(filtered, c)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return candidateLess(filtered[i], filtered[j])
	})

	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered
}

// candidateLess は a が b より関連度が高い場合に true を返す
func candidateLess(a, b RecallCandidate) bool {
	if a.Similarity != b.Similarity {
		return a.Similarity > b.Similarity
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	if a.MessageID != b.MessageID {
		return a.MessageID.String() < b.MessageID.String()
	}
	return a.ChunkIndex < b.ChunkIndex
}
