package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/jinford/chat-recall/internal/core/recall"
	"github.com/openai/openai-go/v3"
)

// Embedder は OpenAI API を使用してテキストをベクトルに変換する
type Embedder struct {
	client    openai.Client
	model     string
	dimension int
	timeout   time.Duration
	retry     retryPolicy
}

const (
	// DefaultEmbeddingModel はモデル未指定時のデフォルトモデル
	DefaultEmbeddingModel = recall.DefaultEmbeddingModel
	// DefaultEmbeddingDimension はOpenAI推奨のデフォルト次元
	DefaultEmbeddingDimension = 1536
	// MaxBatchSize は1回のAPI呼び出しで送れる最大件数
	MaxBatchSize = 100
)

type embedderOptions struct {
	model     string
	dimension int
	baseURL   string
	timeout   time.Duration
	retry     retryPolicy
}

// EmbedderOption は Embedder のオプション設定
type EmbedderOption func(*embedderOptions)

// WithEmbeddingModel はモデル名を上書きする
func WithEmbeddingModel(model string) EmbedderOption {
	return func(o *embedderOptions) {
		if model != "" {
			o.model = model
		}
	}
}

// WithEmbeddingDimension はベクトル次元を上書きする
func WithEmbeddingDimension(dimension int) EmbedderOption {
	return func(o *embedderOptions) {
		o.dimension = dimension
	}
}

// WithBaseURL はAPIのエンドポイントを差し替える（互換API・テスト用）
func WithBaseURL(baseURL string) EmbedderOption {
	return func(o *embedderOptions) {
		o.baseURL = baseURL
	}
}

// WithTimeout は1回のAPI呼び出しのタイムアウトを設定する
func WithTimeout(timeout time.Duration) EmbedderOption {
	return func(o *embedderOptions) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// WithRetryBackoff はレート制限時のリトライ回数と待機時間を上書きする
func WithRetryBackoff(maxRetries int, base, maxBackoff time.Duration) EmbedderOption {
	return func(o *embedderOptions) {
		o.retry = retryPolicy{maxRetries: maxRetries, baseBackoff: base, maxBackoff: maxBackoff}
	}
}

// NewEmbedder は新しい Embedder を作成する
func NewEmbedder(apiKey string, opts ...EmbedderOption) (*Embedder, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	options := embedderOptions{
		model:     DefaultEmbeddingModel,
		dimension: DefaultEmbeddingDimension,
		timeout:   DefaultTimeout,
		retry:     defaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Embedder{
		client:    newClient(apiKey, options.baseURL),
		model:     options.model,
		dimension: options.dimension,
		timeout:   options.timeout,
		retry:     options.retry,
	}, nil
}

// Embed は単一テキストの Embedding と応答に含まれるモデル名を返す
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, string, error) {
	embeddings, model, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return nil, "", err
	}

	if len(embeddings) == 0 {
		return nil, "", fmt.Errorf("no embeddings generated")
	}

	return embeddings[0], model, nil
}

// BatchEmbed はバッチで Embedding を生成する（最大100件）
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, string, error) {
	if len(texts) == 0 {
		return nil, "", fmt.Errorf("no texts provided")
	}

	if len(texts) > MaxBatchSize {
		return nil, "", fmt.Errorf("batch size exceeds maximum of %d", MaxBatchSize)
	}

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
	}

	if len(texts) == 1 {
		params.Input = openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(texts[0]),
		}
	} else {
		params.Input = openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		}
	}

	if e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	resp, err := withRetry(ctx, e.retry, func(ctx context.Context) (*openai.CreateEmbeddingResponse, error) {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		return e.client.Embeddings.New(callCtx, params)
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate embeddings: %w", err)
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || int(data.Index) >= len(texts) {
			continue
		}
		vector := make([]float32, len(data.Embedding))
		for i, v := range data.Embedding {
			vector[i] = float32(v)
		}
		embeddings[data.Index] = vector
	}

	model := resp.Model
	if model == "" {
		model = e.model
	}

	return embeddings, model, nil
}

// ModelName はモデル名を返す
func (e *Embedder) ModelName() string {
	return e.model
}

// Dimension はベクトル次元数を返す
func (e *Embedder) Dimension() int {
	return e.dimension
}

// インターフェース実装の確認
var _ recall.Embedder = (*Embedder)(nil)
