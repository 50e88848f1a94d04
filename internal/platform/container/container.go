package container

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jinford/chat-recall/internal/core/recall"
	"github.com/jinford/chat-recall/internal/infra/openai"
	"github.com/jinford/chat-recall/internal/infra/postgres"
	"github.com/jinford/chat-recall/internal/infra/tokenizer"
	"github.com/jinford/chat-recall/internal/platform/config"
	"github.com/jinford/chat-recall/internal/platform/database"
	"github.com/jinford/chat-recall/internal/platform/metrics"
)

// ServiceContainer はアプリケーションの依存関係を保持する
type ServiceContainer struct {
	Engine     *recall.Engine
	Backfiller *postgres.ExclusiveBackfiller
	Messages   *postgres.MessageRepository
	Chunks     *postgres.ChunkRepository
	Tokenizer  recall.Tokenizer
	Metrics    *metrics.Recorder

	logger   *slog.Logger
	database *database.Database
}

type containerOptions struct {
	logger    *slog.Logger
	embedder  recall.Embedder
	tokenizer recall.Tokenizer
	metrics   *metrics.Recorder
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerEmbedder はカスタム Embedder を注入する
func WithContainerEmbedder(embedder recall.Embedder) ContainerOption {
	return func(opts *containerOptions) {
		opts.embedder = embedder
	}
}

// WithContainerTokenizer は Tokenizer を差し替える
func WithContainerTokenizer(t recall.Tokenizer) ContainerOption {
	return func(opts *containerOptions) {
		opts.tokenizer = t
	}
}

// WithContainerMetrics はメトリクス記録先を差し替える
func WithContainerMetrics(m *metrics.Recorder) ContainerOption {
	return func(opts *containerOptions) {
		opts.metrics = m
	}
}

// OpenDatabase は設定からデータベース接続を作成する
func OpenDatabase(ctx context.Context, cfg *config.Config) (*database.Database, error) {
	db, err := database.New(ctx, database.ConnectionParams{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: int32(cfg.Database.MaxConns),
	})
	if err != nil {
		return nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
	}
	return db, nil
}

// NewContainer は設定からコンテナを生成する
func NewContainer(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (*ServiceContainer, error) {
	db, err := OpenDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	c, err := NewContainerWithDB(cfg, db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// NewContainerWithDB は既存の Database を受け取りコンテナを生成する
func NewContainerWithDB(cfg *config.Config, db *database.Database, opts ...ContainerOption) (*ServiceContainer, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}

	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	// Embedder (OpenAI)
	embedder := options.embedder
	if embedder == nil {
		openaiEmbedder, err := openai.NewEmbedder(
			cfg.OpenAI.APIKey,
			openai.WithEmbeddingModel(cfg.Recall.EmbeddingModel),
			openai.WithEmbeddingDimension(cfg.OpenAI.EmbeddingDimension),
			openai.WithBaseURL(cfg.OpenAI.BaseURL),
		)
		if err != nil {
			return nil, fmt.Errorf("OpenAI Embedder 初期化に失敗しました: %w", err)
		}
		embedder = openaiEmbedder
	}

	// Tokenizer (tiktoken)
	tk := options.tokenizer
	if tk == nil {
		tiktoken, err := tokenizer.New(tokenizer.DefaultEncoding)
		if err != nil {
			return nil, fmt.Errorf("Tokenizer 初期化に失敗しました: %w", err)
		}
		tk = tiktoken
	}

	recorder := options.metrics
	if recorder == nil {
		recorder = metrics.NewRecorder()
	}

	// Repository (PostgreSQL)
	messages := postgres.NewMessageRepository(db.Pool)
	chunks := postgres.NewChunkRepository(db.Pool)

	engine, err := recall.NewEngine(
		cfg.Recall,
		tk,
		recall.NewEmbeddingStore(embedder, chunks),
		messages,
		recall.WithLogger(options.logger),
		recall.WithMetrics(recorder),
	)
	if err != nil {
		return nil, fmt.Errorf("Recall Engine 初期化に失敗しました: %w", err)
	}

	// 複数のワーカー・コマンドが同時に動いてもバックフィルは1つだけ実行する
	backfiller := postgres.NewExclusiveBackfiller(db.Pool, recall.NewBackfiller(
		messages,
		engine,
		recall.WithBatchSize(cfg.Worker.BatchSize),
		recall.WithBackfillerLogger(options.logger),
	), options.logger)

	return &ServiceContainer{
		Engine:     engine,
		Backfiller: backfiller,
		Messages:   messages,
		Chunks:     chunks,
		Tokenizer:  tk,
		Metrics:    recorder,
		logger:     options.logger,
		database:   db,
	}, nil
}

// Close は実行中のインデックス化を待ってから内部リソースを解放する
func (c *ServiceContainer) Close() {
	if c == nil {
		return
	}
	if c.Engine != nil {
		c.Engine.Wait()
	}
	if c.database != nil {
		c.database.Close()
	}
}

// Logger はロガーを返す
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// Database はデータベースを返す
func (c *ServiceContainer) Database() *database.Database {
	if c == nil {
		return nil
	}
	return c.database
}
