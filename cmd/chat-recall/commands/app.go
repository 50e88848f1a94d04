package commands

import (
	"github.com/urfave/cli/v3"

	"github.com/jinford/chat-recall/internal/core/recall"
	"github.com/jinford/chat-recall/internal/platform/scheduler"
)

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}
}

// NewApp は chat-recall のコマンド定義を返す
func NewApp() *cli.Command {
	return &cli.Command{
		Name:  "chat-recall",
		Usage: "会話履歴の長期記憶（チャンク化・Embedding・類似検索・プロンプト構築）",
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "データベーススキーマを作成",
				Flags:  []cli.Flag{envFlag()},
				Action: MigrateAction,
			},
			{
				Name:  "index",
				Usage: "メッセージをチャンク化してインデックス化",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{
						Name:     "message-id",
						Usage:    "対象メッセージID",
						Required: true,
					},
				},
				Action: IndexAction,
			},
			{
				Name:  "forget",
				Usage: "メッセージを論理削除して recall の対象から外す",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{
						Name:     "message-id",
						Usage:    "対象メッセージID",
						Required: true,
					},
				},
				Action: ForgetAction,
			},
			{
				Name:  "backfill",
				Usage: "未インデックスのメッセージを一括でインデックス化",
				Flags: []cli.Flag{
					envFlag(),
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "1回あたりの最大メッセージ数（省略時は環境変数の値）",
					},
				},
				Action: BackfillAction,
			},
			{
				Name:  "context",
				Usage: "新しいターンに対するプロンプトを構築",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{
						Name:     "session",
						Usage:    "セッションID",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "text",
						Usage:    "新しいターンのテキスト",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "role",
						Usage: "新しいターンのロール（user / assistant / system）",
						Value: string(recall.RoleUser),
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "JSON形式で出力",
					},
					&cli.BoolFlag{
						Name:  "persist",
						Usage: "新しいターンを保存してインデックス化",
					},
				},
				Action: ContextAction,
			},
			{
				Name:  "chunk",
				Usage: "テキストのチャンク分割結果を表示（DB・API不要）",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "text",
						Usage: "分割するテキスト",
					},
					&cli.StringFlag{
						Name:  "file",
						Usage: "分割するテキストファイル",
					},
					&cli.IntFlag{
						Name:  "size",
						Usage: "チャンクサイズ（トークン数）",
						Value: recall.DefaultChunkSizeTokens,
					},
					&cli.IntFlag{
						Name:  "overlap",
						Usage: "オーバーラップ（トークン数）",
						Value: recall.DefaultChunkOverlapTokens,
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "JSON形式で出力",
					},
				},
				Action: ChunkAction,
			},
			{
				Name:  "worker",
				Usage: "バックフィルワーカーとメトリクスエンドポイントを起動",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{
						Name:  "schedule",
						Usage: "cron 形式の実行間隔（省略時は環境変数または " + scheduler.DefaultBackfillSchedule + "）",
					},
					&cli.StringFlag{
						Name:  "metrics-addr",
						Usage: "メトリクス・ヘルスチェックの待受アドレス（省略時は環境変数の値）",
					},
				},
				Action: WorkerAction,
			},
		},
	}
}
