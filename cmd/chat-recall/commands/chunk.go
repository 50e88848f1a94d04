package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/jinford/chat-recall/internal/core/recall"
	"github.com/jinford/chat-recall/internal/infra/tokenizer"
)

// chunkOutput は chunk コマンドのJSON出力
type chunkOutput struct {
	TotalTokens int             `json:"totalTokens"`
	ChunkSize   int             `json:"chunkSize"`
	Overlap     int             `json:"overlap"`
	Windows     []recall.Window `json:"windows"`
}

// readChunkInput は --text または --file から入力テキストを読み込む
func readChunkInput(text, file string) (string, error) {
	switch {
	case text != "" && file != "":
		return "", fmt.Errorf("--text と --file は同時に指定できません")
	case text != "":
		return text, nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("ファイルの読み込みに失敗: %w", err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("--text または --file を指定してください")
	}
}

// ChunkAction はテキストのチャンク分割結果を表示するコマンドのアクション
func ChunkAction(ctx context.Context, cmd *cli.Command) error {
	size := cmd.Int("size")
	overlap := cmd.Int("overlap")
	if err := recall.ValidateChunking(size, overlap); err != nil {
		return err
	}

	text, err := readChunkInput(cmd.String("text"), cmd.String("file"))
	if err != nil {
		return err
	}

	tk, err := tokenizer.New(tokenizer.DefaultEncoding)
	if err != nil {
		return fmt.Errorf("Tokenizer 初期化に失敗: %w", err)
	}

	windows, err := recall.NewChunker(tk).Chunk(text, size, overlap)
	if err != nil {
		return err
	}
	total := tk.Count(text)

	if cmd.Bool("json") {
		return writeJSON(output(cmd), chunkOutput{
			TotalTokens: total,
			ChunkSize:   size,
			Overlap:     overlap,
			Windows:     windows,
		})
	}
	renderWindows(output(cmd), windows, total)
	return nil
}
