package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/jinford/chat-recall/internal/core/recall"
)

// previewRunes はテーブル表示時の本文の最大文字数
const previewRunes = 60

// writeJSON は v をインデント付きJSONで出力する
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("JSONエンコードに失敗: %w", err)
	}
	return nil
}

// preview は改行を潰して先頭 n 文字に切り詰める
func preview(text string, n int) string {
	flat := strings.Join(strings.Fields(text), " ")
	runes := []rune(flat)
	if len(runes) <= n {
		return flat
	}
	return string(runes[:n]) + "..."
}

// renderWindows はチャンク分割結果をテーブル形式で表示する
func renderWindows(w io.Writer, windows []recall.Window, totalTokens int) {
	fmt.Fprintf(w, "=== チャンク分割結果 ===\n")
	fmt.Fprintf(w, "総トークン数: %d / チャンク数: %d\n\n", totalTokens, len(windows))

	table := tablewriter.NewWriter(w)
	table.Header("Index", "Start", "End", "Tokens", "Text")
	for _, win := range windows {
		table.Append(
			fmt.Sprintf("%d", win.Index),
			fmt.Sprintf("%d", win.StartToken),
			fmt.Sprintf("%d", win.EndToken),
			fmt.Sprintf("%d", win.Tokens()),
			preview(win.Text, previewRunes),
		)
	}
	table.Render()
}

// renderPrompt は構築したプロンプトをテーブル形式で表示する
func renderPrompt(w io.Writer, prompt *recall.AssembledPrompt) {
	fmt.Fprintf(w, "=== プロンプト ===\n")

	table := tablewriter.NewWriter(w)
	table.Header("Kind", "Role", "Tokens", "Similarity", "Content")
	for _, seg := range prompt.Segments {
		similarity := "-"
		if seg.Kind == recall.SegmentRecall {
			similarity = fmt.Sprintf("%.3f", seg.Similarity)
		}
		table.Append(
			string(seg.Kind),
			string(seg.Role),
			fmt.Sprintf("%d", seg.Tokens),
			similarity,
			preview(seg.Content, previewRunes),
		)
	}
	table.Render()

	u := prompt.Usage
	fmt.Fprintf(w, "\n=== トークン使用状況 ===\n")
	usage := tablewriter.NewWriter(w)
	usage.Header("Metric", "Value")
	usage.Append("prompt tokens", fmt.Sprintf("%d / %d", u.PromptTokens, u.MaxTokens))
	usage.Append("reserved tokens", fmt.Sprintf("%d", u.ReservedTokens))
	usage.Append("window size", fmt.Sprintf("%d", u.WindowSize))
	usage.Append("recall included", fmt.Sprintf("%t", u.RecallIncluded))
	usage.Append("recall count", fmt.Sprintf("%d", u.RecallCount))
	usage.Append("recall dropped", fmt.Sprintf("%d", u.RecallDropped))
	usage.Append("turns dropped", fmt.Sprintf("%d", u.TurnsDropped))
	usage.Render()
}

// renderIndexResult はインデックス化結果をテーブル形式で表示する
// stored は保存済みのチャンク数（今回以前に書き込まれたものを含む）
func renderIndexResult(w io.Writer, result recall.IndexResult, stored int) {
	table := tablewriter.NewWriter(w)
	table.Header("Metric", "Value")
	table.Append("chunks", fmt.Sprintf("%d", result.ChunkCount))
	table.Append("stored", fmt.Sprintf("%d / %d", stored, result.ChunkCount))
	table.Append("written", fmt.Sprintf("%d", result.Written))
	table.Append("inserted", fmt.Sprintf("%d", result.Inserted))
	table.Append("failed", fmt.Sprintf("%d", result.Failed))
	table.Append("truncated", fmt.Sprintf("%t", result.Truncated))
	table.Render()
}

// renderBackfillResult はバックフィル結果をテーブル形式で表示する
func renderBackfillResult(w io.Writer, result recall.BackfillResult) {
	table := tablewriter.NewWriter(w)
	table.Header("Metric", "Value")
	table.Append("messages", fmt.Sprintf("%d", result.Messages))
	table.Append("written", fmt.Sprintf("%d", result.Written))
	table.Append("inserted", fmt.Sprintf("%d", result.Inserted))
	table.Append("failed", fmt.Sprintf("%d", result.Failed))
	table.Render()
}
