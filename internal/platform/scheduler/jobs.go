package scheduler

import (
	"context"

	"github.com/jinford/chat-recall/internal/core/recall"
)

// DefaultBackfillSchedule はバックフィルのデフォルト実行間隔
const DefaultBackfillSchedule = "@every 1m"

// BackfillRunner はバックフィル1回分を実行する
type BackfillRunner interface {
	Run(ctx context.Context) (recall.BackfillResult, error)
}

// BackfillReporter はバックフィル結果を記録する
type BackfillReporter interface {
	RecordBackfill(err error)
}

// BackfillJob は未インデックスのメッセージを定期的にインデックス化する
type BackfillJob struct {
	Runner       BackfillRunner
	Reporter     BackfillReporter // nil 可
	ScheduleExpr string           // 空の場合は DefaultBackfillSchedule
}

// インターフェース実装の確認
var _ Job = (*BackfillJob)(nil)

func (j *BackfillJob) Name() string {
	return "recall_backfill"
}

func (j *BackfillJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return DefaultBackfillSchedule
}

func (j *BackfillJob) Run(ctx context.Context) error {
	_, err := j.Runner.Run(ctx)
	if j.Reporter != nil {
		j.Reporter.RecordBackfill(err)
	}
	return err
}
