package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/jinford/chat-recall/internal/interface/httpapi"
	"github.com/jinford/chat-recall/internal/platform/scheduler"
)

const (
	serverReadHeaderTimeout = 5 * time.Second
	serverShutdownTimeout   = 5 * time.Second
)

// WorkerAction はバックフィルワーカーを起動するコマンドのアクション
// シグナル受信まで cron スケジュールでバックフィルを実行し、/metrics と /healthz を公開する
func WorkerAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	cfg := appCtx.Config.Worker
	if s := cmd.String("schedule"); s != "" {
		cfg.Schedule = s
	}
	if addr := cmd.String("metrics-addr"); addr != "" {
		cfg.MetricsAddr = addr
	}

	log := appCtx.Logger()
	c := appCtx.Container

	sched := scheduler.New(log)
	if err := sched.Register(&scheduler.BackfillJob{
		Runner:       c.Backfiller,
		Reporter:     c.Metrics,
		ScheduleExpr: cfg.Schedule,
	}); err != nil {
		return fmt.Errorf("ジョブの登録に失敗: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("スケジューラの起動に失敗: %w", err)
	}
	defer sched.Stop()

	// 起動時に取りこぼしを回収する
	sched.RunNow(ctx)

	server := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           httpapi.NewRouter(c.Database(), c.Metrics.Handler(), log),
		ReadHeaderTimeout: serverReadHeaderTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("ワーカーを起動", "addr", cfg.MetricsAddr, "schedule", cfg.Schedule)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("HTTPサーバが停止しました: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	log.Info("ワーカーを停止")
	return server.Shutdown(shutdownCtx)
}
