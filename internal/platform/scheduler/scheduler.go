package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Job は定期実行するバックグラウンド処理
type Job interface {
	// Name はジョブの一意な名前を返す
	Name() string

	// Schedule は cron 式（5フィールド）または "@every 1m" 形式の記述子を返す
	Schedule() string

	// Run はジョブを実行する。ctx のキャンセルで中断すること
	Run(ctx context.Context) error
}

// Scheduler は cron 式に従ってジョブを実行する
// 前回の実行が終わっていない場合、そのジョブの今回分はスキップする
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	jobs   []Job
	locks  map[string]*sync.Mutex
	logger *slog.Logger
	cancel context.CancelFunc
}

// New は新しい Scheduler を作成する。ジョブは Start 前に登録する
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		locks:  make(map[string]*sync.Mutex),
		logger: logger,
	}
}

// Register はジョブを登録する。同名のジョブが登録済みの場合はエラーを返す
func (s *Scheduler) Register(j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := j.Name()
	if _, exists := s.locks[name]; exists {
		return fmt.Errorf("scheduler: duplicate job name %q", name)
	}

	s.locks[name] = &sync.Mutex{}
	s.jobs = append(s.jobs, j)
	return nil
}

// Start は登録済みジョブのスケジュールを開始する
// スケジュール式が不正なジョブがある場合はエラーを返す
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s.cron = cron.New(cron.WithParser(parser))

	for _, job := range s.jobs {
		lock := s.locks[job.Name()]

		_, err := s.cron.AddFunc(job.Schedule(), func() {
			s.runLocked(runCtx, job, lock)
		})
		if err != nil {
			cancel()
			return fmt.Errorf("scheduler: invalid schedule for job %q: %w", job.Name(), err)
		}
	}

	s.cron.Start()
	s.logger.Info("スケジューラを開始", "jobs", len(s.jobs))
	return nil
}

// RunNow は登録済みの全ジョブを1回ずつ同期的に実行する（起動直後の初回実行用）
func (s *Scheduler) RunNow(ctx context.Context) {
	s.mu.Lock()
	jobs := append([]Job(nil), s.jobs...)
	s.mu.Unlock()

	for _, job := range jobs {
		s.runLocked(ctx, job, s.locks[job.Name()])
	}
}

func (s *Scheduler) runLocked(ctx context.Context, job Job, lock *sync.Mutex) {
	if !lock.TryLock() {
		s.logger.Warn("前回のジョブが実行中のためスキップ", "job", job.Name())
		return
	}
	defer lock.Unlock()

	s.logger.Debug("ジョブを開始", "job", job.Name())
	if err := job.Run(ctx); err != nil {
		s.logger.Error("ジョブが失敗", "job", job.Name(), "error", err)
		return
	}
	s.logger.Debug("ジョブが完了", "job", job.Name())
}

// Stop はスケジューラを停止し、実行中のジョブの完了を待つ
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.logger.Info("スケジューラを停止")
	}
}
