package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/hibiken/asynq"
)

type awaitEnqueuer interface {
	EnqueueAwaitVideo(ctx context.Context, task VideoTask, opts ...asynq.Option) error
}

type ReconcilerConfig struct {
	Interval  time.Duration
	OlderThan time.Duration
	BatchSize int
}

// Reconciler 定期把长时间没有结果的视频任务重新放回队列（例如进程重启丢失了跟踪），
// 并把中断后停留在 processing 的分镜置为 failed
type Reconciler struct {
	coord *Coordinator
	queue awaitEnqueuer
	cfg   ReconcilerConfig
	log   *slog.Logger

	mu        sync.Mutex
	scheduler *gocron.Scheduler
}

func NewReconciler(coord *Coordinator, queue awaitEnqueuer, cfg ReconcilerConfig, log *slog.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.OlderThan <= 0 {
		cfg.OlderThan = 15 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{coord: coord, queue: queue, cfg: cfg, log: log.With("component", "reconciler")}
}

func (r *Reconciler) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scheduler != nil {
		return nil
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	_, err := s.Every(r.cfg.Interval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Interval)
		defer cancel()
		if _, err := r.Sweep(ctx); err != nil {
			r.log.Error("sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.StartAsync()
	r.scheduler = s
	r.log.Info("reconciler started", "interval", r.cfg.Interval, "older_than", r.cfg.OlderThan)
	return nil
}

func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scheduler == nil {
		return
	}
	r.scheduler.Stop()
	r.scheduler = nil
	r.log.Info("reconciler stopped")
}

// Sweep re-enqueues stalled tasks once and returns how many were handed to the queue.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	if _, err := r.coord.RecoverStalled(ctx); err != nil {
		r.log.Warn("recover stale scenes failed", "error", err)
	}
	tasks, err := r.coord.StalledVideoTasks(ctx, r.cfg.OlderThan, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range tasks {
		if err := r.queue.EnqueueAwaitVideo(ctx, t, asynq.Unique(r.cfg.Interval)); err != nil {
			r.log.Warn("re-enqueue failed", "task_id", t.TaskID, "error", err)
			continue
		}
		n++
	}
	if n > 0 {
		r.log.Info("stalled video tasks re-enqueued", "count", n)
	}
	return n, nil
}
