package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"storyscene-server/models"
	"storyscene-server/service/ai"

	"github.com/hibiken/asynq"
)

// TaskWaiter blocks until an external video task ends or the wait budget runs out.
type TaskWaiter interface {
	WaitForTask(ctx context.Context, taskID string, opts ai.WaitOptions) (*ai.TaskStatus, error)
}

// Processor 处理队列任务：等待外部视频任务结束，再走与接口相同的 PollVideoTask 落库
type Processor struct {
	coord  *Coordinator
	waiter TaskWaiter
	wait   ai.WaitOptions
	log    *slog.Logger
}

func NewProcessor(coord *Coordinator, waiter TaskWaiter, wait ai.WaitOptions, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		coord:  coord,
		waiter: waiter,
		wait:   wait,
		log:    log.With("component", "processor"),
	}
}

// Start 启动任务消费者，返回的 server 由调用方 Shutdown
func (p *Processor) Start(redis asynq.RedisClientOpt, concurrency int) (*asynq.Server, error) {
	srv := asynq.NewServer(redis, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			"default": 1,
		},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeAwaitVideo, p.HandleAwaitVideo)

	p.log.Info("starting task processor", "concurrency", concurrency)
	if err := srv.Start(mux); err != nil {
		return nil, fmt.Errorf("start processor: %w", err)
	}
	return srv, nil
}

// HandleAwaitVideo waits for the external task and stores its result. A task that is
// still running when the wait budget ends is retried by asynq.
func (p *Processor) HandleAwaitVideo(ctx context.Context, t *asynq.Task) error {
	var payload AwaitVideoPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	log := p.log.With("task_id", payload.TaskID, "scene_id", payload.SceneID)

	status, err := p.waiter.WaitForTask(ctx, payload.TaskID, p.wait)
	if err != nil && status == nil {
		log.Warn("wait video task failed", "error", err)
		return err
	}

	res, err := p.coord.PollVideoTask(ctx, payload.OwnerID, payload.TaskID, payload.SceneID, payload.VideoID)
	if err != nil {
		switch models.KindOf(err) {
		case models.KindNotFound, models.KindValidation, models.KindUnauthorized:
			// 分镜被重新拆分或视频被重新生成，任务已失效
			log.Info("await video dropped", "reason", err)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		case models.KindUpstream:
			if status != nil && status.State.Terminal() {
				log.Warn("video task ended with error", "error", err)
				return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
			}
		}
		return err
	}

	switch res.Status {
	case string(models.StatusCompleted), string(models.StatusFailed):
		log.Info("video task settled", "status", res.Status)
		return nil
	}
	return fmt.Errorf("video task still %s", res.Status)
}
