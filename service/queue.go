package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TypeAwaitVideo = "video:await"
)

type AwaitVideoPayload struct {
	TaskID    string `json:"task_id"`
	SceneID   string `json:"scene_id"`
	VideoID   string `json:"video_id"`
	ProjectID string `json:"project_id"`
	OwnerID   string `json:"owner_id"`
}

// Queue 把已提交的视频任务交给后台 worker 跟踪
type Queue struct {
	client  *asynq.Client
	timeout time.Duration
	log     *slog.Logger
}

// NewQueue connects to Redis. timeout bounds one await job and should exceed the wait helper's max wait.
func NewQueue(redis asynq.RedisClientOpt, timeout time.Duration, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	return &Queue{
		client:  asynq.NewClient(redis),
		timeout: timeout,
		log:     log.With("component", "queue"),
	}
}

// Track implements VideoTaskTracker. The asynq task id is derived from the external task id,
// so one external task is enqueued at most once.
func (q *Queue) Track(ctx context.Context, task VideoTask) error {
	return q.EnqueueAwaitVideo(ctx, task, asynq.TaskID(awaitTaskID(task.TaskID)))
}

func (q *Queue) EnqueueAwaitVideo(ctx context.Context, task VideoTask, opts ...asynq.Option) error {
	t, err := newAwaitVideoTask(task, q.timeout, opts...)
	if err != nil {
		return err
	}
	info, err := q.client.EnqueueContext(ctx, t)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		q.log.Debug("await video already queued", "task_id", task.TaskID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}
	q.log.Info("await video enqueued", "task_id", task.TaskID, "job_id", info.ID, "queue", info.Queue)
	return nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func newAwaitVideoTask(task VideoTask, timeout time.Duration, opts ...asynq.Option) (*asynq.Task, error) {
	payload, err := json.Marshal(AwaitVideoPayload{
		TaskID:    task.TaskID,
		SceneID:   task.SceneID,
		VideoID:   task.VideoID,
		ProjectID: task.ProjectID,
		OwnerID:   task.OwnerID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payload failed: %w", err)
	}
	base := []asynq.Option{
		asynq.MaxRetry(3),
		asynq.Timeout(timeout),
		asynq.Retention(24 * time.Hour),
	}
	return asynq.NewTask(TypeAwaitVideo, payload, append(base, opts...)...), nil
}

func awaitTaskID(externalID string) string {
	return "video:" + externalID
}
