package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storyscene-server/models"
)

const (
	DefaultVideoModel = "doubao-seedance-1-5-pro-251215"

	DefaultWaitInterval = 5 * time.Second
	DefaultWaitMax      = 10 * time.Minute
)

var downloadRetry = RetryPolicy{Attempts: defaultAttempts, BaseDelay: 2 * time.Second, AttemptTimeout: 5 * time.Minute}

type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
)

// Terminal reports whether the task will not change any more.
func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

type TaskStatus struct {
	ID       string    `json:"id"`
	State    TaskState `json:"status"`
	VideoURL string    `json:"videoUrl,omitempty"`
	Error    string    `json:"error,omitempty"`
}

type VideoConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// VideoClient 图生视频：提交任务拿到 task id，之后由外部轮询 GetStatus
type VideoClient struct {
	cfg   VideoConfig
	http  *http.Client
	sleep Sleeper

	createRetry   RetryPolicy
	statusRetry   RetryPolicy
	downloadRetry RetryPolicy
}

func NewVideoClient(cfg VideoConfig, opts ...Option) *VideoClient {
	o := buildOptions(opts)
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultArkBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultVideoModel
	}
	return &VideoClient{
		cfg:           cfg,
		http:          o.httpClient,
		sleep:         o.sleeper,
		createRetry:   o.policy(videoCreateRetry),
		statusRetry:   o.policy(videoStatusRetry),
		downloadRetry: o.policy(downloadRetry),
	}
}

type videoContent struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	ImageURL *videoImageURL `json:"image_url,omitempty"`
}

type videoImageURL struct {
	URL string `json:"url"`
}

type createTaskRequest struct {
	Model   string         `json:"model"`
	Content []videoContent `json:"content"`
}

type taskResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Content *struct {
		VideoURL string `json:"video_url"`
	} `json:"content"`
	Error json.RawMessage `json:"error"`
}

func (c *VideoClient) tasksURL() string {
	return c.cfg.BaseURL + "/contents/generations/tasks"
}

// CreateTask submits an image-to-video task and returns the external task id.
func (c *VideoClient) CreateTask(ctx context.Context, imageURL, description, style string) (string, error) {
	const op = "create video task"
	if c.cfg.APIKey == "" {
		return "", missingKey(op, "video api key")
	}
	if strings.TrimSpace(imageURL) == "" {
		return "", models.Validation(op, "image url is required")
	}
	req := createTaskRequest{
		Model: c.cfg.Model,
		Content: []videoContent{
			{Type: "image_url", ImageURL: &videoImageURL{URL: imageURL}},
			{Type: "text", Text: videoPrompt(description, style)},
		},
	}

	var taskID string
	err := c.createRetry.run(ctx, op, c.sleep, func(ctx context.Context) error {
		var resp taskResponse
		if err := doJSON(ctx, c.http, http.MethodPost, c.tasksURL(), c.cfg.APIKey, req, &resp); err != nil {
			return err
		}
		if resp.ID == "" {
			return permanent(errors.New("create task response has no id"))
		}
		taskID = resp.ID
		return nil
	})
	return taskID, err
}

// GetStatus queries the task once (with retries on transport failures).
func (c *VideoClient) GetStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	const op = "get video task"
	if c.cfg.APIKey == "" {
		return nil, missingKey(op, "video api key")
	}
	if strings.TrimSpace(taskID) == "" {
		return nil, models.Validation(op, "task id is required")
	}

	var status *TaskStatus
	err := c.statusRetry.run(ctx, op, c.sleep, func(ctx context.Context) error {
		var resp taskResponse
		endpoint := c.tasksURL() + "/" + url.PathEscape(taskID)
		if err := doJSON(ctx, c.http, http.MethodGet, endpoint, c.cfg.APIKey, nil, &resp); err != nil {
			return err
		}
		st := &TaskStatus{ID: taskID, State: normalizeState(resp.Status), Error: errorText(resp.Error)}
		if resp.Content != nil {
			st.VideoURL = resp.Content.VideoURL
		}
		status = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

type WaitOptions struct {
	Interval time.Duration
	MaxWait  time.Duration
}

// WaitForTask 阻塞轮询直到任务结束或超时，只给后台任务使用，接口请求路径不要调用
func (c *VideoClient) WaitForTask(ctx context.Context, taskID string, opts WaitOptions) (*TaskStatus, error) {
	const op = "wait video task"
	if opts.Interval <= 0 {
		opts.Interval = DefaultWaitInterval
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = DefaultWaitMax
	}
	polls := int(opts.MaxWait / opts.Interval)
	if polls < 1 {
		polls = 1
	}
	var status *TaskStatus
	for i := 0; i < polls; i++ {
		if i > 0 {
			c.sleep(ctx, opts.Interval)
			if err := ctx.Err(); err != nil {
				return nil, models.WrapError(models.KindUpstream, op, err)
			}
		}
		var err error
		status, err = c.GetStatus(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if status.State.Terminal() {
			return status, nil
		}
	}
	return status, models.NewError(models.KindUpstream, op,
		fmt.Sprintf("task %s still %s after %s", taskID, status.State, opts.MaxWait))
}

// Download fetches the finished video.
func (c *VideoClient) Download(ctx context.Context, videoURL string) ([]byte, error) {
	const op = "download video"
	var data []byte
	err := c.downloadRetry.run(ctx, op, c.sleep, func(ctx context.Context) error {
		body, _, err := fetch(ctx, c.http, videoURL)
		if err != nil {
			return err
		}
		data = body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// 上游可能返回 queued 等额外状态，统一归为 pending
func normalizeState(s string) TaskState {
	switch TaskState(strings.ToLower(strings.TrimSpace(s))) {
	case TaskRunning:
		return TaskRunning
	case TaskSucceeded:
		return TaskSucceeded
	case TaskFailed, "cancelled", "expired":
		return TaskFailed
	default:
		return TaskPending
	}
}

// error 字段可能是字符串，也可能是 {code, message}
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && (obj.Message != "" || obj.Code != "") {
		if obj.Code == "" {
			return obj.Message
		}
		return obj.Code + ": " + obj.Message
	}
	return string(raw)
}
