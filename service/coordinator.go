package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"strings"
	"time"

	"storyscene-server/models"
	"storyscene-server/service/ai"
)

const (
	DefaultSignedURLTTL = time.Hour
	// processing 超过该时长未更新视为中断，可被重新生成或由巡检置为 failed
	DefaultProcessingLease = 30 * time.Minute
)

// BatchResult 批量生图的统计结果
type BatchResult struct {
	Generated int `json:"generated"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// VideoTask is the handle of a submitted video job.
type VideoTask struct {
	SceneID   string `json:"sceneId"`
	TaskID    string `json:"taskId"`
	VideoID   string `json:"videoId"`
	ProjectID string `json:"projectId"`
	OwnerID   string `json:"-"`
}

type VideoBatchResult struct {
	Tasks  []VideoTask `json:"tasks"`
	Failed int         `json:"failed"`
	Total  int         `json:"total"`
}

type PollResult struct {
	TaskID  string `json:"taskId"`
	SceneID string `json:"sceneId"`
	VideoID string `json:"videoId"`
	Status  string `json:"status"`
	URL     string `json:"url,omitempty"`
	Error   string `json:"error,omitempty"`
}

type ConfirmAllResult struct {
	Confirmed int64 `json:"confirmed"`
	Completed bool  `json:"completed"`
}

// Deps wires the coordinator. Tracker and Logger are optional.
type Deps struct {
	Projects   ProjectStore
	Scenes     SceneStore
	Media      MediaStore
	Blobs      BlobStore
	Decomposer Decomposer
	Images     ImageSynthesizer
	Videos     VideoSynthesizer
	Tracker    VideoTaskTracker
	Logger     *slog.Logger

	SignedURLTTL    time.Duration
	ProcessingLease time.Duration
}

// Coordinator 生成流程的核心：前置条件校验、调用上游、写回状态，是分镜状态与确认字段的唯一写入方
type Coordinator struct {
	projects   ProjectStore
	scenes     SceneStore
	media      MediaStore
	blobs      BlobStore
	decomposer Decomposer
	images     ImageSynthesizer
	videos     VideoSynthesizer
	tracker    VideoTaskTracker
	log        *slog.Logger

	signedURLTTL    time.Duration
	processingLease time.Duration
	now             func() time.Time
}

func NewCoordinator(d Deps) *Coordinator {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	ttl := d.SignedURLTTL
	if ttl <= 0 {
		ttl = DefaultSignedURLTTL
	}
	lease := d.ProcessingLease
	if lease <= 0 {
		lease = DefaultProcessingLease
	}
	return &Coordinator{
		projects:        d.Projects,
		scenes:          d.Scenes,
		media:           d.Media,
		blobs:           d.Blobs,
		decomposer:      d.Decomposer,
		images:          d.Images,
		videos:          d.Videos,
		tracker:         d.Tracker,
		log:             log.With("component", "coordinator"),
		signedURLTTL:    ttl,
		processingLease: lease,
		now:             time.Now,
	}
}

// SetTracker attaches the background tracker after construction (the queue needs the coordinator first).
func (c *Coordinator) SetTracker(t VideoTaskTracker) {
	c.tracker = t
}

// ============================================================================
// 项目
// ============================================================================

func (c *Coordinator) CreateProject(ctx context.Context, ownerID, title, story, style string) (*models.Project, error) {
	const op = "create project"
	title = strings.TrimSpace(title)
	story = strings.TrimSpace(story)
	if title == "" {
		return nil, models.Validation(op, "title is required")
	}
	if story == "" {
		return nil, models.Validation(op, "story is required")
	}
	if style == "" {
		style = models.DefaultStyle
	}
	if !ai.KnownStyle(style) {
		return nil, models.Validation(op, fmt.Sprintf("unknown style %q", style))
	}
	p := &models.Project{OwnerID: ownerID, Title: title, Story: story, Style: style, Stage: models.StageDraft}
	if err := c.projects.Create(ctx, p); err != nil {
		return nil, err
	}
	c.log.Info("project created", "project_id", p.ID, "owner_id", ownerID)
	return p, nil
}

// GetProject returns the project with its scenes in order and each scene's media.
func (c *Coordinator) GetProject(ctx context.Context, ownerID, projectID string) (*models.ProjectDetail, error) {
	p, err := c.projects.Get(ctx, projectID, ownerID)
	if err != nil {
		return nil, err
	}
	scenes, err := c.scenes.ListByProject(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(scenes))
	for _, s := range scenes {
		ids = append(ids, s.ID)
	}
	media, err := c.media.ListByScenes(ctx, ids)
	if err != nil {
		return nil, err
	}
	byScene := make(map[string][]models.Media, len(scenes))
	for _, m := range media {
		byScene[m.SceneID] = append(byScene[m.SceneID], m)
	}

	detail := &models.ProjectDetail{Project: *p, Scenes: make([]models.SceneWithMedia, 0, len(scenes))}
	for _, s := range scenes {
		item := models.SceneWithMedia{Scene: s, Images: []models.Media{}, Videos: []models.Media{}}
		for _, m := range byScene[s.ID] {
			switch m.Kind {
			case models.KindImage:
				item.Images = append(item.Images, m)
			case models.KindVideo:
				item.Videos = append(item.Videos, m)
			}
		}
		detail.Scenes = append(detail.Scenes, item)
	}
	return detail, nil
}

// ProjectUpdate 客户端可修改的字段；阶段只由协调器推进
type ProjectUpdate struct {
	Title *string
	Story *string
	Style *string
}

func (c *Coordinator) UpdateProject(ctx context.Context, ownerID, projectID string, u ProjectUpdate) (*models.Project, error) {
	const op = "update project"
	if u.Title != nil && strings.TrimSpace(*u.Title) == "" {
		return nil, models.Validation(op, "title cannot be empty")
	}
	if u.Story != nil && strings.TrimSpace(*u.Story) == "" {
		return nil, models.Validation(op, "story cannot be empty")
	}
	if u.Style != nil && !ai.KnownStyle(*u.Style) {
		return nil, models.Validation(op, fmt.Sprintf("unknown style %q", *u.Style))
	}
	return c.projects.Update(ctx, projectID, ownerID, models.ProjectPatch{
		Title: u.Title,
		Story: u.Story,
		Style: u.Style,
	})
}

// DeleteProject removes the project rows and then, best effort, the stored artifacts.
func (c *Coordinator) DeleteProject(ctx context.Context, ownerID, projectID string) error {
	paths, err := c.projects.Delete(ctx, projectID, ownerID)
	if err != nil {
		return err
	}
	c.discardBlobs(ctx, paths)
	c.log.Info("project deleted", "project_id", projectID, "blobs", len(paths))
	return nil
}

// ============================================================================
// 分镜拆分
// ============================================================================

// DecomposeStory 调用拆分模型并整体替换项目的分镜，阶段推进到 scenes
func (c *Coordinator) DecomposeStory(ctx context.Context, ownerID, projectID string) ([]models.Scene, error) {
	return c.decompose(ctx, ownerID, projectID, "decompose story", func(p *models.Project) ([]models.SceneDraft, error) {
		return c.decomposer.Decompose(ctx, p.Story, p.Style)
	})
}

// RegenerateScenes is DecomposeStory with reviewer feedback passed to the model.
func (c *Coordinator) RegenerateScenes(ctx context.Context, ownerID, projectID, feedback string) ([]models.Scene, error) {
	return c.decompose(ctx, ownerID, projectID, "regenerate scenes", func(p *models.Project) ([]models.SceneDraft, error) {
		return c.decomposer.Regenerate(ctx, p.Story, p.Style, feedback)
	})
}

func (c *Coordinator) decompose(ctx context.Context, ownerID, projectID, op string, call func(*models.Project) ([]models.SceneDraft, error)) ([]models.Scene, error) {
	p, err := c.projects.Get(ctx, projectID, ownerID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Story) == "" {
		return nil, models.Validation(op, "project story is empty")
	}
	drafts, err := call(p)
	if err != nil {
		c.log.Warn("decomposition failed", "project_id", p.ID, "error", err)
		return nil, err
	}
	if len(drafts) == 0 {
		return nil, models.NewError(models.KindUpstream, op, "decomposition returned no scenes")
	}
	scenes, discarded, err := c.scenes.ReplaceAll(ctx, p.ID, drafts)
	if err != nil {
		return nil, err
	}
	c.discardBlobs(ctx, discarded)
	if err := c.advanceStage(ctx, p, models.StageScenes); err != nil {
		return nil, err
	}
	c.log.Info("scenes replaced", "project_id", p.ID, "scenes", len(scenes), "discarded_blobs", len(discarded))
	return scenes, nil
}

// GetScene returns the scene after checking that its project belongs to the caller.
func (c *Coordinator) GetScene(ctx context.Context, ownerID, sceneID string) (*models.Scene, error) {
	s, _, err := c.sceneForOwner(ctx, ownerID, sceneID)
	return s, err
}

func (c *Coordinator) UpdateSceneDescription(ctx context.Context, ownerID, sceneID, description string) (*models.Scene, error) {
	if strings.TrimSpace(description) == "" {
		return nil, models.Validation("update scene description", "description cannot be empty")
	}
	if _, _, err := c.sceneForOwner(ctx, ownerID, sceneID); err != nil {
		return nil, err
	}
	return c.scenes.UpdateDescription(ctx, sceneID, description)
}

// ============================================================================
// 图片
// ============================================================================

// GenerateImage synthesizes the scene image. Prior image artifacts are replaced.
func (c *Coordinator) GenerateImage(ctx context.Context, ownerID, sceneID string) (*models.Media, error) {
	s, p, err := c.sceneForOwner(ctx, ownerID, sceneID)
	if err != nil {
		return nil, err
	}
	return c.generateImage(ctx, p, s)
}

func (c *Coordinator) generateImage(ctx context.Context, p *models.Project, s *models.Scene) (*models.Media, error) {
	const op = "generate image"
	if !s.DescriptionConfirmed {
		return nil, models.Validation(op, "description must be confirmed first")
	}
	if s.ImageConfirmed {
		return nil, models.Validation(op, "image is already confirmed")
	}
	if err := c.claim(ctx, s, models.KindImage, op); err != nil {
		return nil, err
	}

	data, err := c.images.Generate(ctx, s.Description, p.Style)
	if err != nil {
		return nil, c.markFailed(ctx, s.ID, models.KindImage, err)
	}

	fileName := fmt.Sprintf("scene-%d-%d.png", s.OrderIndex, c.now().UnixMilli())
	path, url, err := c.blobs.Put(ctx, p.OwnerID, p.ID, fileName, data, "image/png")
	if err != nil {
		return nil, c.markFailed(ctx, s.ID, models.KindImage, storageError(op, err))
	}
	old, err := c.media.DeleteAll(ctx, s.ID, models.KindImage)
	if err != nil {
		return nil, c.markFailed(ctx, s.ID, models.KindImage, err)
	}
	m := &models.Media{SceneID: s.ID, Kind: models.KindImage, StoragePath: path, URL: url}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		m.Width, m.Height = cfg.Width, cfg.Height
	}
	if err := c.media.Create(ctx, m); err != nil {
		return nil, c.markFailed(ctx, s.ID, models.KindImage, err)
	}
	c.discardBlobs(ctx, without(old, path))

	if err := c.scenes.UpdateStatus(ctx, s.ID, models.KindImage, models.StatusCompleted); err != nil {
		return nil, err
	}
	c.log.Info("image generated", "scene_id", s.ID, "media_id", m.ID)
	return m, nil
}

// GenerateImagesForProject 顺序为所有描述已确认、图片待生成或失败的分镜生图，单个失败不影响其余分镜
func (c *Coordinator) GenerateImagesForProject(ctx context.Context, ownerID, projectID string) (*BatchResult, error) {
	p, err := c.projects.Get(ctx, projectID, ownerID)
	if err != nil {
		return nil, err
	}
	scenes, err := c.scenes.ListByProject(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	res := &BatchResult{}
	for i := range scenes {
		s := &scenes[i]
		if !s.DescriptionConfirmed || !retryable(s.ImageStatus) {
			continue
		}
		res.Total++
		if _, err := c.generateImage(ctx, p, s); err != nil {
			res.Failed++
			c.log.Warn("batch image failed", "scene_id", s.ID, "order", s.OrderIndex, "error", err)
			continue
		}
		res.Generated++
	}
	if err := c.advanceStage(ctx, p, models.StageImages); err != nil {
		return nil, err
	}
	return res, nil
}

// ============================================================================
// 视频
// ============================================================================

// GenerateVideo submits a video task for the scene's latest image and returns its handle.
// Completion is observed through PollVideoTask.
func (c *Coordinator) GenerateVideo(ctx context.Context, ownerID, sceneID string) (*VideoTask, error) {
	const op = "generate video"
	s, p, err := c.sceneForOwner(ctx, ownerID, sceneID)
	if err != nil {
		return nil, err
	}
	if !s.ImageConfirmed {
		return nil, models.Validation(op, "image must be confirmed first")
	}
	img, err := c.media.Latest(ctx, s.ID, models.KindImage)
	if err != nil {
		return nil, err
	}
	if img == nil || !img.Ready() {
		return nil, models.Validation(op, "scene has no image")
	}
	return c.generateVideo(ctx, p, s, img)
}

func (c *Coordinator) generateVideo(ctx context.Context, p *models.Project, s *models.Scene, img *models.Media) (*VideoTask, error) {
	const op = "generate video"
	if s.VideoConfirmed {
		return nil, models.Validation(op, "video is already confirmed")
	}
	if s.VideoStatus == models.StatusProcessing && !c.stale(s) {
		return nil, models.Conflict(op, "video generation is already in progress")
	}

	imageURL, err := c.blobs.SignedURL(ctx, img.StoragePath, c.signedURLTTL)
	if err != nil {
		return nil, storageError(op, err)
	}
	if err := c.claim(ctx, s, models.KindVideo, op); err != nil {
		return nil, err
	}

	taskID, err := c.videos.CreateTask(ctx, imageURL, s.Description, p.Style)
	if err != nil {
		return nil, c.markFailed(ctx, s.ID, models.KindVideo, err)
	}
	old, err := c.media.DeleteAll(ctx, s.ID, models.KindVideo)
	if err != nil {
		return nil, c.markFailed(ctx, s.ID, models.KindVideo, err)
	}
	m := &models.Media{SceneID: s.ID, Kind: models.KindVideo, TaskID: taskID}
	if err := c.media.Create(ctx, m); err != nil {
		return nil, c.markFailed(ctx, s.ID, models.KindVideo, err)
	}
	c.discardBlobs(ctx, old)

	task := &VideoTask{SceneID: s.ID, TaskID: taskID, VideoID: m.ID, ProjectID: p.ID, OwnerID: p.OwnerID}
	c.track(ctx, *task)
	c.log.Info("video task created", "scene_id", s.ID, "task_id", taskID, "media_id", m.ID)
	return task, nil
}

// GenerateVideosForProject 为图片已确认、视频待生成或失败的分镜逐个提交视频任务；
// 没有图片产物的分镜直接跳过，不计入结果
func (c *Coordinator) GenerateVideosForProject(ctx context.Context, ownerID, projectID string) (*VideoBatchResult, error) {
	p, err := c.projects.Get(ctx, projectID, ownerID)
	if err != nil {
		return nil, err
	}
	scenes, err := c.scenes.ListByProject(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	res := &VideoBatchResult{Tasks: []VideoTask{}}
	for i := range scenes {
		s := &scenes[i]
		if !s.ImageConfirmed || !retryable(s.VideoStatus) {
			continue
		}
		img, err := c.media.Latest(ctx, s.ID, models.KindImage)
		if err != nil {
			return nil, err
		}
		if img == nil || !img.Ready() {
			continue
		}
		res.Total++
		task, err := c.generateVideo(ctx, p, s, img)
		if err != nil {
			res.Failed++
			c.log.Warn("batch video failed", "scene_id", s.ID, "order", s.OrderIndex, "error", err)
			continue
		}
		res.Tasks = append(res.Tasks, *task)
	}
	if err := c.advanceStage(ctx, p, models.StageVideos); err != nil {
		return nil, err
	}
	return res, nil
}

// PollVideoTask queries the external task once. On success the video is copied into the
// blob store and the scene becomes completed; pending/running states are returned as is.
// Polling a task whose artifact is already stored returns the stored result.
func (c *Coordinator) PollVideoTask(ctx context.Context, ownerID, taskID, sceneID, videoID string) (*PollResult, error) {
	const op = "poll video task"
	s, p, err := c.sceneForOwner(ctx, ownerID, sceneID)
	if err != nil {
		return nil, err
	}
	m, err := c.media.Get(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if m.SceneID != s.ID || m.Kind != models.KindVideo || m.TaskID != taskID {
		return nil, models.Validation(op, "video does not belong to this scene and task")
	}

	res := &PollResult{TaskID: taskID, SceneID: s.ID, VideoID: m.ID}
	if m.Ready() {
		res.Status = string(models.StatusCompleted)
		res.URL = m.URL
		return res, nil
	}

	status, err := c.videos.GetStatus(ctx, taskID)
	if err != nil {
		switch models.KindOf(err) {
		case models.KindUpstream, models.KindServiceUnavailable:
			// 重试后仍查询失败（任务过期或不存在），状态落为 failed 以便重新生成
			return nil, c.markFailed(ctx, s.ID, models.KindVideo, err)
		}
		return nil, err
	}

	switch status.State {
	case ai.TaskSucceeded:
		if status.VideoURL == "" {
			return nil, c.markFailed(ctx, s.ID, models.KindVideo,
				models.NewError(models.KindUpstream, op, "task succeeded without a video url"))
		}
		data, err := c.videos.Download(ctx, status.VideoURL)
		if err != nil {
			return nil, c.markFailed(ctx, s.ID, models.KindVideo, err)
		}
		fileName := fmt.Sprintf("video-%d-%d.mp4", s.OrderIndex, c.now().UnixMilli())
		path, url, err := c.blobs.Put(ctx, p.OwnerID, p.ID, fileName, data, "video/mp4")
		if err != nil {
			return nil, c.markFailed(ctx, s.ID, models.KindVideo, storageError(op, err))
		}
		stored, err := c.media.UpdateLocation(ctx, m.ID, path, url)
		if err != nil {
			return nil, c.markFailed(ctx, s.ID, models.KindVideo, err)
		}
		if !stored {
			// 后台任务与接口轮询同时完成，保留先写入的一份
			c.discardBlobs(ctx, []string{path})
			if m, err = c.media.Get(ctx, m.ID); err != nil {
				return nil, err
			}
			path, url = m.StoragePath, m.URL
		}
		if err := c.scenes.UpdateStatus(ctx, s.ID, models.KindVideo, models.StatusCompleted); err != nil {
			return nil, err
		}
		c.log.Info("video stored", "scene_id", s.ID, "task_id", taskID, "path", path)
		res.Status = string(models.StatusCompleted)
		res.URL = url
	case ai.TaskFailed:
		if err := c.scenes.UpdateStatus(ctx, s.ID, models.KindVideo, models.StatusFailed); err != nil {
			return nil, err
		}
		c.log.Warn("video task failed", "scene_id", s.ID, "task_id", taskID, "reason", status.Error)
		res.Status = string(models.StatusFailed)
		res.Error = status.Error
	default:
		res.Status = string(status.State)
	}
	return res, nil
}

// StalledVideoTasks lists submitted video tasks older than olderThan whose result was never stored
// while the scene is still processing.
func (c *Coordinator) StalledVideoTasks(ctx context.Context, olderThan time.Duration, limit int) ([]VideoTask, error) {
	items, err := c.media.ListAwaitingVideos(ctx, c.now().Add(-olderThan), limit)
	if err != nil {
		return nil, err
	}
	tasks := make([]VideoTask, 0, len(items))
	for _, m := range items {
		s, err := c.scenes.Get(ctx, m.SceneID)
		if models.IsKind(err, models.KindNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if s.VideoStatus != models.StatusProcessing {
			continue
		}
		p, err := c.projects.Lookup(ctx, s.ProjectID)
		if models.IsKind(err, models.KindNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, VideoTask{SceneID: s.ID, TaskID: m.TaskID, VideoID: m.ID, ProjectID: p.ID, OwnerID: p.OwnerID})
	}
	return tasks, nil
}

// RecoverStalled marks scenes stuck in processing longer than the lease as failed so the
// generate operations accept them again. Video scenes still waiting on a submitted task are
// left to the await queue.
func (c *Coordinator) RecoverStalled(ctx context.Context) (int64, error) {
	before := c.now().Add(-c.processingLease)
	images, err := c.scenes.FailStale(ctx, models.KindImage, before, nil)
	if err != nil {
		return 0, err
	}
	awaiting, err := c.media.AwaitingVideoSceneIDs(ctx)
	if err != nil {
		return images, err
	}
	videos, err := c.scenes.FailStale(ctx, models.KindVideo, before, awaiting)
	if err != nil {
		return images, err
	}
	if n := images + videos; n > 0 {
		c.log.Warn("stale processing scenes marked failed", "images", images, "videos", videos)
	}
	return images + videos, nil
}

// ============================================================================
// 确认
// ============================================================================

func (c *Coordinator) ConfirmDescription(ctx context.Context, ownerID, sceneID string) (*models.Scene, error) {
	return c.confirm(ctx, ownerID, sceneID, models.KindDescription, "")
}

// ConfirmImage 要求图片已生成完成
func (c *Coordinator) ConfirmImage(ctx context.Context, ownerID, sceneID string) (*models.Scene, error) {
	return c.confirm(ctx, ownerID, sceneID, models.KindImage, models.StatusCompleted)
}

// ConfirmVideo follows the same rule as ConfirmImage. Confirming the last open video
// of a project completes the project.
func (c *Coordinator) ConfirmVideo(ctx context.Context, ownerID, sceneID string) (*models.Scene, error) {
	s, err := c.confirm(ctx, ownerID, sceneID, models.KindVideo, models.StatusCompleted)
	if err != nil {
		return nil, err
	}
	p, err := c.projects.Get(ctx, s.ProjectID, ownerID)
	if err != nil {
		return nil, err
	}
	if _, err := c.completeIfConfirmed(ctx, p); err != nil {
		return nil, err
	}
	return s, nil
}

func (c *Coordinator) confirm(ctx context.Context, ownerID, sceneID string, kind models.Kind, onlyIfStatus models.MediaStatus) (*models.Scene, error) {
	if _, _, err := c.sceneForOwner(ctx, ownerID, sceneID); err != nil {
		return nil, err
	}
	return c.scenes.SetConfirmed(ctx, sceneID, kind, onlyIfStatus)
}

func (c *Coordinator) ConfirmAllDescriptions(ctx context.Context, ownerID, projectID string) (*ConfirmAllResult, error) {
	return c.confirmAll(ctx, ownerID, projectID, models.KindDescription, "")
}

func (c *Coordinator) ConfirmAllImages(ctx context.Context, ownerID, projectID string) (*ConfirmAllResult, error) {
	return c.confirmAll(ctx, ownerID, projectID, models.KindImage, models.StatusCompleted)
}

// ConfirmAllVideos 确认所有视频已完成的分镜，随后检查是否全部确认，是则推进到 completed
func (c *Coordinator) ConfirmAllVideos(ctx context.Context, ownerID, projectID string) (*ConfirmAllResult, error) {
	return c.confirmAll(ctx, ownerID, projectID, models.KindVideo, models.StatusCompleted)
}

func (c *Coordinator) confirmAll(ctx context.Context, ownerID, projectID string, kind models.Kind, onlyIfStatus models.MediaStatus) (*ConfirmAllResult, error) {
	p, err := c.projects.Get(ctx, projectID, ownerID)
	if err != nil {
		return nil, err
	}
	n, err := c.scenes.BulkSetConfirmed(ctx, p.ID, kind, onlyIfStatus)
	if err != nil {
		return nil, err
	}
	res := &ConfirmAllResult{Confirmed: n}
	if kind == models.KindVideo {
		if res.Completed, err = c.completeIfConfirmed(ctx, p); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// ResetConfirmation clears one confirmation. It is refused while the next kind in the chain
// (description → image → video) is still confirmed, so prerequisites never go missing.
func (c *Coordinator) ResetConfirmation(ctx context.Context, ownerID, sceneID string, kind models.Kind) (*models.Scene, error) {
	const op = "reset confirmation"
	if !kind.Valid() {
		return nil, models.Validation(op, fmt.Sprintf("unknown kind %q", kind))
	}
	s, _, err := c.sceneForOwner(ctx, ownerID, sceneID)
	if err != nil {
		return nil, err
	}
	switch {
	case kind == models.KindDescription && s.ImageConfirmed:
		return nil, models.Validation(op, "reset the image confirmation first")
	case kind == models.KindImage && s.VideoConfirmed:
		return nil, models.Validation(op, "reset the video confirmation first")
	}
	s, err = c.scenes.ResetConfirmed(ctx, sceneID, kind)
	if err != nil {
		return nil, err
	}
	c.log.Info("confirmation reset", "scene_id", sceneID, "kind", kind)
	return s, nil
}

// ============================================================================
// 内部工具
// ============================================================================

// sceneForOwner loads the scene and its project, checking ownership.
func (c *Coordinator) sceneForOwner(ctx context.Context, ownerID, sceneID string) (*models.Scene, *models.Project, error) {
	s, err := c.scenes.Get(ctx, sceneID)
	if err != nil {
		return nil, nil, err
	}
	p, err := c.projects.Get(ctx, s.ProjectID, ownerID)
	if err != nil {
		return nil, nil, err
	}
	return s, p, nil
}

// advanceStage 阶段只前进不后退
func (c *Coordinator) advanceStage(ctx context.Context, p *models.Project, target models.ProjectStage) error {
	if !p.Stage.Before(target) {
		return nil
	}
	from := p.Stage
	updated, moved, err := c.projects.AdvanceStage(ctx, p.ID, target)
	if err != nil {
		return err
	}
	if moved {
		c.log.Info("project stage advanced", "project_id", p.ID, "from", from, "to", target)
	}
	*p = *updated
	return nil
}

func (c *Coordinator) completeIfConfirmed(ctx context.Context, p *models.Project) (bool, error) {
	scenes, err := c.scenes.ListByProject(ctx, p.ID)
	if err != nil {
		return false, err
	}
	if len(scenes) == 0 {
		return false, nil
	}
	for i := range scenes {
		if !scenes[i].FullyConfirmed() {
			return false, nil
		}
	}
	if err := c.advanceStage(ctx, p, models.StageCompleted); err != nil {
		return false, err
	}
	return true, nil
}

// markFailed 把状态写为 failed 并原样返回 cause；请求被取消时仍要落库
func (c *Coordinator) markFailed(ctx context.Context, sceneID string, kind models.Kind, cause error) error {
	if err := c.scenes.UpdateStatus(context.WithoutCancel(ctx), sceneID, kind, models.StatusFailed); err != nil {
		c.log.Error("mark scene failed", "scene_id", sceneID, "kind", kind, "error", err)
	}
	c.log.Warn("generation failed", "scene_id", sceneID, "kind", kind, "error", cause)
	return cause
}

// claim moves the scene's kind status to processing with a compare-and-swap. A processing
// status older than the lease belongs to an interrupted call and is taken over.
func (c *Coordinator) claim(ctx context.Context, s *models.Scene, kind models.Kind, op string) error {
	status := s.Status(kind)
	if status != models.StatusProcessing {
		return c.scenes.TransitionStatus(ctx, s.ID, kind, status, models.StatusProcessing)
	}
	if !c.stale(s) {
		return models.Conflict(op, fmt.Sprintf("%s generation is already in progress", kind))
	}
	c.log.Warn("reclaiming stale processing status", "scene_id", s.ID, "kind", kind, "since", s.UpdatedAt)
	return c.scenes.ReclaimStale(ctx, s.ID, kind, c.now().Add(-c.processingLease))
}

func (c *Coordinator) stale(s *models.Scene) bool {
	return s.UpdatedAt.Before(c.now().Add(-c.processingLease))
}

func (c *Coordinator) discardBlobs(ctx context.Context, paths []string) {
	if len(paths) == 0 {
		return
	}
	if err := c.blobs.Delete(ctx, paths); err != nil {
		c.log.Warn("delete blobs failed", "count", len(paths), "error", err)
	}
}

func (c *Coordinator) track(ctx context.Context, task VideoTask) {
	if c.tracker == nil {
		return
	}
	if err := c.tracker.Track(ctx, task); err != nil {
		c.log.Warn("track video task failed", "task_id", task.TaskID, "error", err)
	}
}

func retryable(s models.MediaStatus) bool {
	return s == models.StatusPending || s == models.StatusFailed
}

func storageError(op string, err error) error {
	var appErr *models.Error
	if errors.As(err, &appErr) {
		return err
	}
	return models.WrapError(models.KindStorage, op, err)
}

func without(paths []string, keep string) []string {
	out := paths[:0:0]
	for _, p := range paths {
		if p != keep {
			out = append(out, p)
		}
	}
	return out
}
