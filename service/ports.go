package service

import (
	"context"
	"time"

	"storyscene-server/models"
	"storyscene-server/service/ai"
)

// 协调器依赖的存储与上游接口，具体实现见 models 包的 Repository、MinIOStore 以及 ai 包

type ProjectStore interface {
	Create(ctx context.Context, p *models.Project) error
	Get(ctx context.Context, id, ownerID string) (*models.Project, error)
	Lookup(ctx context.Context, id string) (*models.Project, error)
	Update(ctx context.Context, id, ownerID string, patch models.ProjectPatch) (*models.Project, error)
	Delete(ctx context.Context, id, ownerID string) ([]string, error)
	AdvanceStage(ctx context.Context, id string, target models.ProjectStage) (*models.Project, bool, error)
}

type SceneStore interface {
	ReplaceAll(ctx context.Context, projectID string, drafts []models.SceneDraft) ([]models.Scene, []string, error)
	Get(ctx context.Context, id string) (*models.Scene, error)
	ListByProject(ctx context.Context, projectID string) ([]models.Scene, error)
	UpdateDescription(ctx context.Context, id, description string) (*models.Scene, error)
	UpdateStatus(ctx context.Context, id string, kind models.Kind, status models.MediaStatus) error
	TransitionStatus(ctx context.Context, id string, kind models.Kind, from, to models.MediaStatus) error
	ReclaimStale(ctx context.Context, id string, kind models.Kind, staleBefore time.Time) error
	FailStale(ctx context.Context, kind models.Kind, staleBefore time.Time, exceptIDs []string) (int64, error)
	SetConfirmed(ctx context.Context, id string, kind models.Kind, onlyIfStatus models.MediaStatus) (*models.Scene, error)
	BulkSetConfirmed(ctx context.Context, projectID string, kind models.Kind, onlyIfStatus models.MediaStatus) (int64, error)
	ResetConfirmed(ctx context.Context, id string, kind models.Kind) (*models.Scene, error)
}

type MediaStore interface {
	Create(ctx context.Context, m *models.Media) error
	Latest(ctx context.Context, sceneID string, kind models.Kind) (*models.Media, error)
	Get(ctx context.Context, id string) (*models.Media, error)
	ListByScenes(ctx context.Context, sceneIDs []string) ([]models.Media, error)
	UpdateLocation(ctx context.Context, id, path, url string) (bool, error)
	DeleteAll(ctx context.Context, sceneID string, kind models.Kind) ([]string, error)
	ListAwaitingVideos(ctx context.Context, before time.Time, limit int) ([]models.Media, error)
	AwaitingVideoSceneIDs(ctx context.Context) ([]string, error)
}

// BlobStore stores generated artifacts and hands out time-boxed URLs.
type BlobStore interface {
	Put(ctx context.Context, ownerID, projectID, fileName string, data []byte, contentType string) (path, url string, err error)
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, paths []string) error
}

type Decomposer interface {
	Decompose(ctx context.Context, story, style string) ([]models.SceneDraft, error)
	Regenerate(ctx context.Context, story, style, feedback string) ([]models.SceneDraft, error)
}

type ImageSynthesizer interface {
	Generate(ctx context.Context, description, style string) ([]byte, error)
}

type VideoSynthesizer interface {
	CreateTask(ctx context.Context, imageURL, description, style string) (string, error)
	GetStatus(ctx context.Context, taskID string) (*ai.TaskStatus, error)
	Download(ctx context.Context, videoURL string) ([]byte, error)
}

// VideoTaskTracker 可选：视频任务提交后交给后台跟踪（asynq），不影响外部轮询接口
type VideoTaskTracker interface {
	Track(ctx context.Context, task VideoTask) error
}
