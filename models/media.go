package models

import (
	"time"
)

// Media 分镜的图片或视频产物。视频在任务提交后先落一行空路径记录，带上外部 task_id，
// 轮询成功后再回填 storage_path/url。
type Media struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	SceneID     string    `gorm:"type:varchar(64);not null;index:idx_media_scene_kind" json:"sceneId"`
	Kind        Kind      `gorm:"type:varchar(16);not null;index:idx_media_scene_kind" json:"kind"`
	StoragePath string    `gorm:"type:varchar(512)" json:"storagePath"`
	URL         string    `gorm:"type:text" json:"url"`
	Version     int       `gorm:"not null;default:1" json:"version"`
	TaskID      string    `gorm:"type:varchar(128);index" json:"taskId,omitempty"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	Duration    float64   `json:"duration,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (Media) TableName() string {
	return "media"
}

// Ready reports whether the artifact has been stored (a video row awaiting its task has no path yet).
func (m *Media) Ready() bool {
	return m.StoragePath != ""
}
