package models

import (
	"fmt"
	"time"
)

// Kind 分镜上可确认的维度；image/video 同时带有生成状态
type Kind string

const (
	KindDescription Kind = "description"
	KindImage       Kind = "image"
	KindVideo       Kind = "video"
)

func (k Kind) Valid() bool {
	return k == KindDescription || k == KindImage || k == KindVideo
}

// HasStatus reports whether the kind carries a generation status column.
func (k Kind) HasStatus() bool {
	return k == KindImage || k == KindVideo
}

type MediaStatus string

const (
	StatusPending    MediaStatus = "pending"
	StatusProcessing MediaStatus = "processing"
	StatusCompleted  MediaStatus = "completed"
	StatusFailed     MediaStatus = "failed"
)

type Scene struct {
	ID                   string      `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectID            string      `gorm:"type:varchar(64);not null;uniqueIndex:idx_scene_project_order" json:"projectId"`
	OrderIndex           int         `gorm:"not null;uniqueIndex:idx_scene_project_order" json:"orderIndex"`
	Description          string      `gorm:"type:text" json:"description"`
	DescriptionConfirmed bool        `gorm:"not null;default:false" json:"descriptionConfirmed"`
	ImageStatus          MediaStatus `gorm:"type:varchar(16);not null;default:pending" json:"imageStatus"`
	ImageConfirmed       bool        `gorm:"not null;default:false" json:"imageConfirmed"`
	VideoStatus          MediaStatus `gorm:"type:varchar(16);not null;default:pending" json:"videoStatus"`
	VideoConfirmed       bool        `gorm:"not null;default:false" json:"videoConfirmed"`
	CreatedAt            time.Time   `json:"createdAt"`
	UpdatedAt            time.Time   `json:"updatedAt"`
}

func (Scene) TableName() string {
	return "scene"
}

// Status returns the generation status for image or video.
func (s *Scene) Status(kind Kind) MediaStatus {
	switch kind {
	case KindImage:
		return s.ImageStatus
	case KindVideo:
		return s.VideoStatus
	}
	return ""
}

func (s *Scene) Confirmed(kind Kind) bool {
	switch kind {
	case KindDescription:
		return s.DescriptionConfirmed
	case KindImage:
		return s.ImageConfirmed
	case KindVideo:
		return s.VideoConfirmed
	}
	return false
}

// FullyConfirmed 描述、图片、视频三项均已确认
func (s *Scene) FullyConfirmed() bool {
	return s.DescriptionConfirmed && s.ImageConfirmed && s.VideoConfirmed
}

// SceneDraft 拆分结果中的单个分镜
type SceneDraft struct {
	OrderIndex  int    `json:"order_index"`
	Description string `json:"description"`
}

func statusColumn(kind Kind) (string, error) {
	switch kind {
	case KindImage:
		return "image_status", nil
	case KindVideo:
		return "video_status", nil
	}
	return "", Validation("scene status", fmt.Sprintf("kind %q has no status", kind))
}

func confirmedColumn(kind Kind) (string, error) {
	switch kind {
	case KindDescription:
		return "description_confirmed", nil
	case KindImage:
		return "image_confirmed", nil
	case KindVideo:
		return "video_confirmed", nil
	}
	return "", Validation("scene confirm", fmt.Sprintf("unknown kind %q", kind))
}
