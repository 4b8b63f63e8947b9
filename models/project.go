package models

import "time"

// ProjectStage 项目阶段，只能向前推进
type ProjectStage string

const (
	StageDraft     ProjectStage = "draft"     // 项目已创建，尚未拆分分镜
	StageScenes    ProjectStage = "scenes"    // 分镜描述已生成
	StageImages    ProjectStage = "images"    // 已执行批量生图
	StageVideos    ProjectStage = "videos"    // 已提交批量视频任务
	StageCompleted ProjectStage = "completed" // 所有分镜的描述/图片/视频均已确认
)

var stageRank = map[ProjectStage]int{
	StageDraft:     0,
	StageScenes:    1,
	StageImages:    2,
	StageVideos:    3,
	StageCompleted: 4,
}

// Rank returns the position of the stage in the forward order, -1 for unknown values.
func (s ProjectStage) Rank() int {
	if r, ok := stageRank[s]; ok {
		return r
	}
	return -1
}

// Before reports whether s comes strictly before other.
func (s ProjectStage) Before(other ProjectStage) bool {
	return s.Rank() < other.Rank()
}

func (s ProjectStage) Valid() bool {
	return s.Rank() >= 0
}

// stagesBefore lists every stage ranked strictly before target.
func stagesBefore(target ProjectStage) []ProjectStage {
	var out []ProjectStage
	for st, r := range stageRank {
		if r < target.Rank() {
			out = append(out, st)
		}
	}
	return out
}

const DefaultStyle = "realistic"

type Project struct {
	ID        string       `gorm:"primaryKey;type:varchar(64)" json:"id"`
	OwnerID   string       `gorm:"type:varchar(64);index;not null" json:"ownerId"`
	Title     string       `gorm:"type:varchar(255)" json:"title"`
	Story     string       `gorm:"type:text" json:"story"`
	Style     string       `gorm:"type:varchar(32)" json:"style"`
	Stage     ProjectStage `gorm:"type:varchar(16);not null;default:draft" json:"stage"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

func (Project) TableName() string {
	return "project"
}

// ProjectPatch 部分更新，nil 字段不修改；阶段只能通过 AdvanceStage 推进
type ProjectPatch struct {
	Title *string
	Story *string
	Style *string
}

func (p ProjectPatch) updates() map[string]interface{} {
	updates := map[string]interface{}{}
	if p.Title != nil {
		updates["title"] = *p.Title
	}
	if p.Story != nil {
		updates["story"] = *p.Story
	}
	if p.Style != nil {
		updates["style"] = *p.Style
	}
	return updates
}

// ProjectDetail 项目详情：按 order_index 排序的分镜及其媒体
type ProjectDetail struct {
	Project
	Scenes []SceneWithMedia `json:"scenes"`
}

type SceneWithMedia struct {
	Scene
	Images []Media `json:"images"`
	Videos []Media `json:"videos"`
}
