package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SceneRepository persists scenes. Status and confirmation columns are only written
// through the methods below so the coordinator stays their single writer.
type SceneRepository struct {
	db *gorm.DB
}

func NewSceneRepository(db *gorm.DB) *SceneRepository {
	return &SceneRepository{db: db}
}

// ReplaceAll 原子地替换项目的全部分镜：先删后插，旧分镜的媒体记录一并删除。
// 返回新分镜（按 order_index 排序）和被丢弃媒体的存储路径。
func (r *SceneRepository) ReplaceAll(ctx context.Context, projectID string, drafts []SceneDraft) ([]Scene, []string, error) {
	seen := make(map[int]bool, len(drafts))
	for _, d := range drafts {
		if seen[d.OrderIndex] {
			return nil, nil, Validation("replace scenes", fmt.Sprintf("duplicate order index %d", d.OrderIndex))
		}
		seen[d.OrderIndex] = true
	}

	now := time.Now()
	scenes := make([]Scene, 0, len(drafts))
	for _, d := range drafts {
		scenes = append(scenes, Scene{
			ID:          uuid.NewString(),
			ProjectID:   projectID,
			OrderIndex:  d.OrderIndex,
			Description: strings.TrimSpace(d.Description),
			ImageStatus: StatusPending,
			VideoStatus: StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	var discarded []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		discarded, err = deleteProjectScenes(tx, projectID)
		if err != nil {
			return err
		}
		if len(scenes) == 0 {
			return nil
		}
		return tx.Create(&scenes).Error
	})
	if err != nil {
		return nil, nil, dbError("replace scenes", err)
	}
	sortScenes(scenes)
	return scenes, discarded, nil
}

func (r *SceneRepository) Get(ctx context.Context, id string) (*Scene, error) {
	var s Scene
	err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("get scene", "scene not found")
	}
	if err != nil {
		return nil, dbError("get scene", err)
	}
	return &s, nil
}

func (r *SceneRepository) ListByProject(ctx context.Context, projectID string) ([]Scene, error) {
	var scenes []Scene
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("order_index ASC").
		Find(&scenes).Error
	if err != nil {
		return nil, dbError("list scenes", err)
	}
	return scenes, nil
}

// UpdateDescription edits the text of a scene whose description is not yet confirmed.
func (r *SceneRepository) UpdateDescription(ctx context.Context, id, description string) (*Scene, error) {
	res := r.db.WithContext(ctx).Model(&Scene{}).
		Where("id = ? AND description_confirmed = ?", id, false).
		Updates(map[string]interface{}{
			"description": strings.TrimSpace(description),
			"updated_at":  time.Now(),
		})
	if res.Error != nil {
		return nil, dbError("update scene description", res.Error)
	}
	s, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 && s.DescriptionConfirmed {
		return nil, Validation("update scene description", "description is already confirmed")
	}
	return s, nil
}

// UpdateStatus 无条件写入生成状态（用于 processing 之后的终态写回）
func (r *SceneRepository) UpdateStatus(ctx context.Context, id string, kind Kind, status MediaStatus) error {
	col, err := statusColumn(kind)
	if err != nil {
		return err
	}
	err = r.db.WithContext(ctx).Model(&Scene{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{col: status, "updated_at": time.Now()}).Error
	return dbError("update scene status", err)
}

// TransitionStatus moves the status from `from` to `to` only if the row still holds `from`
// and the kind is unconfirmed. A lost race yields a Conflict error.
func (r *SceneRepository) TransitionStatus(ctx context.Context, id string, kind Kind, from, to MediaStatus) error {
	col, err := statusColumn(kind)
	if err != nil {
		return err
	}
	confirmed, _ := confirmedColumn(kind)
	res := r.db.WithContext(ctx).Model(&Scene{}).
		Where("id = ? AND "+col+" = ? AND "+confirmed+" = ?", id, from, false).
		Updates(map[string]interface{}{col: to, "updated_at": time.Now()})
	if res.Error != nil {
		return dbError("transition scene status", res.Error)
	}
	if res.RowsAffected == 0 {
		return Conflict("transition scene status",
			fmt.Sprintf("%s status changed concurrently (expected %s)", kind, from))
	}
	return nil
}

// ReclaimStale takes over a processing status whose row has not been touched since staleBefore,
// refreshing updated_at so a second caller racing for the same row gets Conflict.
func (r *SceneRepository) ReclaimStale(ctx context.Context, id string, kind Kind, staleBefore time.Time) error {
	col, err := statusColumn(kind)
	if err != nil {
		return err
	}
	confirmed, _ := confirmedColumn(kind)
	res := r.db.WithContext(ctx).Model(&Scene{}).
		Where("id = ? AND "+col+" = ? AND "+confirmed+" = ? AND updated_at < ?", id, StatusProcessing, false, staleBefore).
		Updates(map[string]interface{}{col: StatusProcessing, "updated_at": time.Now()})
	if res.Error != nil {
		return dbError("reclaim scene status", res.Error)
	}
	if res.RowsAffected == 0 {
		return Conflict("reclaim scene status", fmt.Sprintf("%s generation is already in progress", kind))
	}
	return nil
}

// FailStale 把长时间停留在 processing 的分镜改为 failed，exceptIDs 中的分镜跳过。返回改动行数
func (r *SceneRepository) FailStale(ctx context.Context, kind Kind, staleBefore time.Time, exceptIDs []string) (int64, error) {
	col, err := statusColumn(kind)
	if err != nil {
		return 0, err
	}
	q := r.db.WithContext(ctx).Model(&Scene{}).
		Where(col+" = ? AND updated_at < ?", StatusProcessing, staleBefore)
	if len(exceptIDs) > 0 {
		q = q.Where("id NOT IN ?", exceptIDs)
	}
	res := q.Updates(map[string]interface{}{col: StatusFailed, "updated_at": time.Now()})
	if res.Error != nil {
		return 0, dbError("fail stale scenes", res.Error)
	}
	return res.RowsAffected, nil
}

// SetConfirmed 将某一维度标记为已确认；onlyIfStatus 非空时要求状态匹配。
// 返回更新后的分镜，条件不满足时返回 Validation。
func (r *SceneRepository) SetConfirmed(ctx context.Context, id string, kind Kind, onlyIfStatus MediaStatus) (*Scene, error) {
	col, err := confirmedColumn(kind)
	if err != nil {
		return nil, err
	}
	q := r.db.WithContext(ctx).Model(&Scene{}).Where("id = ?", id)
	if onlyIfStatus != "" {
		statusCol, err := statusColumn(kind)
		if err != nil {
			return nil, err
		}
		q = q.Where(statusCol+" = ?", onlyIfStatus)
	}
	if err := q.Updates(map[string]interface{}{col: true, "updated_at": time.Now()}).Error; err != nil {
		return nil, dbError("confirm scene", err)
	}
	s, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.Confirmed(kind) {
		return nil, Validation("confirm scene", fmt.Sprintf("%s must be %s before confirming", kind, onlyIfStatus))
	}
	return s, nil
}

// BulkSetConfirmed confirms kind on every unconfirmed scene of the project, optionally
// restricted to scenes whose status equals onlyIfStatus. Returns the number newly confirmed.
func (r *SceneRepository) BulkSetConfirmed(ctx context.Context, projectID string, kind Kind, onlyIfStatus MediaStatus) (int64, error) {
	col, err := confirmedColumn(kind)
	if err != nil {
		return 0, err
	}
	q := r.db.WithContext(ctx).Model(&Scene{}).
		Where("project_id = ? AND "+col+" = ?", projectID, false)
	if onlyIfStatus != "" {
		statusCol, err := statusColumn(kind)
		if err != nil {
			return 0, err
		}
		q = q.Where(statusCol+" = ?", onlyIfStatus)
	}
	res := q.Updates(map[string]interface{}{col: true, "updated_at": time.Now()})
	if res.Error != nil {
		return 0, dbError("bulk confirm scenes", res.Error)
	}
	return res.RowsAffected, nil
}

// ResetConfirmed clears a confirmation flag.
func (r *SceneRepository) ResetConfirmed(ctx context.Context, id string, kind Kind) (*Scene, error) {
	col, err := confirmedColumn(kind)
	if err != nil {
		return nil, err
	}
	err = r.db.WithContext(ctx).Model(&Scene{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{col: false, "updated_at": time.Now()}).Error
	if err != nil {
		return nil, dbError("reset scene confirmation", err)
	}
	return r.Get(ctx, id)
}

func sortScenes(scenes []Scene) {
	sort.SliceStable(scenes, func(i, j int) bool {
		return scenes[i].OrderIndex < scenes[j].OrderIndex
	})
}
