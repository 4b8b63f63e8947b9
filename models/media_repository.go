package models

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MediaRepository struct {
	db *gorm.DB
}

func NewMediaRepository(db *gorm.DB) *MediaRepository {
	return &MediaRepository{db: db}
}

// Create inserts an artifact with version = highest existing version for (scene, kind) + 1.
func (r *MediaRepository) Create(ctx context.Context, m *Media) error {
	if !m.Kind.HasStatus() {
		return Validation("create media", "kind must be image or video")
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now()
	m.CreatedAt = now
	m.UpdatedAt = now
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxVersion int
		err := tx.Model(&Media{}).
			Where("scene_id = ? AND kind = ?", m.SceneID, m.Kind).
			Select("COALESCE(MAX(version), 0)").
			Scan(&maxVersion).Error
		if err != nil {
			return err
		}
		m.Version = maxVersion + 1
		return tx.Create(m).Error
	})
	return dbError("create media", err)
}

// Latest 返回最高版本的产物，不存在时返回 (nil, nil)
func (r *MediaRepository) Latest(ctx context.Context, sceneID string, kind Kind) (*Media, error) {
	var m Media
	err := r.db.WithContext(ctx).
		Where("scene_id = ? AND kind = ?", sceneID, kind).
		Order("version DESC").
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("latest media", err)
	}
	return &m, nil
}

func (r *MediaRepository) Get(ctx context.Context, id string) (*Media, error) {
	var m Media
	err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("get media", "media not found")
	}
	if err != nil {
		return nil, dbError("get media", err)
	}
	return &m, nil
}

// ListByScenes returns the artifacts of the given scenes, newest version first.
func (r *MediaRepository) ListByScenes(ctx context.Context, sceneIDs []string) ([]Media, error) {
	if len(sceneIDs) == 0 {
		return nil, nil
	}
	var items []Media
	err := r.db.WithContext(ctx).
		Where("scene_id IN ?", sceneIDs).
		Order("version DESC").
		Find(&items).Error
	if err != nil {
		return nil, dbError("list media", err)
	}
	return items, nil
}

// UpdateLocation 回填视频产物的存储路径和访问地址。只写入尚无路径的记录，
// 返回 false 表示另一个调用方已经先写入
func (r *MediaRepository) UpdateLocation(ctx context.Context, id, path, url string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Media{}).
		Where("id = ? AND storage_path = ''", id).
		Updates(map[string]interface{}{
			"storage_path": path,
			"url":          url,
			"updated_at":   time.Now(),
		})
	if res.Error != nil {
		return false, dbError("update media location", res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// DeleteAll removes every artifact of kind for the scene and returns their storage paths.
func (r *MediaRepository) DeleteAll(ctx context.Context, sceneID string, kind Kind) ([]string, error) {
	var paths []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&Media{}).
			Where("scene_id = ? AND kind = ? AND storage_path <> ''", sceneID, kind).
			Pluck("storage_path", &paths).Error
		if err != nil {
			return err
		}
		return tx.Where("scene_id = ? AND kind = ?", sceneID, kind).Delete(&Media{}).Error
	})
	if err != nil {
		return nil, dbError("delete media", err)
	}
	return paths, nil
}

// ListAwaitingVideos 查找已提交任务但尚未回填路径、且创建早于 before 的视频记录
func (r *MediaRepository) ListAwaitingVideos(ctx context.Context, before time.Time, limit int) ([]Media, error) {
	if limit <= 0 {
		limit = 100
	}
	var items []Media
	err := r.db.WithContext(ctx).
		Where("kind = ? AND task_id <> '' AND storage_path = '' AND created_at < ?", KindVideo, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, dbError("list awaiting videos", err)
	}
	return items, nil
}

// AwaitingVideoSceneIDs 返回仍有未完成视频任务的分镜 id
func (r *MediaRepository) AwaitingVideoSceneIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&Media{}).
		Where("kind = ? AND task_id <> '' AND storage_path = ''", KindVideo).
		Distinct().
		Pluck("scene_id", &ids).Error
	if err != nil {
		return nil, dbError("list awaiting video scenes", err)
	}
	return ids, nil
}
