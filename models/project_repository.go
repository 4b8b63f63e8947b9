package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProjectRepository persists projects. Every owner-scoped call checks ownership.
type ProjectRepository struct {
	db *gorm.DB
}

func NewProjectRepository(db *gorm.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

func (r *ProjectRepository) Create(ctx context.Context, p *Project) error {
	if strings.TrimSpace(p.OwnerID) == "" {
		return Validation("create project", "owner is required")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Stage == "" {
		p.Stage = StageDraft
	}
	if p.Style == "" {
		p.Style = DefaultStyle
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	return dbError("create project", r.db.WithContext(ctx).Create(p).Error)
}

// Get loads a project and verifies it belongs to ownerID.
func (r *ProjectRepository) Get(ctx context.Context, id, ownerID string) (*Project, error) {
	p, err := r.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != ownerID {
		return nil, Unauthorized("get project", "project belongs to another user")
	}
	return p, nil
}

// Lookup loads a project without an ownership check; for background reconciliation only.
func (r *ProjectRepository) Lookup(ctx context.Context, id string) (*Project, error) {
	var p Project
	err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("get project", "project not found")
	}
	if err != nil {
		return nil, dbError("get project", err)
	}
	return &p, nil
}

func (r *ProjectRepository) Update(ctx context.Context, id, ownerID string, patch ProjectPatch) (*Project, error) {
	if _, err := r.Get(ctx, id, ownerID); err != nil {
		return nil, err
	}
	updates := patch.updates()
	if len(updates) > 0 {
		updates["updated_at"] = time.Now()
		err := r.db.WithContext(ctx).Model(&Project{}).Where("id = ?", id).Updates(updates).Error
		if err != nil {
			return nil, dbError("update project", err)
		}
	}
	return r.Lookup(ctx, id)
}

// AdvanceStage moves the project to target only while its stored stage ranks before target.
// The check happens in the UPDATE itself, so a stale caller can never move the stage backward.
// It reports whether the row changed and returns the project as stored.
func (r *ProjectRepository) AdvanceStage(ctx context.Context, id string, target ProjectStage) (*Project, bool, error) {
	if !target.Valid() {
		return nil, false, Validation("advance project stage", fmt.Sprintf("unknown stage %q", target))
	}
	res := r.db.WithContext(ctx).Model(&Project{}).
		Where("id = ? AND stage IN ?", id, stagesBefore(target)).
		Updates(map[string]interface{}{"stage": target, "updated_at": time.Now()})
	if res.Error != nil {
		return nil, false, dbError("advance project stage", res.Error)
	}
	p, err := r.Lookup(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return p, res.RowsAffected > 0, nil
}

// Delete 删除项目及其分镜、媒体记录，返回需要清理的存储路径
func (r *ProjectRepository) Delete(ctx context.Context, id, ownerID string) ([]string, error) {
	if _, err := r.Get(ctx, id, ownerID); err != nil {
		return nil, err
	}
	var paths []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		paths, err = deleteProjectScenes(tx, id)
		if err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&Project{}).Error
	})
	if err != nil {
		return nil, dbError("delete project", err)
	}
	return paths, nil
}

// deleteProjectScenes removes every scene of the project and its media rows inside tx.
func deleteProjectScenes(tx *gorm.DB, projectID string) ([]string, error) {
	var sceneIDs []string
	if err := tx.Model(&Scene{}).Where("project_id = ?", projectID).Pluck("id", &sceneIDs).Error; err != nil {
		return nil, err
	}
	if len(sceneIDs) == 0 {
		return nil, nil
	}

	var paths []string
	err := tx.Model(&Media{}).
		Where("scene_id IN ? AND storage_path <> ''", sceneIDs).
		Pluck("storage_path", &paths).Error
	if err != nil {
		return nil, err
	}
	if err := tx.Where("scene_id IN ?", sceneIDs).Delete(&Media{}).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("project_id = ?", projectID).Delete(&Scene{}).Error; err != nil {
		return nil, err
	}
	return paths, nil
}
