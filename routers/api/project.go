package api

import (
	"context"
	"net/http"

	"storyscene-server/models"
	"storyscene-server/service"
	"storyscene-server/service/ai"

	"github.com/gin-gonic/gin"
)

type createProjectRequest struct {
	Title string `json:"title" binding:"required"`
	Story string `json:"story" binding:"required"`
	Style string `json:"style"`
}

// 创建项目：POST /v1/api/projects
func (h *Handler) CreateProject(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, "create project", err)
		return
	}
	p, err := h.coord.CreateProject(c.Request.Context(), ownerID(c), req.Title, req.Story, req.Style)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"project": p})
}

// 项目详情（含分镜与素材）：GET /v1/api/projects/:project_id
func (h *Handler) GetProject(c *gin.Context) {
	detail, err := h.coord.GetProject(c.Request.Context(), ownerID(c), c.Param("project_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

type updateProjectRequest struct {
	Title *string `json:"title"`
	Story *string `json:"story"`
	Style *string `json:"style"`
}

// 更新项目：PATCH /v1/api/projects/:project_id，阶段字段不可由客户端修改
func (h *Handler) UpdateProject(c *gin.Context) {
	var req updateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, "update project", err)
		return
	}
	p, err := h.coord.UpdateProject(c.Request.Context(), ownerID(c), c.Param("project_id"), service.ProjectUpdate{
		Title: req.Title,
		Story: req.Story,
		Style: req.Style,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": p})
}

// 删除项目：DELETE /v1/api/projects/:project_id
func (h *Handler) DeleteProject(c *gin.Context) {
	if err := h.coord.DeleteProject(c.Request.Context(), ownerID(c), c.Param("project_id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type generateScenesRequest struct {
	Feedback string `json:"feedback"`
}

// 拆分分镜：POST /v1/api/projects/:project_id/scenes/generate
// 带 feedback 时按修改意见重新拆分
func (h *Handler) GenerateScenes(c *gin.Context) {
	var req generateScenesRequest
	if hasBody(c) {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, "generate scenes", err)
			return
		}
	}
	ctx := c.Request.Context()
	projectID := c.Param("project_id")

	var (
		scenes []models.Scene
		err    error
	)
	if req.Feedback != "" {
		scenes, err = h.coord.RegenerateScenes(ctx, ownerID(c), projectID, req.Feedback)
	} else {
		scenes, err = h.coord.DecomposeStory(ctx, ownerID(c), projectID)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scenes": scenes})
}

// 批量确认：POST /v1/api/projects/:project_id/scenes/confirm-{descriptions,images,videos}
func (h *Handler) ConfirmAllDescriptions(c *gin.Context) {
	h.confirmAll(c, h.coord.ConfirmAllDescriptions)
}

func (h *Handler) ConfirmAllImages(c *gin.Context) {
	h.confirmAll(c, h.coord.ConfirmAllImages)
}

func (h *Handler) ConfirmAllVideos(c *gin.Context) {
	h.confirmAll(c, h.coord.ConfirmAllVideos)
}

type confirmAllFunc func(ctx context.Context, ownerID, projectID string) (*service.ConfirmAllResult, error)

func (h *Handler) confirmAll(c *gin.Context, fn confirmAllFunc) {
	res, err := fn(c.Request.Context(), ownerID(c), c.Param("project_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// 批量生图：POST /v1/api/projects/:project_id/images
func (h *Handler) GenerateProjectImages(c *gin.Context) {
	res, err := h.coord.GenerateImagesForProject(c.Request.Context(), ownerID(c), c.Param("project_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// 批量提交视频任务：POST /v1/api/projects/:project_id/videos
func (h *Handler) GenerateProjectVideos(c *gin.Context) {
	res, err := h.coord.GenerateVideosForProject(c.Request.Context(), ownerID(c), c.Param("project_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

// 可选画面风格：GET /v1/api/styles
func (h *Handler) ListStyles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"styles": ai.Styles(), "default": models.DefaultStyle})
}
