package api

import (
	"context"
	"net/http"

	"storyscene-server/models"

	"github.com/gin-gonic/gin"
)

type updateSceneRequest struct {
	Description string `json:"description" binding:"required"`
}

// 修改分镜描述：PATCH /v1/api/scenes/:scene_id，描述确认后不可改
func (h *Handler) UpdateScene(c *gin.Context) {
	var req updateSceneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, "update scene", err)
		return
	}
	s, err := h.coord.UpdateSceneDescription(c.Request.Context(), ownerID(c), c.Param("scene_id"), req.Description)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scene": s})
}

func (h *Handler) ConfirmDescription(c *gin.Context) {
	h.confirm(c, h.coord.ConfirmDescription)
}

func (h *Handler) ConfirmImage(c *gin.Context) {
	h.confirm(c, h.coord.ConfirmImage)
}

func (h *Handler) ConfirmVideo(c *gin.Context) {
	h.confirm(c, h.coord.ConfirmVideo)
}

type confirmFunc func(ctx context.Context, ownerID, sceneID string) (*models.Scene, error)

func (h *Handler) confirm(c *gin.Context, fn confirmFunc) {
	s, err := fn(c.Request.Context(), ownerID(c), c.Param("scene_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scene": s})
}

type resetConfirmationRequest struct {
	Kind string `json:"kind" binding:"required,oneof=description image video"`
}

// 撤销确认：POST /v1/api/scenes/:scene_id/reset-confirmation
func (h *Handler) ResetConfirmation(c *gin.Context) {
	var req resetConfirmationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, "reset confirmation", err)
		return
	}
	s, err := h.coord.ResetConfirmation(c.Request.Context(), ownerID(c), c.Param("scene_id"), models.Kind(req.Kind))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scene": s})
}

// 单个分镜生图：POST /v1/api/scenes/:scene_id/image，同步返回
func (h *Handler) GenerateImage(c *gin.Context) {
	m, err := h.coord.GenerateImage(c.Request.Context(), ownerID(c), c.Param("scene_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"image": m})
}

// 单个分镜提交视频任务：POST /v1/api/scenes/:scene_id/video，结果通过轮询获取
func (h *Handler) GenerateVideo(c *gin.Context) {
	task, err := h.coord.GenerateVideo(c.Request.Context(), ownerID(c), c.Param("scene_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task": task})
}
