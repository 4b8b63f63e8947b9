package api

import (
	"context"
	"net/http"
	"time"

	"storyscene-server/logger"
	"storyscene-server/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type pollQuery struct {
	SceneID string `form:"scene_id" binding:"required"`
	VideoID string `form:"video_id" binding:"required"`
}

// 查询视频任务：GET /v1/api/video-tasks/:task_id?scene_id=&video_id=
// 任务成功时会在本次请求中下载并落库，重复调用幂等
func (h *Handler) PollVideoTask(c *gin.Context) {
	var q pollQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		bindError(c, "poll video task", err)
		return
	}
	res, err := h.coord.PollVideoTask(c.Request.Context(), ownerID(c), c.Param("task_id"), q.SceneID, q.VideoID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": res})
}

// sceneSnapshot 推送给前端的分镜状态
type sceneSnapshot struct {
	SceneID              string             `json:"sceneId"`
	DescriptionConfirmed bool               `json:"descriptionConfirmed"`
	ImageStatus          models.MediaStatus `json:"imageStatus"`
	ImageConfirmed       bool               `json:"imageConfirmed"`
	VideoStatus          models.MediaStatus `json:"videoStatus"`
	VideoConfirmed       bool               `json:"videoConfirmed"`
}

func snapshotOf(s *models.Scene) sceneSnapshot {
	return sceneSnapshot{
		SceneID:              s.ID,
		DescriptionConfirmed: s.DescriptionConfirmed,
		ImageStatus:          s.ImageStatus,
		ImageConfirmed:       s.ImageConfirmed,
		VideoStatus:          s.VideoStatus,
		VideoConfirmed:       s.VideoConfirmed,
	}
}

// 分镜状态 WebSocket 推送：GET /v1/api/scenes/:scene_id/wss?token=
// 以数据库为来源，先推送当前状态，之后定时读取并只在变化时推送；三项都确认后关闭
func (h *Handler) SceneStatusWebSocket(c *gin.Context) {
	owner := ownerID(c)
	sceneID := c.Param("scene_id")
	s, err := h.coord.GetScene(c.Request.Context(), owner, sceneID)
	if err != nil {
		respondError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.FromContext(c.Request.Context()).Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// 读协程只用来感知客户端断开
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	prev := snapshotOf(s)
	if err := conn.WriteJSON(prev); err != nil {
		return
	}
	if s.FullyConfirmed() {
		return
	}

	ticker := time.NewTicker(h.pushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cur, err := h.coord.GetScene(ctx, owner, sceneID)
		if err != nil {
			// 分镜被重新拆分后不存在了
			if models.IsKind(err, models.KindNotFound) {
				_ = conn.WriteJSON(gin.H{"error": err.Error(), "kind": models.KindNotFound})
				return
			}
			continue
		}
		snap := snapshotOf(cur)
		if snap != prev {
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
			prev = snap
		}
		if cur.FullyConfirmed() {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "scene confirmed"))
			return
		}
	}
}
