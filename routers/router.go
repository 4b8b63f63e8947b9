package routers

import (
	"log/slog"
	"net/http"

	"storyscene-server/routers/api"

	"github.com/gin-gonic/gin"
)

func InitRouter(h *api.Handler, jwtSecret string, log *slog.Logger) *gin.Engine {
	if log == nil {
		log = slog.Default()
	}
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(log))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1/api", Auth(jwtSecret))
	{
		v1.GET("/styles", h.ListStyles)
		v1.POST("/projects", h.CreateProject)
		v1.GET("/projects/:project_id", h.GetProject)
		v1.PATCH("/projects/:project_id", h.UpdateProject)
		v1.DELETE("/projects/:project_id", h.DeleteProject)

		v1.POST("/projects/:project_id/scenes/generate", h.GenerateScenes)
		v1.POST("/projects/:project_id/scenes/confirm-descriptions", h.ConfirmAllDescriptions)
		v1.POST("/projects/:project_id/scenes/confirm-images", h.ConfirmAllImages)
		v1.POST("/projects/:project_id/scenes/confirm-videos", h.ConfirmAllVideos)
		v1.POST("/projects/:project_id/images", h.GenerateProjectImages)
		v1.POST("/projects/:project_id/videos", h.GenerateProjectVideos)

		v1.PATCH("/scenes/:scene_id", h.UpdateScene)
		v1.POST("/scenes/:scene_id/confirm-description", h.ConfirmDescription)
		v1.POST("/scenes/:scene_id/confirm-image", h.ConfirmImage)
		v1.POST("/scenes/:scene_id/confirm-video", h.ConfirmVideo)
		v1.POST("/scenes/:scene_id/reset-confirmation", h.ResetConfirmation)
		v1.POST("/scenes/:scene_id/image", h.GenerateImage)
		v1.POST("/scenes/:scene_id/video", h.GenerateVideo)
		v1.GET("/scenes/:scene_id/wss", h.SceneStatusWebSocket)

		v1.GET("/video-tasks/:task_id", h.PollVideoTask)
	}
	return r
}
