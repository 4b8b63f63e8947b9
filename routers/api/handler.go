package api

import (
	"net/http"
	"time"

	"storyscene-server/logger"
	"storyscene-server/models"
	"storyscene-server/service"

	"github.com/gin-gonic/gin"
)

// OwnerKey 鉴权中间件写入 gin.Context 的调用方 id
const OwnerKey = "owner_id"

// Handler 持有协调器，所有接口都是它的方法
type Handler struct {
	coord        *service.Coordinator
	pushInterval time.Duration
}

func NewHandler(coord *service.Coordinator) *Handler {
	return &Handler{coord: coord, pushInterval: time.Second}
}

// WithPushInterval sets how often the scene websocket re-reads the database.
func (h *Handler) WithPushInterval(d time.Duration) *Handler {
	if d > 0 {
		h.pushInterval = d
	}
	return h
}

func ownerID(c *gin.Context) string {
	return c.GetString(OwnerKey)
}

// StatusFor maps an error kind to its HTTP status code.
func StatusFor(kind models.ErrorKind) int {
	switch kind {
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindUnauthenticated:
		return http.StatusUnauthorized
	case models.KindUnauthorized:
		return http.StatusForbidden
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindConflict:
		return http.StatusConflict
	case models.KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case models.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError 按错误分类返回，500 类不向客户端暴露内部细节
func respondError(c *gin.Context, err error) {
	kind := models.KindOf(err)
	status := StatusFor(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).Error("request failed", "path", c.FullPath(), "kind", kind, "error", err)
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "kind": kind})
}

// bindError 请求体解析失败统一按 validation 处理
func bindError(c *gin.Context, op string, err error) {
	respondError(c, models.WrapError(models.KindValidation, op, err))
}

func hasBody(c *gin.Context) bool {
	return c.Request.ContentLength > 0 || len(c.Request.TransferEncoding) > 0
}
