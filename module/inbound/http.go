package inbound

import (
	"WaRelay/middleware"
	"WaRelay/module/concat"
	"WaRelay/tools/errs"
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Admin 运维接口依赖（*concat.Engine 实现）
type Admin interface {
	Pending(ctx context.Context, sessionID, sender string) (*concat.Block, error)
	Flush(ctx context.Context, sessionID, sender string) error
	Clear(ctx context.Context, sessionID, sender string) (bool, error)
}

type HTTPHandler struct {
	p     *Pipeline
	admin Admin
	log   *zap.Logger
}

func NewHTTPHandler(p *Pipeline, admin Admin, log *zap.Logger) *HTTPHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPHandler{p: p, admin: admin, log: log}
}

// RegisterRoutes 入站接口无鉴权（由网关做签名校验），运维接口需要 JWT
func RegisterRoutes(r gin.IRoutes, h *HTTPHandler) {
	middleware.POST(r, "/v1/inbound", h.Inbound, middleware.RouteOpt{IsAuth: false})
	middleware.GET(r, "/v1/blocks/:session/:sender", h.GetBlock, middleware.RouteOpt{IsAuth: true})
	middleware.POST(r, "/v1/blocks/:session/:sender/flush", h.FlushBlock, middleware.RouteOpt{IsAuth: true})
	middleware.DELETE(r, "/v1/blocks/:session/:sender", h.ClearBlock, middleware.RouteOpt{IsAuth: true})
}

// Inbound POST /v1/inbound
func (h *HTTPHandler) Inbound(c *gin.Context) {
	var ev Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		h.fail(c, errs.ErrArgs.WrapMsg(err.Error()))
		return
	}
	if err := h.p.Handle(c.Request.Context(), &ev); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "id": ev.Message.ID})
}

// GetBlock GET /v1/blocks/:session/:sender
func (h *HTTPHandler) GetBlock(c *gin.Context) {
	b, err := h.admin.Pending(c.Request.Context(), c.Param("session"), c.Param("sender"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if b == nil {
		h.fail(c, errs.ErrRecordNotFound.WrapMsg("no pending block"))
		return
	}
	c.JSON(http.StatusOK, b)
}

// FlushBlock POST /v1/blocks/:session/:sender/flush
func (h *HTTPHandler) FlushBlock(c *gin.Context) {
	if err := h.admin.Flush(c.Request.Context(), c.Param("session"), c.Param("sender")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "flushed"})
}

// ClearBlock DELETE /v1/blocks/:session/:sender
func (h *HTTPHandler) ClearBlock(c *gin.Context) {
	ok, err := h.admin.Clear(c.Request.Context(), c.Param("session"), c.Param("sender"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": ok})
}

func (h *HTTPHandler) fail(c *gin.Context, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Warn("request failed", zap.String("path", c.FullPath()), zap.Int("status", status), zap.Error(err))
	}
	body, ok := errs.AsCode(err)
	if !ok {
		e := errs.ErrInternal.WithDetail(err.Error())
		body = &e
	}
	c.AbortWithStatusJSON(status, body)
}

// HTTPStatus 错误码 -> HTTP 状态；存储类错误返回 503 让上游重投
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, &errs.ErrArgs):
		return http.StatusBadRequest
	case errors.Is(err, &errs.ErrTokenInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, &errs.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, &errs.ErrStoreUnavailable),
		errors.Is(err, &errs.ErrPersist),
		errors.Is(err, &errs.ErrBlockFull),
		errors.Is(err, &errs.ErrTypeMismatch):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
