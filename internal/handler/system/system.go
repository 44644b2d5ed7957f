package system

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"

	"quantflow/internal/metrics"
	"quantflow/internal/model"
	"quantflow/internal/orchestrator"
	"quantflow/pkg/errors"
	"quantflow/pkg/errors/ecode"
	"quantflow/pkg/response"
)

// 系统控制接口：启停、状态、仓位、kill switch

type AuditReader interface {
	ListByKind(ctx context.Context, kind string, limit int) ([]model.AuditEvent, error)
}

type Handler struct {
	orch    *orchestrator.Orchestrator
	metrics *metrics.Metrics
	audit   AuditReader
}

func NewHandler(orch *orchestrator.Orchestrator, m *metrics.Metrics, audit AuditReader) *Handler {
	return &Handler{orch: orch, metrics: m, audit: audit}
}

// Start 启动扫描引擎（抢领导权+仓位恢复）
func (h *Handler) Start() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := h.orch.Start(c.Request.Context())
		response.JSON(c, err, gin.H{"state": h.orch.State()})
	}
}

// Stop 停止扫描并释放领导权
func (h *Handler) Stop() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := h.orch.Stop(c.Request.Context())
		response.JSON(c, err, gin.H{"state": h.orch.State()})
	}
}

// State 系统状态+指标快照
func (h *Handler) State() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.JSON(c, nil, gin.H{
			"state":   h.orch.State(),
			"metrics": h.metrics.Snapshot(),
		})
	}
}

// Supervisor 监督器信息 {state, ticks, interval}
func (h *Handler) Supervisor() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.JSON(c, nil, h.orch.Status())
	}
}

// Positions 仓位账本只读快照
func (h *Handler) Positions() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.JSON(c, nil, h.orch.Positions())
	}
}

type closeAllReq struct {
	Reason string `json:"reason" binding:"required,max=64"`
}

// CloseAll kill switch：全部仓位市价平掉
func (h *Handler) CloseAll() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req closeAllReq
		if err := c.ShouldBindJSON(&req); err != nil {
			response.JSON(c, errors.Wrap(err, ecode.BadRequest, "invalid close-all request"), nil)
			return
		}
		closed, err := h.orch.CloseAllPositions(c.Request.Context(), req.Reason)
		response.JSON(c, err, gin.H{"closed": closed})
	}
}

// Audit 按事件类型查审计日志，人工排查用
func (h *Handler) Audit() gin.HandlerFunc {
	return func(c *gin.Context) {
		kind := c.Query("kind")
		if kind == "" {
			response.JSON(c, errors.New(ecode.BadRequest, "kind is required"), nil)
			return
		}
		limit := cast.ToInt(c.DefaultQuery("limit", "50"))
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		events, err := h.audit.ListByKind(c.Request.Context(), kind, limit)
		response.JSON(c, err, events)
	}
}
