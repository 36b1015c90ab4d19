package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/next-prompt/internal/service"
	"github.com/ashwinyue/next-prompt/internal/service/registry"
)

// MaintenanceHandler 定时任务触发处理器
type MaintenanceHandler struct {
	svc *service.Services
}

// NewMaintenanceHandler 创建定时任务触发处理器
func NewMaintenanceHandler(svc *service.Services) *MaintenanceHandler {
	return &MaintenanceHandler{svc: svc}
}

// Rollup 重新汇总变体评分
func (h *MaintenanceHandler) Rollup(c *gin.Context) {
	report, err := h.svc.Scorer.Rollup(c.Request.Context())
	if err != nil {
		errorResponse(c, err)
		return
	}

	success(c, report)
}

// CheckExperiments 检查并结束到期的实验
// 部分实验失败时仍返回已结束的实验
func (h *MaintenanceHandler) CheckExperiments(c *gin.Context) {
	conclusions, err := h.svc.Experiment.Check(c.Request.Context(), time.Now().UTC())
	if err != nil && len(conclusions) == 0 {
		errorResponse(c, err)
		return
	}

	data := gin.H{"concluded": conclusions}
	if err != nil {
		data["error"] = err.Error()
	}
	success(c, data)
}

// SeedRequest 种子数据请求
type SeedRequest struct {
	Path string `json:"path"`
}

// Seed 导入种子变体
func (h *MaintenanceHandler) Seed(c *gin.Context) {
	var req SeedRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	if req.Path == "" {
		req.Path = h.svc.Config.Seed.Path
	}

	variants, err := registry.LoadSeedFile(req.Path)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	report, err := h.svc.Registry.Seed(c.Request.Context(), variants)
	if err != nil {
		errorResponse(c, err)
		return
	}

	success(c, report)
}
