package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/next-prompt/internal/middleware"
	"github.com/ashwinyue/next-prompt/internal/model"
	"github.com/ashwinyue/next-prompt/internal/service"
	"github.com/ashwinyue/next-prompt/internal/service/experiment"
)

// ExperimentHandler 实验处理器
type ExperimentHandler struct {
	svc *service.Services
}

// NewExperimentHandler 创建实验处理器
func NewExperimentHandler(svc *service.Services) *ExperimentHandler {
	return &ExperimentHandler{svc: svc}
}

// Create 创建实验
func (h *ExperimentHandler) Create(c *gin.Context) {
	var req experiment.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.CreatedBy == "" {
		req.CreatedBy, _ = middleware.GetSubject(c)
	}

	exp, err := h.svc.Experiment.Create(c.Request.Context(), req)
	if err != nil {
		errorResponse(c, err)
		return
	}

	created(c, exp)
}

// List 列出实验
func (h *ExperimentHandler) List(c *gin.Context) {
	exps, err := h.svc.Experiment.List(c.Request.Context(), c.Query("prompt_name"), model.ExperimentStatus(c.Query("status")))
	if err != nil {
		errorResponse(c, err)
		return
	}

	success(c, gin.H{
		"items": exps,
		"total": len(exps),
	})
}

// Get 获取实验
func (h *ExperimentHandler) Get(c *gin.Context) {
	exp, err := h.svc.Experiment.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		errorResponse(c, err)
		return
	}

	success(c, exp)
}

// Start 启动实验
func (h *ExperimentHandler) Start(c *gin.Context) {
	exp, err := h.svc.Experiment.Start(c.Request.Context(), c.Param("id"))
	if err != nil {
		errorResponse(c, err)
		return
	}

	success(c, exp)
}

// Stop 手动结束实验并提升胜者
func (h *ExperimentHandler) Stop(c *gin.Context) {
	conclusion, err := h.svc.Experiment.Conclude(c.Request.Context(), c.Param("id"), model.ConcludeManual)
	if err != nil {
		errorResponse(c, err)
		return
	}

	success(c, conclusion)
}
