package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/next-prompt/internal/model"
	"github.com/ashwinyue/next-prompt/internal/service"
)

// VariantHandler 变体处理器
type VariantHandler struct {
	svc *service.Services
}

// NewVariantHandler 创建变体处理器
func NewVariantHandler(svc *service.Services) *VariantHandler {
	return &VariantHandler{svc: svc}
}

// RegisterRequest 注册变体请求
type RegisterRequest struct {
	PromptName           string                 `json:"prompt_name" binding:"required"`
	Version              string                 `json:"version" binding:"required"`
	VariantID            string                 `json:"variant_id" binding:"required"`
	Content              string                 `json:"prompt_content" binding:"required"`
	PromptType           model.PromptType       `json:"prompt_type"`
	Language             string                 `json:"language" binding:"required"`
	OptimizationStrategy string                 `json:"optimization_strategy"`
	ParentVersion        string                 `json:"parent_version"`
	GenerationMethod     model.GenerationMethod `json:"generation_method"`
	IsActive             bool                   `json:"is_active"`
	IsBaseline           bool                   `json:"is_baseline"`
	TrafficPercentage    float64                `json:"traffic_percentage"`
	Tags                 []string               `json:"tags"`
	Metadata             map[string]interface{} `json:"metadata"`
}

// Register 注册变体
func (h *VariantHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	v, err := h.svc.Registry.Register(c.Request.Context(), &model.PromptVariant{
		PromptName:           req.PromptName,
		Version:              req.Version,
		VariantID:            req.VariantID,
		Content:              req.Content,
		PromptType:           req.PromptType,
		Language:             req.Language,
		OptimizationStrategy: req.OptimizationStrategy,
		ParentVersion:        req.ParentVersion,
		GenerationMethod:     req.GenerationMethod,
		IsActive:             req.IsActive,
		IsBaseline:           req.IsBaseline,
		TrafficPercentage:    req.TrafficPercentage,
		Tags:                 req.Tags,
		Metadata:             req.Metadata,
	})
	if err != nil {
		errorResponse(c, err)
		return
	}

	created(c, v)
}

// Get 获取变体
func (h *VariantHandler) Get(c *gin.Context) {
	v, err := h.svc.Registry.GetVariant(c.Request.Context(), c.Param("id"))
	if err != nil {
		errorResponse(c, err)
		return
	}

	success(c, v)
}

// ListExecutions 列出变体最近的执行记录
func (h *VariantHandler) ListExecutions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := h.svc.Registry.GetVariant(ctx, id); err != nil {
		errorResponse(c, err)
		return
	}

	execs, err := h.svc.Executions.ListByVariant(ctx, id, limit)
	if err != nil {
		errorResponse(c, err)
		return
	}

	success(c, gin.H{
		"items": execs,
		"total": len(execs),
	})
}

// Lineage 获取变体的进化谱系
func (h *VariantHandler) Lineage(c *gin.Context) {
	chain, err := h.svc.Evolution.Lineage(c.Request.Context(), c.Param("id"))
	if err != nil {
		errorResponse(c, err)
		return
	}

	success(c, chain)
}

// Deactivate 停用变体
func (h *VariantHandler) Deactivate(c *gin.Context) {
	v, err := h.svc.Registry.Deactivate(c.Request.Context(), c.Param("id"))
	if err != nil {
		errorResponse(c, err)
		return
	}

	success(c, v)
}
