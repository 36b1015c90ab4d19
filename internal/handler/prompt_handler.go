package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ashwinyue/next-prompt/internal/model"
	"github.com/ashwinyue/next-prompt/internal/service"
	"github.com/ashwinyue/next-prompt/internal/service/evolution"
	"github.com/ashwinyue/next-prompt/internal/service/optimizer"
)

// PromptHandler 提示词处理器
type PromptHandler struct {
	svc *service.Services
}

// NewPromptHandler 创建提示词处理器
func NewPromptHandler(svc *service.Services) *PromptHandler {
	return &PromptHandler{svc: svc}
}

// ExecuteRequest 执行请求
type ExecuteRequest struct {
	PromptName  string                 `json:"prompt_name" binding:"required"`
	InputData   map[string]interface{} `json:"input_data"`
	Language    string                 `json:"language"`
	ClientID    string                 `json:"client_id"`
	RequestID   string                 `json:"request_id"`
	Environment string                 `json:"environment" binding:"omitempty,oneof=production staging test"`
	UserRating  *int                   `json:"user_rating" binding:"omitempty,min=1,max=5"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// Execute 执行提示词
func (h *PromptHandler) Execute(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = c.GetHeader("X-Request-ID")
	}
	if requestID == "" {
		requestID = uuid.New().String()
	}

	result, err := h.svc.Optimizer.ExecutePrompt(c.Request.Context(), req.PromptName, req.InputData, optimizer.Options{
		Language:    req.Language,
		ClientID:    req.ClientID,
		RequestID:   requestID,
		Environment: model.Environment(req.Environment),
		Metadata:    req.Metadata,
		UserRating:  req.UserRating,
	})
	if err != nil {
		errorResponse(c, err)
		return
	}

	success(c, result)
}

// ListVariants 列出提示词变体
func (h *PromptHandler) ListVariants(c *gin.Context) {
	variants, err := h.svc.Registry.ListVariants(c.Request.Context(), c.Param("name"), c.Query("language"))
	if err != nil {
		errorResponse(c, err)
		return
	}

	success(c, gin.H{
		"items": variants,
		"total": len(variants),
	})
}

// GetActive 获取当前承接流量的变体
func (h *PromptHandler) GetActive(c *gin.Context) {
	language := c.Query("language")
	if language == "" {
		language = h.svc.Config.Optimizer.DefaultLanguage
	}

	set, err := h.svc.Registry.GetActive(c.Request.Context(), c.Param("name"), language)
	if err != nil {
		errorResponse(c, err)
		return
	}

	success(c, set)
}

// ActivateRequest 激活请求
type ActivateRequest struct {
	VariantID string `json:"variant_id" binding:"required"`
	Version   string `json:"version" binding:"required"`
}

// Activate 激活变体
func (h *PromptHandler) Activate(c *gin.Context) {
	var req ActivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	v, err := h.svc.Registry.Activate(c.Request.Context(), c.Param("name"), req.VariantID, req.Version)
	if err != nil {
		errorResponse(c, err)
		return
	}

	success(c, v)
}

// EvolveRequest 进化请求，未指定父变体时使用得分最高的变体
type EvolveRequest struct {
	ParentVariantID string                 `json:"parent_variant_id"`
	Strategy        string                 `json:"strategy"`
	FeedbackData    map[string]interface{} `json:"feedback_data"`
	MinExecutions   int64                  `json:"min_executions" binding:"min=0"`
}

// Evolve 由父变体进化出新变体
func (h *PromptHandler) Evolve(c *gin.Context) {
	var req EvolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	promptName := c.Param("name")

	parentID := req.ParentVariantID
	if parentID == "" {
		best, err := h.svc.Registry.Best(ctx, promptName, req.MinExecutions)
		if err != nil {
			errorResponse(c, err)
			return
		}
		parentID = best.ID
	}

	child, err := h.svc.Evolution.Evolve(ctx, evolution.EvolveRequest{
		PromptName:      promptName,
		ParentVariantID: parentID,
		Strategy:        req.Strategy,
		Feedback:        req.FeedbackData,
	})
	if err != nil {
		errorResponse(c, err)
		return
	}

	created(c, child)
}
