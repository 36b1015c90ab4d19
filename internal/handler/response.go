package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/next-prompt/internal/model"
)

// Response 统一响应格式
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// success 成功响应
func success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Code: 0, Message: "success", Data: data})
}

// created 创建成功响应
func created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Code: 0, Message: "created", Data: data})
}

// badRequest 参数错误响应
func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{Code: -1, Message: msg})
}

// errorResponse 按错误类型返回响应
func errorResponse(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(statusOf(err), Response{Code: -1, Message: err.Error()})
}

// statusOf 领域错误到 HTTP 状态码的映射
func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrNoVariantAvailable),
		errors.Is(err, model.ErrVariantNotFound),
		errors.Is(err, model.ErrExperimentNotFound),
		errors.Is(err, model.ErrExecutionNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrDuplicateVariant),
		errors.Is(err, model.ErrExperimentAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, model.ErrInvalidExperimentConfig),
		errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrInvalidVariant):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrInferenceFailure),
		errors.Is(err, model.ErrScoringInconsistency):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
