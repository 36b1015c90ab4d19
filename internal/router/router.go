package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ashwinyue/next-prompt/internal/config"
	"github.com/ashwinyue/next-prompt/internal/handler"
	"github.com/ashwinyue/next-prompt/internal/middleware"
)

// SetupRouter 设置路由
func SetupRouter(h *handler.Handlers, auth config.AuthConfig, logger *zap.Logger) *gin.Engine {
	r := gin.New()

	// 中间件
	r.Use(middleware.RecoveryMiddleware(logger))
	r.Use(middleware.LoggingMiddleware(logger))

	// 健康检查
	r.GET("/health", h.System.Health)

	// API v1
	v1 := r.Group("/api/v1")
	{
		// Prompt 提示词
		prompts := v1.Group("/prompts")
		{
			prompts.POST("/execute", h.Prompt.Execute)
			prompts.GET("/:name/variants", h.Prompt.ListVariants)
			prompts.GET("/:name/active", h.Prompt.GetActive)
		}

		// Variant 变体
		variants := v1.Group("/variants")
		{
			variants.GET("/:id", h.Variant.Get)
			variants.GET("/:id/executions", h.Variant.ListExecutions)
			variants.GET("/:id/lineage", h.Variant.Lineage)
		}

		// 管理接口
		admin := v1.Group("", middleware.RequireAdmin(auth))
		{
			admin.POST("/variants", h.Variant.Register)
			admin.POST("/variants/:id/deactivate", h.Variant.Deactivate)
			admin.POST("/prompts/:name/activate", h.Prompt.Activate)
			admin.POST("/prompts/:name/evolve", h.Prompt.Evolve)

			// Experiment 实验
			admin.POST("/experiments", h.Experiment.Create)
			admin.GET("/experiments", h.Experiment.List)
			admin.GET("/experiments/:id", h.Experiment.Get)
			admin.POST("/experiments/:id/start", h.Experiment.Start)
			admin.POST("/experiments/:id/stop", h.Experiment.Stop)

			// Maintenance 定时任务
			admin.POST("/maintenance/rollup", h.Maintenance.Rollup)
			admin.POST("/maintenance/experiments/check", h.Maintenance.CheckExperiments)
			admin.POST("/maintenance/seed", h.Maintenance.Seed)
		}
	}

	return r
}
