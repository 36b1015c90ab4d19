package handler

import (
	"context"

	"github.com/ashwinyue/next-prompt/internal/service"
)

// Pinger 数据库连通性检查
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers 处理器集合
type Handlers struct {
	Prompt      *PromptHandler
	Variant     *VariantHandler
	Experiment  *ExperimentHandler
	Maintenance *MaintenanceHandler
	System      *SystemHandler
}

// NewHandlers 创建所有处理器
func NewHandlers(svc *service.Services, db Pinger) *Handlers {
	return &Handlers{
		Prompt:      NewPromptHandler(svc),
		Variant:     NewVariantHandler(svc),
		Experiment:  NewExperimentHandler(svc),
		Maintenance: NewMaintenanceHandler(svc),
		System:      NewSystemHandler(db),
	}
}
