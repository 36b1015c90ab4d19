// Package repository 定义数据访问接口
// 接口抽象使依赖注入和单元测试成为可能
package repository

import (
	"context"
	"time"

	"github.com/ashwinyue/next-prompt/internal/model"
)

// ========== VariantStore 接口 ==========

// VariantStore 提示词变体数据访问接口
type VariantStore interface {
	Create(ctx context.Context, v *model.PromptVariant) error
	GetByID(ctx context.Context, id string) (*model.PromptVariant, error)
	GetByIdentity(ctx context.Context, promptName, variantID, version string) (*model.PromptVariant, error)
	List(ctx context.Context, promptName, language string) ([]*model.PromptVariant, error)
	ListIDs(ctx context.Context) ([]string, error)
	ListEligible(ctx context.Context, promptName, language string) ([]*model.PromptVariant, error)
	Best(ctx context.Context, promptName string, minUses int64) (*model.PromptVariant, error)
	VersionTaken(ctx context.Context, promptName, version string) (bool, error)

	// 激活状态变更，均在单个事务内完成
	Activate(ctx context.Context, promptName, variantID, version string) (*model.PromptVariant, error)
	Deactivate(ctx context.Context, id string) (*model.PromptVariant, error)

	UpdateScores(ctx context.Context, id string, scores model.VariantScores, scoredAt time.Time) error
}

// ========== ExecutionStore 接口 ==========

// ExecutionStore 执行记录数据访问接口
type ExecutionStore interface {
	Record(ctx context.Context, exec *model.PromptExecution) error
	GetByExecutionID(ctx context.Context, executionID string) (*model.PromptExecution, error)
	ListByVariant(ctx context.Context, variantID string, limit int) ([]*model.PromptExecution, error)
	CountSince(ctx context.Context, variantID string, since time.Time) (int64, error)
	ArmStats(ctx context.Context, variantID string, since time.Time) (model.ArmStats, error)
	Aggregate(ctx context.Context, variantID string, since time.Time) (*Aggregate, error)
}

// ========== ExperimentStore 接口 ==========

// ExperimentStore 实验数据访问接口
type ExperimentStore interface {
	Create(ctx context.Context, exp *model.Experiment) error
	GetByID(ctx context.Context, id string) (*model.Experiment, error)
	GetRunning(ctx context.Context, promptName string) (*model.Experiment, error)
	List(ctx context.Context, promptName string, status model.ExperimentStatus) ([]*model.Experiment, error)
	Start(ctx context.Context, id string, startedAt time.Time) (*model.Experiment, error)
	Conclude(ctx context.Context, id string, params ConcludeParams) (*model.Experiment, error)
}

// ========== EvolutionStore 接口 ==========

// EvolutionStore 进化谱系数据访问接口
type EvolutionStore interface {
	CreateChild(ctx context.Context, child *model.PromptVariant, record *model.EvolutionRecord) error
	GetByChild(ctx context.Context, childID string) (*model.EvolutionRecord, error)
	ListByParent(ctx context.Context, parentID string) ([]*model.EvolutionRecord, error)
}

// 确保实现了接口
var (
	_ VariantStore    = (*VariantRepository)(nil)
	_ ExecutionStore  = (*ExecutionRepository)(nil)
	_ ExperimentStore = (*ExperimentRepository)(nil)
	_ EvolutionStore  = (*EvolutionRepository)(nil)
)
