package repository

import (
	"context"
	"math"
	"time"

	"gorm.io/gorm"

	"github.com/ashwinyue/next-prompt/internal/model"
)

// ExecutionRepository 执行记录仓库，记录只追加不修改
type ExecutionRepository struct {
	db *gorm.DB
}

// NewExecutionRepository 创建执行记录仓库
func NewExecutionRepository(db *gorm.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// Record 写入执行记录并原子递增变体计数
func (r *ExecutionRepository) Record(ctx context.Context, exec *model.PromptExecution) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(exec).Error; err != nil {
			return err
		}

		succeeded, failed := 1, 0
		if exec.ErrorOccurred {
			succeeded, failed = 0, 1
		}

		result := tx.Model(&model.PromptVariant{}).Where("id = ?", exec.VariantRefID).Updates(map[string]interface{}{
			"total_uses":           gorm.Expr("total_uses + 1"),
			"successful_uses":      gorm.Expr("successful_uses + ?", succeeded),
			"failed_uses":          gorm.Expr("failed_uses + ?", failed),
			"avg_response_time_ms": gorm.Expr("(avg_response_time_ms * total_uses + ?) / (total_uses + 1)", float64(exec.ResponseTimeMs)),
			"last_used_at":         exec.ExecutedAt,
		})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return model.ErrVariantNotFound
		}
		return nil
	})
}

// GetByExecutionID 根据执行 ID 获取记录
func (r *ExecutionRepository) GetByExecutionID(ctx context.Context, executionID string) (*model.PromptExecution, error) {
	var exec model.PromptExecution
	if err := r.db.WithContext(ctx).Where("execution_id = ?", executionID).First(&exec).Error; err != nil {
		return nil, translateNotFound(err, model.ErrExecutionNotFound)
	}
	return &exec, nil
}

// ListByVariant 列出变体最近的执行记录
func (r *ExecutionRepository) ListByVariant(ctx context.Context, variantID string, limit int) ([]*model.PromptExecution, error) {
	var execs []*model.PromptExecution
	if limit <= 0 {
		limit = 50
	}
	err := r.db.WithContext(ctx).
		Where("prompt_variant_id = ?", variantID).
		Order("executed_at DESC").
		Limit(limit).
		Find(&execs).Error
	return execs, err
}

// CountSince 统计变体自 since 起的执行次数
func (r *ExecutionRepository) CountSince(ctx context.Context, variantID string, since time.Time) (int64, error) {
	var count int64
	err := r.since(ctx, variantID, since).Model(&model.PromptExecution{}).Count(&count).Error
	return count, err
}

// ArmStats 统计变体自 since 起的执行总分均值和标准差
func (r *ExecutionRepository) ArmStats(ctx context.Context, variantID string, since time.Time) (model.ArmStats, error) {
	var row struct {
		Executions int64
		Mean       *float64
		MeanSquare *float64
	}
	err := r.since(ctx, variantID, since).Model(&model.PromptExecution{}).
		Select("COUNT(*) AS executions, AVG(overall_score) AS mean, AVG(overall_score * overall_score) AS mean_square").
		Scan(&row).Error
	if err != nil {
		return model.ArmStats{}, err
	}

	stats := model.ArmStats{Executions: row.Executions}
	if row.Mean == nil {
		return stats, nil
	}
	stats.MeanScore = *row.Mean
	if row.MeanSquare != nil && row.Executions > 1 {
		variance := *row.MeanSquare - stats.MeanScore*stats.MeanScore
		if variance < 0 {
			variance = 0
		}
		// 样本方差
		variance = variance * float64(row.Executions) / float64(row.Executions-1)
		stats.StdDev = math.Sqrt(variance)
	}
	return stats, nil
}

// Aggregate 执行记录聚合结果
type Aggregate struct {
	Executions        int64
	Overall           float64
	Accuracy          float64
	Consistency       float64
	Completeness      float64
	ResponseTime      float64
	RatedExecutions   int64
	AverageUserRating float64
}

// Aggregate 计算变体自 since 起各项子分的均值，since 为零值时统计全部
func (r *ExecutionRepository) Aggregate(ctx context.Context, variantID string, since time.Time) (*Aggregate, error) {
	var row struct {
		Executions   int64
		Overall      *float64
		Accuracy     *float64
		Consistency  *float64
		Completeness *float64
		ResponseTime *float64
		Rated        int64
		Rating       *float64
	}
	err := r.since(ctx, variantID, since).Model(&model.PromptExecution{}).
		Select(`COUNT(*) AS executions,
			AVG(overall_score) AS overall,
			AVG(accuracy_score) AS accuracy,
			AVG(consistency_score) AS consistency,
			AVG(completeness_score) AS completeness,
			AVG(response_time_score) AS response_time,
			COUNT(user_rating) AS rated,
			AVG(user_rating) AS rating`).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}

	return &Aggregate{
		Executions:        row.Executions,
		Overall:           deref(row.Overall),
		Accuracy:          deref(row.Accuracy),
		Consistency:       deref(row.Consistency),
		Completeness:      deref(row.Completeness),
		ResponseTime:      deref(row.ResponseTime),
		RatedExecutions:   row.Rated,
		AverageUserRating: deref(row.Rating),
	}, nil
}

func (r *ExecutionRepository) since(ctx context.Context, variantID string, since time.Time) *gorm.DB {
	query := r.db.WithContext(ctx).Where("prompt_variant_id = ?", variantID)
	if !since.IsZero() {
		query = query.Where("executed_at >= ?", since.UTC())
	}
	return query
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
