package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ashwinyue/next-prompt/internal/model"
)

// ExperimentRepository 实验仓库
type ExperimentRepository struct {
	db *gorm.DB
}

// NewExperimentRepository 创建实验仓库
func NewExperimentRepository(db *gorm.DB) *ExperimentRepository {
	return &ExperimentRepository{db: db}
}

// Create 创建实验
func (r *ExperimentRepository) Create(ctx context.Context, exp *model.Experiment) error {
	return r.db.WithContext(ctx).Create(exp).Error
}

// GetByID 根据 ID 获取实验
func (r *ExperimentRepository) GetByID(ctx context.Context, id string) (*model.Experiment, error) {
	var exp model.Experiment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&exp).Error; err != nil {
		return nil, translateNotFound(err, model.ErrExperimentNotFound)
	}
	return &exp, nil
}

// GetRunning 获取提示词正在运行的实验，不存在时返回 nil
func (r *ExperimentRepository) GetRunning(ctx context.Context, promptName string) (*model.Experiment, error) {
	var exps []*model.Experiment
	err := r.db.WithContext(ctx).
		Where("prompt_name = ? AND status = ?", promptName, model.ExperimentStatusRunning).
		Order("started_at ASC").
		Limit(1).
		Find(&exps).Error
	if err != nil || len(exps) == 0 {
		return nil, err
	}
	return exps[0], nil
}

// List 列出实验，参数为空时不过滤
func (r *ExperimentRepository) List(ctx context.Context, promptName string, status model.ExperimentStatus) ([]*model.Experiment, error) {
	var exps []*model.Experiment
	query := r.db.WithContext(ctx)
	if promptName != "" {
		query = query.Where("prompt_name = ?", promptName)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	err := query.Order("created_at DESC").Find(&exps).Error
	return exps, err
}

// Start 在同一事务内启动实验：停用提示词下其他变体，两组按分流比例承接流量
func (r *ExperimentRepository) Start(ctx context.Context, id string, startedAt time.Time) (*model.Experiment, error) {
	var exp model.Experiment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&exp).Error; err != nil {
			return translateNotFound(err, model.ErrExperimentNotFound)
		}
		if exp.Status != model.ExperimentStatusDraft {
			return model.ErrInvalidTransition
		}
		if err := lockPrompt(tx, exp.PromptName); err != nil {
			return err
		}
		running, err := hasRunningExperiment(tx, exp.PromptName)
		if err != nil {
			return err
		}
		if running {
			return model.ErrExperimentAlreadyRunning
		}

		if err := tx.Model(&model.PromptVariant{}).
			Where("prompt_name = ? AND id NOT IN ?", exp.PromptName, []string{exp.ControlVariantID, exp.TreatmentVariantID}).
			Updates(map[string]interface{}{
				"is_active":          false,
				"traffic_percentage": 0,
			}).Error; err != nil {
			return err
		}
		if err := setArm(tx, exp.PromptName, exp.ControlVariantID, exp.ControlTraffic); err != nil {
			return err
		}
		if err := setArm(tx, exp.PromptName, exp.TreatmentVariantID, exp.TreatmentTraffic); err != nil {
			return err
		}

		exp.Status = model.ExperimentStatusRunning
		exp.StartedAt = &startedAt
		return tx.Model(&exp).Updates(map[string]interface{}{
			"status":     exp.Status,
			"started_at": startedAt,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &exp, nil
}

// ConcludeParams 结束实验参数
type ConcludeParams struct {
	WinnerVariantID  string
	Reason           model.ConcludeReason
	ControlMetrics   model.ArmStats
	TreatmentMetrics model.ArmStats
	PValue           *float64
	EndedAt          time.Time
}

// Conclude 在同一事务内结束实验并将胜者设为唯一激活基线
func (r *ExperimentRepository) Conclude(ctx context.Context, id string, params ConcludeParams) (*model.Experiment, error) {
	var exp model.Experiment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&exp).Error; err != nil {
			return translateNotFound(err, model.ErrExperimentNotFound)
		}
		if exp.Status != model.ExperimentStatusRunning {
			return model.ErrInvalidTransition
		}
		if err := lockPrompt(tx, exp.PromptName); err != nil {
			return err
		}
		if err := activateTx(tx, exp.PromptName, params.WinnerVariantID); err != nil {
			return err
		}

		exp.Status = model.ExperimentStatusConcluded
		exp.WinnerVariantID = params.WinnerVariantID
		exp.ConcludeReason = params.Reason
		exp.ControlMetrics = params.ControlMetrics.ToJSON()
		exp.TreatmentMetrics = params.TreatmentMetrics.ToJSON()
		exp.PValue = params.PValue
		exp.EndedAt = &params.EndedAt
		return tx.Model(&exp).Updates(map[string]interface{}{
			"status":            exp.Status,
			"winner_variant_id": exp.WinnerVariantID,
			"conclude_reason":   exp.ConcludeReason,
			"control_metrics":   exp.ControlMetrics,
			"treatment_metrics": exp.TreatmentMetrics,
			"p_value":           exp.PValue,
			"ended_at":          params.EndedAt,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &exp, nil
}

func setArm(tx *gorm.DB, promptName, variantID string, traffic float64) error {
	result := tx.Model(&model.PromptVariant{}).
		Where("id = ? AND prompt_name = ?", variantID, promptName).
		Updates(map[string]interface{}{
			"is_active":          true,
			"traffic_percentage": traffic,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected != 1 {
		return model.ErrVariantNotFound
	}
	return nil
}
