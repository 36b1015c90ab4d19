// Package repository 数据访问层
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ashwinyue/next-prompt/internal/model"
)

// VariantRepository 提示词变体仓库
type VariantRepository struct {
	db *gorm.DB
}

// NewVariantRepository 创建变体仓库
func NewVariantRepository(db *gorm.DB) *VariantRepository {
	return &VariantRepository{db: db}
}

// Create 创建变体，(prompt_name, version, variant_id) 已存在时返回 ErrDuplicateVariant
func (r *VariantRepository) Create(ctx context.Context, v *model.PromptVariant) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.PromptVariant{}).
			Where("prompt_name = ? AND version = ? AND variant_id = ?", v.PromptName, v.Version, v.VariantID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return model.ErrDuplicateVariant
		}
		return tx.Create(v).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return model.ErrDuplicateVariant
	}
	return err
}

// GetByID 根据 ID 获取变体
func (r *VariantRepository) GetByID(ctx context.Context, id string) (*model.PromptVariant, error) {
	var v model.PromptVariant
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&v).Error
	if err != nil {
		return nil, translateNotFound(err, model.ErrVariantNotFound)
	}
	return &v, nil
}

// GetByIdentity 根据唯一标识获取变体
func (r *VariantRepository) GetByIdentity(ctx context.Context, promptName, variantID, version string) (*model.PromptVariant, error) {
	var v model.PromptVariant
	err := r.db.WithContext(ctx).
		Where("prompt_name = ? AND variant_id = ? AND version = ?", promptName, variantID, version).
		First(&v).Error
	if err != nil {
		return nil, translateNotFound(err, model.ErrVariantNotFound)
	}
	return &v, nil
}

// List 列出提示词的变体，language 为空时不过滤
func (r *VariantRepository) List(ctx context.Context, promptName, language string) ([]*model.PromptVariant, error) {
	var variants []*model.PromptVariant
	query := r.db.WithContext(ctx).Where("prompt_name = ?", promptName)
	if language != "" {
		query = query.Where("language = ?", language)
	}
	err := query.Order("created_at ASC").Order("version ASC").Find(&variants).Error
	return variants, err
}

// ListIDs 列出所有变体 ID
func (r *VariantRepository) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.PromptVariant{}).Order("created_at ASC").Pluck("id", &ids).Error
	return ids, err
}

// ListEligible 列出可承接流量的变体（is_active 或 is_baseline），按总分降序
func (r *VariantRepository) ListEligible(ctx context.Context, promptName, language string) ([]*model.PromptVariant, error) {
	var variants []*model.PromptVariant
	err := r.db.WithContext(ctx).
		Where("prompt_name = ? AND language = ?", promptName, language).
		Where("is_active = ? OR is_baseline = ?", true, true).
		Order("overall_score DESC").
		Order("is_active DESC").
		Order("created_at ASC").
		Find(&variants).Error
	return variants, err
}

// Best 获取使用次数不少于 minUses 的最高分变体
func (r *VariantRepository) Best(ctx context.Context, promptName string, minUses int64) (*model.PromptVariant, error) {
	var v model.PromptVariant
	err := r.db.WithContext(ctx).
		Where("prompt_name = ? AND total_uses >= ?", promptName, minUses).
		Order("overall_score DESC").
		Order("created_at ASC").
		First(&v).Error
	if err != nil {
		return nil, translateNotFound(err, model.ErrVariantNotFound)
	}
	return &v, nil
}

// VersionTaken 版本号是否已被同名提示词使用
func (r *VariantRepository) VersionTaken(ctx context.Context, promptName, version string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.PromptVariant{}).
		Where("prompt_name = ? AND version = ?", promptName, version).
		Count(&count).Error
	return count > 0, err
}

// Activate 在同一事务内停用提示词的其他变体并激活目标变体
func (r *VariantRepository) Activate(ctx context.Context, promptName, variantID, version string) (*model.PromptVariant, error) {
	var target model.PromptVariant
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockPrompt(tx, promptName); err != nil {
			return err
		}
		running, err := hasRunningExperiment(tx, promptName)
		if err != nil {
			return err
		}
		if running {
			return model.ErrExperimentAlreadyRunning
		}
		if err := tx.Where("prompt_name = ? AND variant_id = ? AND version = ?", promptName, variantID, version).
			First(&target).Error; err != nil {
			return translateNotFound(err, model.ErrVariantNotFound)
		}
		if err := activateTx(tx, promptName, target.ID); err != nil {
			return err
		}
		return tx.Where("id = ?", target.ID).First(&target).Error
	})
	if err != nil {
		return nil, err
	}
	return &target, nil
}

// Deactivate 将变体移出流量，不删除记录
func (r *VariantRepository) Deactivate(ctx context.Context, id string) (*model.PromptVariant, error) {
	var v model.PromptVariant
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&v).Error; err != nil {
			return translateNotFound(err, model.ErrVariantNotFound)
		}
		if err := lockPrompt(tx, v.PromptName); err != nil {
			return err
		}
		var arms int64
		if err := tx.Model(&model.Experiment{}).
			Where("status = ?", model.ExperimentStatusRunning).
			Where("control_variant_id = ? OR treatment_variant_id = ?", id, id).
			Count(&arms).Error; err != nil {
			return err
		}
		if arms > 0 {
			return model.ErrExperimentAlreadyRunning
		}
		if err := tx.Model(&model.PromptVariant{}).Where("id = ?", id).Updates(map[string]interface{}{
			"is_active":          false,
			"is_baseline":        false,
			"traffic_percentage": 0,
		}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).First(&v).Error
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// UpdateScores 写回汇总评分
func (r *VariantRepository) UpdateScores(ctx context.Context, id string, scores model.VariantScores, scoredAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&model.PromptVariant{}).Where("id = ?", id).Updates(map[string]interface{}{
		"overall_score":           scores.Overall,
		"accuracy_score":          scores.Accuracy,
		"response_time_score":     scores.ResponseTime,
		"consistency_score":       scores.Consistency,
		"user_satisfaction_score": scores.UserSatisfaction,
		"scored_at":               scoredAt,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return model.ErrVariantNotFound
	}
	return nil
}

// activateTx 清零提示词下所有变体的标志和流量，再将目标设为唯一的激活基线
func activateTx(tx *gorm.DB, promptName, targetID string) error {
	if err := tx.Model(&model.PromptVariant{}).Where("prompt_name = ?", promptName).Updates(map[string]interface{}{
		"is_active":          false,
		"is_baseline":        false,
		"traffic_percentage": 0,
	}).Error; err != nil {
		return fmt.Errorf("reset variants: %w", err)
	}

	result := tx.Model(&model.PromptVariant{}).
		Where("id = ? AND prompt_name = ?", targetID, promptName).
		Updates(map[string]interface{}{
			"is_active":          true,
			"is_baseline":        true,
			"traffic_percentage": 100,
			"activated_at":       time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("activate variant: %w", result.Error)
	}
	if result.RowsAffected != 1 {
		return model.ErrVariantNotFound
	}
	return nil
}

// lockPrompt 锁定提示词下的所有变体行（sqlite 下忽略行锁）
func lockPrompt(tx *gorm.DB, promptName string) error {
	var ids []string
	return tx.Model(&model.PromptVariant{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("prompt_name = ?", promptName).
		Pluck("id", &ids).Error
}

func hasRunningExperiment(tx *gorm.DB, promptName string) (bool, error) {
	var count int64
	err := tx.Model(&model.Experiment{}).
		Where("prompt_name = ? AND status = ?", promptName, model.ExperimentStatusRunning).
		Count(&count).Error
	return count > 0, err
}

func translateNotFound(err, notFound error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound
	}
	return err
}
