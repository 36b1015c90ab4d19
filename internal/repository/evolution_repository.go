package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/ashwinyue/next-prompt/internal/model"
)

// EvolutionRepository 进化谱系仓库
type EvolutionRepository struct {
	db *gorm.DB
}

// NewEvolutionRepository 创建进化谱系仓库
func NewEvolutionRepository(db *gorm.DB) *EvolutionRepository {
	return &EvolutionRepository{db: db}
}

// CreateChild 在同一事务内写入子变体和谱系记录
func (r *EvolutionRepository) CreateChild(ctx context.Context, child *model.PromptVariant, record *model.EvolutionRecord) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(child).Error; err != nil {
			return err
		}
		record.ChildVariantID = child.ID
		return tx.Create(record).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return model.ErrDuplicateVariant
	}
	return err
}

// GetByChild 获取子变体对应的谱系记录，不存在时返回 nil
func (r *EvolutionRepository) GetByChild(ctx context.Context, childID string) (*model.EvolutionRecord, error) {
	var records []*model.EvolutionRecord
	err := r.db.WithContext(ctx).Where("child_variant_id = ?", childID).Limit(1).Find(&records).Error
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return records[0], nil
}

// ListByParent 列出父变体派生的谱系记录
func (r *EvolutionRepository) ListByParent(ctx context.Context, parentID string) ([]*model.EvolutionRecord, error) {
	var records []*model.EvolutionRecord
	err := r.db.WithContext(ctx).Where("parent_variant_id = ?", parentID).Order("evolved_at ASC").Find(&records).Error
	return records, err
}
