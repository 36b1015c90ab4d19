// Package model 提供提示词实验引擎的数据模型
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PromptType 提示词角色
type PromptType string

const (
	PromptTypeSystem         PromptType = "system"
	PromptTypeUser           PromptType = "user"
	PromptTypeFewShot        PromptType = "few_shot"
	PromptTypeChainOfThought PromptType = "chain_of_thought"
)

// GenerationMethod 变体生成方式
type GenerationMethod string

const (
	GenerationManual       GenerationMethod = "manual"       // 人工编写
	GenerationAIGenerated  GenerationMethod = "ai_generated" // 模型生成
	GenerationEvolutionary GenerationMethod = "evolutionary" // 进化生成
	GenerationABTest       GenerationMethod = "ab_test"      // 实验产出
)

// PromptVariant 提示词变体
// (PromptName, Version, VariantID) 唯一；记录只停用不删除
type PromptVariant struct {
	ID                   string           `json:"id" gorm:"type:varchar(36);primaryKey"`
	PromptName           string           `json:"prompt_name" gorm:"size:100;not null;uniqueIndex:idx_prompt_variant_identity,priority:1"`
	Version              string           `json:"version" gorm:"size:20;not null;uniqueIndex:idx_prompt_variant_identity,priority:2"`
	VariantID            string           `json:"variant_id" gorm:"size:50;not null;uniqueIndex:idx_prompt_variant_identity,priority:3"`
	Content              string           `json:"prompt_content" gorm:"type:text;not null"`
	PromptType           PromptType       `json:"prompt_type" gorm:"size:50;not null;default:'user'"`
	Language             string           `json:"language" gorm:"size:10;not null;index"`
	OptimizationStrategy string           `json:"optimization_strategy,omitempty" gorm:"size:100"`
	ParentVersion        string           `json:"parent_version,omitempty" gorm:"size:20"`
	GenerationMethod     GenerationMethod `json:"generation_method" gorm:"size:50;default:'manual'"`
	IsActive             bool             `json:"is_active" gorm:"index;default:false"`
	IsBaseline           bool             `json:"is_baseline" gorm:"default:false"`
	TrafficPercentage    float64          `json:"traffic_percentage" gorm:"default:0"`

	// 滚动评分
	OverallScore          float64 `json:"overall_score" gorm:"default:0"`
	AccuracyScore         float64 `json:"accuracy_score" gorm:"default:0"`
	ResponseTimeScore     float64 `json:"response_time_score" gorm:"default:0"`
	ConsistencyScore      float64 `json:"consistency_score" gorm:"default:0"`
	UserSatisfactionScore float64 `json:"user_satisfaction_score" gorm:"default:0"`

	// 使用计数（只通过原子 UPDATE 修改）
	TotalUses         int64   `json:"total_uses" gorm:"default:0"`
	SuccessfulUses    int64   `json:"successful_uses" gorm:"default:0"`
	FailedUses        int64   `json:"failed_uses" gorm:"default:0"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms" gorm:"default:0"`

	Tags     StringList `json:"tags"`
	Metadata JSON       `json:"metadata,omitempty"`

	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	ScoredAt    *time.Time `json:"scored_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// BeforeCreate GORM 钩子，创建前生成 UUID
func (v *PromptVariant) BeforeCreate(tx *gorm.DB) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	return nil
}

// TableName 指定表名
func (PromptVariant) TableName() string {
	return "prompt_variants"
}

// VariantScores 汇总评分
type VariantScores struct {
	Overall          float64
	Accuracy         float64
	ResponseTime     float64
	Consistency      float64
	UserSatisfaction float64
}
