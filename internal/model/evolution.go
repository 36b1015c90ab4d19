package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 进化算法标签
const (
	EvolutionAlgorithmFeedback = "feedback_driven"
	EvolutionAlgorithmModel    = "model_rewrite"
)

// DefaultOptimizationGoals 默认优化目标
var DefaultOptimizationGoals = StringList{"improve_accuracy", "reduce_response_time"}

// EvolutionRecord 进化谱系记录（父 -> 子），只用于审计
type EvolutionRecord struct {
	ID                string     `json:"id" gorm:"type:varchar(36);primaryKey"`
	ParentVariantID   string     `json:"parent_prompt_id" gorm:"type:varchar(36);not null;index"`
	ChildVariantID    string     `json:"child_prompt_id" gorm:"type:varchar(36);not null;uniqueIndex"`
	EvolutionType     string     `json:"evolution_type" gorm:"size:50;not null"`
	EvolutionStrategy string     `json:"evolution_strategy" gorm:"size:100"`
	FeedbackData      JSON       `json:"feedback_data,omitempty"`
	OptimizationGoals StringList `json:"optimization_goals"`
	Algorithm         string     `json:"evolution_algorithm" gorm:"size:50"`
	ParentScore       float64    `json:"parent_score"`
	EvolvedAt         time.Time  `json:"evolved_at" gorm:"autoCreateTime"`
}

// BeforeCreate GORM 钩子，创建前生成 UUID
func (e *EvolutionRecord) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return nil
}

// TableName 指定表名
func (EvolutionRecord) TableName() string {
	return "prompt_evolutions"
}
