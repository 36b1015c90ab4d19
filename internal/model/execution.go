package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Environment 执行环境
type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentTest       Environment = "test"
)

// 执行错误类型
const (
	ErrorTypeInference = "inference_failure"
	ErrorTypeTimeout   = "timeout"
	ErrorTypeScoring   = "scoring_inconsistency"
)

// PromptExecution 一次变体调用记录，创建后不可修改
type PromptExecution struct {
	ID           string  `json:"id" gorm:"type:varchar(36);primaryKey"`
	VariantRefID string  `json:"prompt_variant_id" gorm:"column:prompt_variant_id;type:varchar(36);not null;index:idx_execution_variant_time,priority:1"`
	ExecutionID  string  `json:"execution_id" gorm:"size:100;not null;uniqueIndex"`
	RequestID    string  `json:"request_id,omitempty" gorm:"size:100"`
	ClientID     string  `json:"client_id,omitempty" gorm:"size:100;index"`
	Input        JSON    `json:"input_data"`
	InputHash    string  `json:"input_hash" gorm:"size:64;index"`
	Output       *Output `json:"output_data,omitempty"`
	RawOutput    string  `json:"raw_output,omitempty" gorm:"type:text"`

	OverallScore      float64 `json:"output_quality_score"`
	AccuracyScore     float64 `json:"accuracy_score"`
	ConsistencyScore  float64 `json:"consistency_score"`
	CompletenessScore float64 `json:"completeness_score"`
	ResponseTimeScore float64 `json:"response_time_score"`
	ResponseTimeMs    int64   `json:"response_time_ms" gorm:"not null"`
	UserRating        *int    `json:"user_rating,omitempty"`

	ErrorOccurred bool   `json:"error_occurred" gorm:"default:false"`
	ErrorMessage  string `json:"error_message,omitempty" gorm:"type:text"`
	ErrorType     string `json:"error_type,omitempty" gorm:"size:50"`

	Environment Environment `json:"environment" gorm:"size:50;default:'production'"`
	Metadata    JSON        `json:"metadata,omitempty"`
	ExecutedAt  time.Time   `json:"executed_at" gorm:"not null;index:idx_execution_variant_time,priority:2"`
}

// BeforeCreate GORM 钩子，创建前生成 UUID
func (e *PromptExecution) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.ExecutedAt.IsZero() {
		e.ExecutedAt = time.Now().UTC()
	}
	return nil
}

// TableName 指定表名
func (PromptExecution) TableName() string {
	return "prompt_executions"
}

// NewExecutionID 生成执行 ID
func NewExecutionID() string {
	return "exec_" + uuid.New().String()
}
