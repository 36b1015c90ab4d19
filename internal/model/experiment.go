package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ExperimentStatus 实验状态
type ExperimentStatus string

const (
	ExperimentStatusDraft     ExperimentStatus = "draft"     // 草稿
	ExperimentStatusRunning   ExperimentStatus = "running"   // 运行中
	ExperimentStatusConcluded ExperimentStatus = "concluded" // 已结束
)

// ConcludeReason 实验结束原因
type ConcludeReason string

const (
	ConcludeSampleSize ConcludeReason = "sample_size"
	ConcludeDuration   ConcludeReason = "duration"
	ConcludeManual     ConcludeReason = "manual"
)

// Experiment A/B 实验，对比同一提示词的两个变体
type Experiment struct {
	ID                 string           `json:"id" gorm:"type:varchar(36);primaryKey"`
	Name               string           `json:"test_name" gorm:"size:100;not null"`
	Description        string           `json:"test_description,omitempty" gorm:"type:text"`
	PromptName         string           `json:"prompt_name" gorm:"size:100;not null;index"`
	ControlVariantID   string           `json:"control_variant_id" gorm:"type:varchar(36);not null"`
	TreatmentVariantID string           `json:"treatment_variant_id" gorm:"type:varchar(36);not null"`
	ControlTraffic     float64          `json:"control_traffic_percentage" gorm:"not null"`
	TreatmentTraffic   float64          `json:"treatment_traffic_percentage" gorm:"not null"`
	MinSampleSize      int              `json:"min_sample_size" gorm:"default:100"`
	MaxDurationDays    int              `json:"max_duration_days" gorm:"default:7"`
	SignificanceLevel  float64          `json:"significance_level" gorm:"default:0.05"`
	Status             ExperimentStatus `json:"status" gorm:"size:20;default:'draft';index"`

	StartedAt        *time.Time     `json:"start_date,omitempty"`
	EndedAt          *time.Time     `json:"end_date,omitempty"`
	WinnerVariantID  string         `json:"winner_variant_id,omitempty" gorm:"type:varchar(36)"`
	ConcludeReason   ConcludeReason `json:"conclude_reason,omitempty" gorm:"size:20"`
	ControlMetrics   JSON           `json:"control_metrics,omitempty"`
	TreatmentMetrics JSON           `json:"treatment_metrics,omitempty"`
	PValue           *float64       `json:"statistical_significance,omitempty"`

	CreatedBy string    `json:"created_by" gorm:"size:100;default:'system'"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// BeforeCreate GORM 钩子，创建前生成 UUID
func (e *Experiment) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return nil
}

// TableName 指定表名
func (Experiment) TableName() string {
	return "prompt_experiments"
}

// ArmStats 实验分组统计
type ArmStats struct {
	Executions int64   `json:"executions"`
	MeanScore  float64 `json:"mean_score"`
	StdDev     float64 `json:"std_dev"`
}

// ToJSON 转为 JSON 字段
func (a ArmStats) ToJSON() JSON {
	return JSON{
		"executions": a.Executions,
		"mean_score": a.MeanScore,
		"std_dev":    a.StdDev,
	}
}
