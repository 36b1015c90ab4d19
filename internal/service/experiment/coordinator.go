// Package experiment 管理提示词变体的 A/B 实验
package experiment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ashwinyue/next-prompt/internal/config"
	"github.com/ashwinyue/next-prompt/internal/model"
	"github.com/ashwinyue/next-prompt/internal/repository"
	"github.com/ashwinyue/next-prompt/internal/service/registry"
)

// CreateRequest 创建实验请求，未填写的参数使用默认值
type CreateRequest struct {
	Name               string   `json:"test_name" binding:"required"`
	Description        string   `json:"test_description"`
	PromptName         string   `json:"prompt_name" binding:"required"`
	ControlVariantID   string   `json:"control_variant_id" binding:"required"`
	TreatmentVariantID string   `json:"treatment_variant_id" binding:"required"`
	ControlTraffic     *float64 `json:"control_traffic_percentage"`
	TreatmentTraffic   *float64 `json:"treatment_traffic_percentage"`
	MinSampleSize      int      `json:"min_sample_size"`
	MaxDurationDays    int      `json:"max_duration_days"`
	SignificanceLevel  float64  `json:"significance_level"`
	CreatedBy          string   `json:"created_by"`
}

// Conclusion 实验结论
type Conclusion struct {
	Experiment *model.Experiment    `json:"experiment"`
	Winner     *model.PromptVariant `json:"winner"`
	Loser      *model.PromptVariant `json:"loser"`
	Reason     model.ConcludeReason `json:"reason"`
	Control    model.ArmStats       `json:"control"`
	Treatment  model.ArmStats       `json:"treatment"`
	PValue     *float64             `json:"p_value,omitempty"`
}

// Coordinator 实验协调器
type Coordinator struct {
	experiments repository.ExperimentStore
	variants    repository.VariantStore
	executions  repository.ExecutionStore
	invalidator registry.Invalidator
	cfg         config.ExperimentConfig
	logger      *zap.Logger
	now         func() time.Time
}

// NewCoordinator 创建实验协调器
func NewCoordinator(
	experiments repository.ExperimentStore,
	variants repository.VariantStore,
	executions repository.ExecutionStore,
	cfg config.ExperimentConfig,
	logger *zap.Logger,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		experiments: experiments,
		variants:    variants,
		executions:  executions,
		cfg:         cfg,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetInvalidator 设置路由缓存失效器
func (c *Coordinator) SetInvalidator(inv registry.Invalidator) {
	c.invalidator = inv
}

// Create 创建草稿实验并立即校验
func (c *Coordinator) Create(ctx context.Context, req CreateRequest) (*model.Experiment, error) {
	exp := &model.Experiment{
		Name:               req.Name,
		Description:        req.Description,
		PromptName:         req.PromptName,
		ControlVariantID:   req.ControlVariantID,
		TreatmentVariantID: req.TreatmentVariantID,
		ControlTraffic:     c.cfg.DefaultControlTraffic,
		TreatmentTraffic:   c.cfg.DefaultTreatmentTraffic,
		MinSampleSize:      c.cfg.DefaultMinSampleSize,
		MaxDurationDays:    c.cfg.DefaultMaxDurationDays,
		SignificanceLevel:  c.cfg.DefaultSignificanceLevel,
		Status:             model.ExperimentStatusDraft,
		CreatedBy:          req.CreatedBy,
	}
	if req.ControlTraffic != nil {
		exp.ControlTraffic = *req.ControlTraffic
	}
	if req.TreatmentTraffic != nil {
		exp.TreatmentTraffic = *req.TreatmentTraffic
	}
	if req.MinSampleSize != 0 {
		exp.MinSampleSize = req.MinSampleSize
	}
	if req.MaxDurationDays != 0 {
		exp.MaxDurationDays = req.MaxDurationDays
	}
	if req.SignificanceLevel != 0 {
		exp.SignificanceLevel = req.SignificanceLevel
	}
	if exp.CreatedBy == "" {
		exp.CreatedBy = "system"
	}

	if err := c.validate(ctx, exp); err != nil {
		return nil, err
	}
	if err := c.experiments.Create(ctx, exp); err != nil {
		return nil, err
	}
	return exp, nil
}

// Get 获取实验
func (c *Coordinator) Get(ctx context.Context, id string) (*model.Experiment, error) {
	return c.experiments.GetByID(ctx, id)
}

// List 列出实验
func (c *Coordinator) List(ctx context.Context, promptName string, status model.ExperimentStatus) ([]*model.Experiment, error) {
	return c.experiments.List(ctx, promptName, status)
}

// Start 启动草稿实验
func (c *Coordinator) Start(ctx context.Context, id string) (*model.Experiment, error) {
	exp, err := c.experiments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if exp.Status != model.ExperimentStatusDraft {
		return nil, fmt.Errorf("%w: experiment %s is %s", model.ErrInvalidTransition, id, exp.Status)
	}
	if err := c.validate(ctx, exp); err != nil {
		return nil, err
	}

	started, err := c.experiments.Start(ctx, id, c.now())
	if err != nil {
		return nil, err
	}
	c.logger.Info("experiment started",
		zap.String("experiment_id", id),
		zap.String("prompt_name", started.PromptName),
		zap.Float64("control_traffic", started.ControlTraffic),
		zap.Float64("treatment_traffic", started.TreatmentTraffic),
	)
	c.invalidate(ctx, started.PromptName)
	return started, nil
}

// Check 检查所有运行中的实验，达到样本量或时长上限的实验自动结束
// 各实验相互独立，错误汇总返回
func (c *Coordinator) Check(ctx context.Context, now time.Time) ([]*Conclusion, error) {
	running, err := c.experiments.List(ctx, "", model.ExperimentStatusRunning)
	if err != nil {
		return nil, err
	}

	var conclusions []*Conclusion
	var errs []error
	for _, exp := range running {
		reason, done, err := c.due(ctx, exp, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("check experiment %s: %w", exp.ID, err))
			continue
		}
		if !done {
			continue
		}
		conclusion, err := c.Conclude(ctx, exp.ID, reason)
		if err != nil {
			errs = append(errs, fmt.Errorf("conclude experiment %s: %w", exp.ID, err))
			continue
		}
		conclusions = append(conclusions, conclusion)
	}
	return conclusions, errors.Join(errs...)
}

// due 判断实验是否应结束：两组都达到最小样本量，或运行时长达到上限
func (c *Coordinator) due(ctx context.Context, exp *model.Experiment, now time.Time) (model.ConcludeReason, bool, error) {
	if exp.StartedAt == nil {
		return "", false, fmt.Errorf("%w: running experiment without start time", model.ErrInvalidTransition)
	}
	since := *exp.StartedAt

	controlCount, err := c.executions.CountSince(ctx, exp.ControlVariantID, since)
	if err != nil {
		return "", false, err
	}
	treatmentCount, err := c.executions.CountSince(ctx, exp.TreatmentVariantID, since)
	if err != nil {
		return "", false, err
	}
	minSamples := int64(exp.MinSampleSize)
	if controlCount >= minSamples && treatmentCount >= minSamples {
		return model.ConcludeSampleSize, true, nil
	}

	if now.Sub(since) >= time.Duration(exp.MaxDurationDays)*24*time.Hour {
		return model.ConcludeDuration, true, nil
	}
	return "", false, nil
}

// Conclude 结束实验并提升胜者
// 胜者为实验期间执行总分均值较高的一组，持平时保留当前基线
func (c *Coordinator) Conclude(ctx context.Context, id string, reason model.ConcludeReason) (*Conclusion, error) {
	exp, err := c.experiments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if exp.Status != model.ExperimentStatusRunning || exp.StartedAt == nil {
		return nil, fmt.Errorf("%w: experiment %s is %s", model.ErrInvalidTransition, id, exp.Status)
	}

	control, err := c.variants.GetByID(ctx, exp.ControlVariantID)
	if err != nil {
		return nil, fmt.Errorf("load control variant: %w", err)
	}
	treatment, err := c.variants.GetByID(ctx, exp.TreatmentVariantID)
	if err != nil {
		return nil, fmt.Errorf("load treatment variant: %w", err)
	}

	controlStats, err := c.executions.ArmStats(ctx, control.ID, *exp.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("control arm stats: %w", err)
	}
	treatmentStats, err := c.executions.ArmStats(ctx, treatment.ID, *exp.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("treatment arm stats: %w", err)
	}

	incumbent, challenger := control, treatment
	if treatment.IsBaseline && !control.IsBaseline {
		incumbent, challenger = treatment, control
	}

	winner, loser := incumbent, challenger
	switch {
	case treatmentStats.MeanScore > controlStats.MeanScore:
		winner, loser = treatment, control
	case controlStats.MeanScore > treatmentStats.MeanScore:
		winner, loser = control, treatment
	}

	pValue := WelchPValue(controlStats, treatmentStats)
	if c.cfg.RequireSignificance && winner.ID != incumbent.ID &&
		(pValue == nil || *pValue >= exp.SignificanceLevel) {
		winner, loser = incumbent, challenger
	}

	concluded, err := c.experiments.Conclude(ctx, id, repository.ConcludeParams{
		WinnerVariantID:  winner.ID,
		Reason:           reason,
		ControlMetrics:   controlStats,
		TreatmentMetrics: treatmentStats,
		PValue:           pValue,
		EndedAt:          c.now(),
	})
	if err != nil {
		return nil, err
	}

	fields := []zap.Field{
		zap.String("experiment_id", id),
		zap.String("prompt_name", exp.PromptName),
		zap.String("reason", string(reason)),
		zap.String("winner", winner.VariantID+"@"+winner.Version),
		zap.String("loser", loser.VariantID+"@"+loser.Version),
		zap.Float64("control_mean", controlStats.MeanScore),
		zap.Int64("control_executions", controlStats.Executions),
		zap.Float64("treatment_mean", treatmentStats.MeanScore),
		zap.Int64("treatment_executions", treatmentStats.Executions),
	}
	if pValue != nil {
		fields = append(fields, zap.Float64("p_value", *pValue))
	}
	c.logger.Info("experiment concluded", fields...)
	c.invalidate(ctx, exp.PromptName)

	return &Conclusion{
		Experiment: concluded,
		Winner:     winner,
		Loser:      loser,
		Reason:     reason,
		Control:    controlStats,
		Treatment:  treatmentStats,
		PValue:     pValue,
	}, nil
}

// validate 校验实验配置
func (c *Coordinator) validate(ctx context.Context, exp *model.Experiment) error {
	var problems []string
	if strings.TrimSpace(exp.PromptName) == "" {
		problems = append(problems, "prompt_name is required")
	}
	if exp.ControlVariantID == "" || exp.TreatmentVariantID == "" {
		problems = append(problems, "control and treatment variants are required")
	} else if exp.ControlVariantID == exp.TreatmentVariantID {
		problems = append(problems, "control and treatment must be different variants")
	}
	if exp.ControlTraffic < 0 || exp.ControlTraffic > 100 || exp.TreatmentTraffic < 0 || exp.TreatmentTraffic > 100 {
		problems = append(problems, "traffic percentages must be within [0, 100]")
	}
	if exp.ControlTraffic+exp.TreatmentTraffic > 100 {
		problems = append(problems, "traffic percentages must sum to at most 100")
	}
	if exp.MinSampleSize <= 0 {
		problems = append(problems, "min_sample_size must be positive")
	}
	if exp.MaxDurationDays <= 0 {
		problems = append(problems, "max_duration_days must be positive")
	}
	if exp.SignificanceLevel <= 0 || exp.SignificanceLevel >= 1 {
		problems = append(problems, "significance_level must be within (0, 1)")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", model.ErrInvalidExperimentConfig, strings.Join(problems, "; "))
	}

	control, err := c.variants.GetByID(ctx, exp.ControlVariantID)
	if err != nil {
		return c.armError("control", err)
	}
	treatment, err := c.variants.GetByID(ctx, exp.TreatmentVariantID)
	if err != nil {
		return c.armError("treatment", err)
	}
	if control.PromptName != exp.PromptName || treatment.PromptName != exp.PromptName {
		return fmt.Errorf("%w: both variants must belong to prompt %s", model.ErrInvalidExperimentConfig, exp.PromptName)
	}
	if control.Language != treatment.Language {
		return fmt.Errorf("%w: control language %s differs from treatment language %s",
			model.ErrInvalidExperimentConfig, control.Language, treatment.Language)
	}
	return nil
}

func (c *Coordinator) armError(arm string, err error) error {
	if errors.Is(err, model.ErrVariantNotFound) {
		return fmt.Errorf("%w: %s variant not found", model.ErrInvalidExperimentConfig, arm)
	}
	return err
}

func (c *Coordinator) invalidate(ctx context.Context, promptName string) {
	if c.invalidator == nil {
		return
	}
	if err := c.invalidator.Invalidate(ctx, promptName); err != nil {
		c.logger.Warn("routing cache invalidation failed", zap.String("prompt_name", promptName), zap.Error(err))
	}
}
