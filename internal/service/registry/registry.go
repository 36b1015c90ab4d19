// Package registry 提供提示词变体的注册、查询和激活
package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/ashwinyue/next-prompt/internal/model"
	"github.com/ashwinyue/next-prompt/internal/repository"
)

var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// Invalidator 路由缓存失效接口
type Invalidator interface {
	Invalidate(ctx context.Context, promptName string) error
}

// ActiveSet 当前可承接流量的变体
// Experiment 非空时 Variants 依次为对照组和实验组
type ActiveSet struct {
	Variants   []*model.PromptVariant `json:"variants"`
	Experiment *model.Experiment      `json:"experiment,omitempty"`
}

// Service 变体注册服务
type Service struct {
	variants    repository.VariantStore
	experiments repository.ExperimentStore
	invalidator Invalidator
	logger      *zap.Logger
}

// NewService 创建变体注册服务
func NewService(variants repository.VariantStore, experiments repository.ExperimentStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		variants:    variants,
		experiments: experiments,
		logger:      logger,
	}
}

// SetInvalidator 设置路由缓存失效器
func (s *Service) SetInvalidator(inv Invalidator) {
	s.invalidator = inv
}

// Register 注册新变体
func (s *Service) Register(ctx context.Context, v *model.PromptVariant) (*model.PromptVariant, error) {
	if err := validateVariant(v); err != nil {
		return nil, err
	}

	// 已存在的标识直接视为重复，不再做激活检查
	_, err := s.variants.GetByIdentity(ctx, v.PromptName, v.VariantID, v.Version)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: %s@%s/%s", model.ErrDuplicateVariant, v.PromptName, v.Version, v.VariantID)
	case !errors.Is(err, model.ErrVariantNotFound):
		return nil, err
	}

	if v.IsActive {
		eligible, err := s.variants.ListEligible(ctx, v.PromptName, v.Language)
		if err != nil {
			return nil, err
		}
		for _, other := range eligible {
			if other.IsActive && !(other.Version == v.Version && other.VariantID == v.VariantID) {
				return nil, fmt.Errorf("%w: %s/%s already has active variant %s@%s, use activate instead",
					model.ErrInvalidVariant, v.PromptName, v.Language, other.VariantID, other.Version)
			}
		}
	}

	if err := s.variants.Create(ctx, v); err != nil {
		return nil, err
	}
	if v.IsActive {
		s.invalidate(ctx, v.PromptName)
	}
	return v, nil
}

// GetVariant 根据 ID 获取变体
func (s *Service) GetVariant(ctx context.Context, id string) (*model.PromptVariant, error) {
	return s.variants.GetByID(ctx, id)
}

// ListVariants 列出提示词的所有变体，language 为空时不过滤
func (s *Service) ListVariants(ctx context.Context, promptName, language string) ([]*model.PromptVariant, error) {
	return s.variants.List(ctx, promptName, language)
}

// Best 获取使用次数不少于 minExecutions 的最高分变体
func (s *Service) Best(ctx context.Context, promptName string, minExecutions int64) (*model.PromptVariant, error) {
	return s.variants.Best(ctx, promptName, minExecutions)
}

// GetActive 获取当前可承接流量的变体
// 提示词有运行中的实验且实验语言匹配时返回对照组和实验组，否则返回激活或基线变体
func (s *Service) GetActive(ctx context.Context, promptName, language string) (*ActiveSet, error) {
	exp, err := s.experiments.GetRunning(ctx, promptName)
	if err != nil {
		return nil, fmt.Errorf("load running experiment: %w", err)
	}
	if exp != nil {
		control, err := s.variants.GetByID(ctx, exp.ControlVariantID)
		if err != nil {
			return nil, fmt.Errorf("load control variant: %w", err)
		}
		treatment, err := s.variants.GetByID(ctx, exp.TreatmentVariantID)
		if err != nil {
			return nil, fmt.Errorf("load treatment variant: %w", err)
		}
		if control.Language == language && treatment.Language == language {
			return &ActiveSet{
				Variants:   []*model.PromptVariant{control, treatment},
				Experiment: exp,
			}, nil
		}
	}

	variants, err := s.variants.ListEligible(ctx, promptName, language)
	if err != nil {
		return nil, err
	}
	return &ActiveSet{Variants: variants}, nil
}

// Activate 将变体设为提示词唯一的激活基线
func (s *Service) Activate(ctx context.Context, promptName, variantID, version string) (*model.PromptVariant, error) {
	v, err := s.variants.Activate(ctx, promptName, variantID, version)
	if err != nil {
		return nil, err
	}
	s.logger.Info("variant activated",
		zap.String("prompt_name", promptName),
		zap.String("variant_id", variantID),
		zap.String("version", version),
	)
	s.invalidate(ctx, promptName)
	return v, nil
}

// Deactivate 将变体移出流量
func (s *Service) Deactivate(ctx context.Context, id string) (*model.PromptVariant, error) {
	v, err := s.variants.Deactivate(ctx, id)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, v.PromptName)
	return v, nil
}

func (s *Service) invalidate(ctx context.Context, promptName string) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx, promptName); err != nil {
		s.logger.Warn("routing cache invalidation failed", zap.String("prompt_name", promptName), zap.Error(err))
	}
}

func validateVariant(v *model.PromptVariant) error {
	var problems []string
	if strings.TrimSpace(v.PromptName) == "" {
		problems = append(problems, "prompt_name is required")
	}
	if !semverPattern.MatchString(v.Version) {
		problems = append(problems, fmt.Sprintf("version %q is not MAJOR.MINOR.PATCH", v.Version))
	}
	if strings.TrimSpace(v.VariantID) == "" {
		problems = append(problems, "variant_id is required")
	}
	if strings.TrimSpace(v.Content) == "" {
		problems = append(problems, "content is required")
	}
	if strings.TrimSpace(v.Language) == "" {
		problems = append(problems, "language is required")
	}
	if v.TrafficPercentage < 0 || v.TrafficPercentage > 100 {
		problems = append(problems, "traffic_percentage must be within [0, 100]")
	}
	switch v.PromptType {
	case "":
		v.PromptType = model.PromptTypeUser
	case model.PromptTypeSystem, model.PromptTypeUser, model.PromptTypeFewShot, model.PromptTypeChainOfThought:
	default:
		problems = append(problems, fmt.Sprintf("unknown prompt_type %q", v.PromptType))
	}
	switch v.GenerationMethod {
	case "":
		v.GenerationMethod = model.GenerationManual
	case model.GenerationManual, model.GenerationAIGenerated, model.GenerationEvolutionary, model.GenerationABTest:
	default:
		problems = append(problems, fmt.Sprintf("unknown generation_method %q", v.GenerationMethod))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", model.ErrInvalidVariant, strings.Join(problems, "; "))
	}
	return nil
}

// IsDuplicate 是否为重复注册错误
func IsDuplicate(err error) bool {
	return errors.Is(err, model.ErrDuplicateVariant)
}
