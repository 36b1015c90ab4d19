// Package evolution 基于父变体生成新的候选变体并记录谱系
package evolution

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/google/uuid"
	"go.uber.org/zap"

	domain "github.com/ashwinyue/next-prompt/internal/model"
	"github.com/ashwinyue/next-prompt/internal/repository"
)

const maxVersionProbes = 1000

// EvolveRequest 进化请求
type EvolveRequest struct {
	PromptName      string                 `json:"prompt_name"`
	ParentVariantID string                 `json:"parent_variant_id"`
	Strategy        string                 `json:"strategy"`
	Feedback        map[string]interface{} `json:"feedback_data,omitempty"`
}

// Engine 进化引擎
type Engine struct {
	variants   repository.VariantStore
	evolutions repository.EvolutionStore
	strategies map[string]Strategy
	logger     *zap.Logger
}

// Option 引擎选项
type Option func(*Engine)

// WithChatModel 启用 model_rewrite 策略
func WithChatModel(chatModel model.BaseChatModel) Option {
	return func(e *Engine) {
		if chatModel != nil {
			e.strategies[StrategyModelRewrite] = modelRewrite(chatModel)
		}
	}
}

// WithStrategy 注册自定义策略
func WithStrategy(name string, s Strategy) Option {
	return func(e *Engine) {
		e.strategies[name] = s
	}
}

// NewEngine 创建进化引擎
func NewEngine(variants repository.VariantStore, evolutions repository.EvolutionStore, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		variants:   variants,
		evolutions: evolutions,
		strategies: builtinStrategies(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evolve 由父变体生成未激活的子变体
// 子变体与谱系记录在同一事务内写入
func (e *Engine) Evolve(ctx context.Context, req EvolveRequest) (*domain.PromptVariant, error) {
	parent, err := e.variants.GetByID(ctx, req.ParentVariantID)
	if err != nil {
		return nil, err
	}
	if parent.PromptName != req.PromptName {
		return nil, fmt.Errorf("%w: variant %s does not belong to prompt %s",
			domain.ErrVariantNotFound, req.ParentVariantID, req.PromptName)
	}

	strategyName, strategy := e.resolve(req.Strategy)
	if strategy == nil {
		return nil, fmt.Errorf("strategy %s is not available", req.Strategy)
	}
	content, err := strategy(ctx, parent, req.Feedback)
	if err != nil {
		return nil, fmt.Errorf("apply strategy %s: %w", strategyName, err)
	}

	version, err := e.nextVersion(ctx, parent)
	if err != nil {
		return nil, err
	}

	child := &domain.PromptVariant{
		PromptName:           parent.PromptName,
		Version:              version,
		VariantID:            "evolved_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8],
		Content:              content,
		PromptType:           parent.PromptType,
		Language:             parent.Language,
		OptimizationStrategy: strategyName,
		ParentVersion:        parent.Version,
		GenerationMethod:     domain.GenerationEvolutionary,
		Tags:                 append(append(domain.StringList{}, parent.Tags...), "evolved"),
		Metadata: domain.JSON{
			"parent_id":          parent.ID,
			"parent_variant_id":  parent.VariantID,
			"evolution_strategy": strategyName,
		},
	}
	if len(req.Feedback) > 0 {
		child.Metadata["feedback"] = req.Feedback
	}

	algorithm := domain.EvolutionAlgorithmFeedback
	if strategyName == StrategyModelRewrite {
		algorithm = domain.EvolutionAlgorithmModel
	}
	record := &domain.EvolutionRecord{
		ParentVariantID:   parent.ID,
		EvolutionType:     strategyName,
		EvolutionStrategy: req.Strategy,
		FeedbackData:      req.Feedback,
		OptimizationGoals: domain.DefaultOptimizationGoals,
		Algorithm:         algorithm,
		ParentScore:       parent.OverallScore,
	}

	if err := e.evolutions.CreateChild(ctx, child, record); err != nil {
		return nil, err
	}

	e.logger.Info("prompt evolved",
		zap.String("prompt_name", parent.PromptName),
		zap.String("parent", parent.VariantID+"@"+parent.Version),
		zap.String("child", child.VariantID+"@"+child.Version),
		zap.String("strategy", strategyName),
	)
	return child, nil
}

// resolve 未知策略退化为 optimization_hint
func (e *Engine) resolve(name string) (string, Strategy) {
	if s, ok := e.strategies[name]; ok {
		return name, s
	}
	if name == StrategyModelRewrite {
		return name, nil
	}
	return StrategyOptimizationHint, e.strategies[StrategyOptimizationHint]
}

// nextVersion 递增补丁号直到版本未被占用
func (e *Engine) nextVersion(ctx context.Context, parent *domain.PromptVariant) (string, error) {
	major, minor, patch, err := parseVersion(parent.Version)
	if err != nil {
		return "", err
	}
	for i := 0; i < maxVersionProbes; i++ {
		patch++
		version := fmt.Sprintf("%d.%d.%d", major, minor, patch)
		taken, err := e.variants.VersionTaken(ctx, parent.PromptName, version)
		if err != nil {
			return "", err
		}
		if !taken {
			return version, nil
		}
	}
	return "", fmt.Errorf("no free patch version after %s", parent.Version)
}

func parseVersion(v string) (major, minor, patch int, err error) {
	parts := strings.Split(v, ".")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("%w: version %q is not MAJOR.MINOR.PATCH", domain.ErrInvalidVariant, v)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, convErr := strconv.Atoi(p)
		if convErr != nil || n < 0 {
			return 0, 0, 0, fmt.Errorf("%w: version %q is not MAJOR.MINOR.PATCH", domain.ErrInvalidVariant, v)
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], nil
}

// Lineage 沿谱系向上返回祖先记录，最近的父记录在前
func (e *Engine) Lineage(ctx context.Context, variantID string) ([]*domain.EvolutionRecord, error) {
	if _, err := e.variants.GetByID(ctx, variantID); err != nil {
		return nil, err
	}

	var chain []*domain.EvolutionRecord
	seen := map[string]bool{variantID: true}
	current := variantID
	for {
		record, err := e.evolutions.GetByChild(ctx, current)
		if err != nil {
			return nil, err
		}
		if record == nil {
			return chain, nil
		}
		chain = append(chain, record)
		if seen[record.ParentVariantID] {
			return chain, errors.New("evolution lineage contains a cycle")
		}
		seen[record.ParentVariantID] = true
		current = record.ParentVariantID
	}
}
