// Package selector 为每次请求选择承接流量的提示词变体
package selector

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"go.uber.org/zap"

	"github.com/ashwinyue/next-prompt/internal/model"
	"github.com/ashwinyue/next-prompt/internal/service/registry"
)

// Arm 实验分组
type Arm string

const (
	ArmNone      Arm = ""
	ArmControl   Arm = "control"
	ArmTreatment Arm = "treatment"
)

// ActiveSource 当前可承接流量的变体来源
type ActiveSource interface {
	GetActive(ctx context.Context, promptName, language string) (*registry.ActiveSet, error)
}

// Selection 选择结果
type Selection struct {
	Variant    *model.PromptVariant
	Experiment *model.Experiment
	Arm        Arm
	Draw       float64 // 实验分流时的随机数，范围 [0,100)
}

// Option 选择器选项
type Option func(*Selector)

// WithRand 指定随机源
func WithRand(r *rand.Rand) Option {
	return func(s *Selector) {
		s.rng = r
	}
}

// WithCache 启用路由快照缓存
func WithCache(cache *RoutingCache) Option {
	return func(s *Selector) {
		s.cache = cache
	}
}

// Selector 变体选择器，只读，可并发调用
type Selector struct {
	source ActiveSource
	cache  *RoutingCache
	logger *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// New 创建变体选择器
func New(source ActiveSource, logger *zap.Logger, opts ...Option) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Selector{
		source: source,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return s
}

// Select 选择承接下一次请求的变体
// 有运行中的实验时按对照组流量比例随机分流，否则返回激活基线
func (s *Selector) Select(ctx context.Context, promptName, language string) (*Selection, error) {
	set, err := s.activeSet(ctx, promptName, language)
	if err != nil {
		return nil, err
	}

	if set.Experiment != nil && len(set.Variants) == 2 {
		draw := s.draw()
		sel := &Selection{Experiment: set.Experiment, Draw: draw}
		if draw < set.Experiment.ControlTraffic {
			sel.Variant, sel.Arm = set.Variants[0], ArmControl
		} else {
			sel.Variant, sel.Arm = set.Variants[1], ArmTreatment
		}
		return sel, nil
	}

	switch len(set.Variants) {
	case 0:
		return nil, fmt.Errorf("%w: prompt %s language %s", model.ErrNoVariantAvailable, promptName, language)
	case 1:
	default:
		ids := make([]string, len(set.Variants))
		for i, v := range set.Variants {
			ids[i] = v.ID
		}
		s.logger.Warn("multiple active variants outside experiment",
			zap.String("prompt_name", promptName),
			zap.String("language", language),
			zap.Strings("variant_ids", ids),
			zap.String("chosen", set.Variants[0].ID),
		)
	}
	return &Selection{Variant: set.Variants[0]}, nil
}

// Invalidate 删除提示词的路由快照
func (s *Selector) Invalidate(ctx context.Context, promptName string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx, promptName)
}

func (s *Selector) activeSet(ctx context.Context, promptName, language string) (*registry.ActiveSet, error) {
	if s.cache == nil {
		return s.source.GetActive(ctx, promptName, language)
	}

	set, err := s.cache.Get(ctx, promptName, language)
	if err != nil {
		s.logger.Debug("routing cache read failed", zap.String("prompt_name", promptName), zap.Error(err))
	} else if set != nil {
		return set, nil
	}

	// 代数必须在读库之前取得
	gen, genErr := s.cache.Generation(ctx, promptName)

	set, err = s.source.GetActive(ctx, promptName, language)
	if err != nil {
		return nil, err
	}

	if genErr != nil {
		s.logger.Debug("routing cache generation read failed", zap.String("prompt_name", promptName), zap.Error(genErr))
		return set, nil
	}
	if _, err := s.cache.Set(ctx, promptName, language, gen, set); err != nil {
		s.logger.Debug("routing cache write failed", zap.String("prompt_name", promptName), zap.Error(err))
	}
	return set, nil
}

func (s *Selector) draw() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() * 100
}
