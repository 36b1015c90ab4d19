// Package service 按配置组装提示词优化引擎的各项服务
package service

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ashwinyue/next-prompt/internal/config"
	"github.com/ashwinyue/next-prompt/internal/repository"
	"github.com/ashwinyue/next-prompt/internal/service/callback"
	"github.com/ashwinyue/next-prompt/internal/service/evolution"
	"github.com/ashwinyue/next-prompt/internal/service/experiment"
	"github.com/ashwinyue/next-prompt/internal/service/inference"
	"github.com/ashwinyue/next-prompt/internal/service/optimizer"
	"github.com/ashwinyue/next-prompt/internal/service/registry"
	"github.com/ashwinyue/next-prompt/internal/service/scoring"
	"github.com/ashwinyue/next-prompt/internal/service/selector"
)

// Services 服务集合
type Services struct {
	Registry   *registry.Service
	Selector   *selector.Selector
	Scorer     *scoring.Scorer
	Experiment *experiment.Coordinator
	Evolution  *evolution.Engine
	Optimizer  *optimizer.Optimizer

	// 执行记录查询
	Executions repository.ExecutionStore

	// 配置
	Config *config.Config

	// Eino 组件，未配置 AI 时为 nil
	ChatModel model.BaseChatModel
}

// Option 服务组装选项
type Option func(*options)

type options struct {
	chatModel model.BaseChatModel
	inference inference.Inference
}

// WithChatModel 使用指定的 ChatModel，不再按配置创建
func WithChatModel(chatModel model.BaseChatModel) Option {
	return func(o *options) {
		o.chatModel = chatModel
	}
}

// WithInference 使用指定的推理服务
func WithInference(inf inference.Inference) Option {
	return func(o *options) {
		o.inference = inf
	}
}

// NewServices 创建所有服务
// redisClient 为 nil 时不启用路由缓存
func NewServices(ctx context.Context, repos *repository.Repositories, cfg *config.Config, redisClient *redis.Client, logger *zap.Logger, opts ...Option) (*Services, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	// 创建 ChatModel
	chatModel := o.chatModel
	var chatErr error
	if chatModel == nil {
		chatModel, chatErr = inference.NewChatModel(ctx, cfg.AI)
		if chatErr != nil {
			chatModel = nil
			logger.Warn("chat model unavailable, optimized executions will fail over", zap.Error(chatErr))
		}
	}

	inf := o.inference
	switch {
	case inf != nil:
	case chatModel != nil:
		inf = inference.NewChatModelClient(chatModel, callback.NewLogger(logger.Named("inference"), cfg.App.Debug))
	default:
		inf = inference.Unavailable{Err: chatErr}
	}

	scorer, err := scoring.NewScorer(cfg.Scoring, repos.Variant, repos.Execution, logger.Named("scoring"))
	if err != nil {
		return nil, err
	}

	reg := registry.NewService(repos.Variant, repos.Experiment, logger.Named("registry"))

	var selOpts []selector.Option
	if redisClient != nil {
		ttl := time.Duration(cfg.Redis.RoutingTTL) * time.Second
		selOpts = append(selOpts, selector.WithCache(selector.NewRoutingCache(redisClient, ttl)))
	}
	sel := selector.New(reg, logger.Named("selector"), selOpts...)
	reg.SetInvalidator(sel)

	coord := experiment.NewCoordinator(repos.Experiment, repos.Variant, repos.Execution, cfg.Experiment, logger.Named("experiment"))
	coord.SetInvalidator(sel)

	var evoOpts []evolution.Option
	if chatModel != nil {
		evoOpts = append(evoOpts, evolution.WithChatModel(chatModel))
	}

	return &Services{
		Registry:   reg,
		Selector:   sel,
		Scorer:     scorer,
		Experiment: coord,
		Evolution:  evolution.NewEngine(repos.Variant, repos.Evolution, logger.Named("evolution"), evoOpts...),
		Optimizer:  optimizer.New(sel, inf, scorer, repos.Execution, cfg.Optimizer, logger.Named("optimizer")),
		Executions: repos.Execution,
		Config:     cfg,
		ChatModel:  chatModel,
	}, nil
}

// NewRedisClient 按配置创建 Redis 客户端，未启用时返回 nil
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	if !cfg.Enabled {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.GetAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
