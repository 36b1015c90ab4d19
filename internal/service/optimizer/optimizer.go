// Package optimizer 提供带实验分流、评分和兜底的提示词执行入口
package optimizer

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/ashwinyue/next-prompt/internal/config"
	"github.com/ashwinyue/next-prompt/internal/model"
	"github.com/ashwinyue/next-prompt/internal/service/inference"
	"github.com/ashwinyue/next-prompt/internal/service/registry"
	"github.com/ashwinyue/next-prompt/internal/service/scoring"
	"github.com/ashwinyue/next-prompt/internal/service/selector"
)

const defaultInferenceTimeout = 30 * time.Second

// LegacyFunc 未经优化的直接调用路径
type LegacyFunc func(ctx context.Context, promptName string, input map[string]interface{}) (*model.Output, error)

// Options 单次执行选项
type Options struct {
	Language    string
	ClientID    string
	RequestID   string
	Environment model.Environment
	Metadata    map[string]interface{}
	UserRating  *int
	Fallback    LegacyFunc
}

// Result 执行结果，Bypass 非空表示输出来自兜底路径
type Result struct {
	Output      *model.Output         `json:"output"`
	ExecutionID string                `json:"execution_id,omitempty"`
	VariantID   string                `json:"variant_id,omitempty"`
	Version     string                `json:"version,omitempty"`
	Arm         selector.Arm          `json:"arm,omitempty"`
	Scores      *scoring.Scores       `json:"scores,omitempty"`
	Bypass      *OptimizationBypassed `json:"bypass,omitempty"`
}

// VariantSelector 变体选择
type VariantSelector interface {
	Select(ctx context.Context, promptName, language string) (*selector.Selection, error)
}

// OutputScorer 单次输出评分
type OutputScorer interface {
	Score(output *model.Output, latency time.Duration) (scoring.Scores, error)
}

// Recorder 执行记录写入
type Recorder interface {
	Record(ctx context.Context, exec *model.PromptExecution) error
}

// Optimizer 优化执行入口
type Optimizer struct {
	selector  VariantSelector
	inference inference.Inference
	scorer    OutputScorer
	recorder  Recorder
	cfg       config.OptimizerConfig
	timeout   time.Duration
	logger    *zap.Logger
}

// New 创建优化执行入口
func New(sel VariantSelector, inf inference.Inference, scorer OutputScorer, recorder Recorder, cfg config.OptimizerConfig, logger *zap.Logger) *Optimizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := time.Duration(cfg.InferenceTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultInferenceTimeout
	}
	return &Optimizer{
		selector:  sel,
		inference: inf,
		scorer:    scorer,
		recorder:  recorder,
		cfg:       cfg,
		timeout:   timeout,
		logger:    logger,
	}
}

// ExecutePrompt 选择变体、调用推理、评分并记录
// 失败时若提供了 Fallback 则返回兜底结果，否则返回错误
func (o *Optimizer) ExecutePrompt(ctx context.Context, promptName string, input map[string]interface{}, opts Options) (*Result, error) {
	if opts.Language == "" {
		opts.Language = o.cfg.DefaultLanguage
	}
	if opts.Environment == "" {
		opts.Environment = model.Environment(o.cfg.Environment)
	}

	sel, err := o.selector.Select(ctx, promptName, opts.Language)
	if err != nil {
		reason := ReasonSelectionError
		if errors.Is(err, model.ErrNoVariantAvailable) {
			reason = ReasonNoVariant
		}
		return o.bypass(ctx, promptName, input, opts, reason, err)
	}

	exec := o.newExecution(sel, input, opts)
	content := registry.Render(sel.Variant, input)

	start := time.Now()
	ictx, cancel := context.WithTimeout(ctx, o.timeout)
	resp, err := o.inference.Invoke(ictx, content, input)
	timedOut := errors.Is(ictx.Err(), context.DeadlineExceeded)
	cancel()
	if err != nil {
		exec.ResponseTimeMs = time.Since(start).Milliseconds()
		exec.ErrorOccurred = true
		exec.ErrorMessage = err.Error()
		exec.ErrorType = model.ErrorTypeInference
		if timedOut || errors.Is(err, context.DeadlineExceeded) {
			exec.ErrorType = model.ErrorTypeTimeout
		}
		if !errors.Is(err, model.ErrInferenceFailure) {
			err = fmt.Errorf("%w: %w", model.ErrInferenceFailure, err)
		}
		if recErr := o.recorder.Record(ctx, exec); recErr != nil {
			err = errors.Join(err, fmt.Errorf("record execution: %w", recErr))
		}
		return o.bypass(ctx, promptName, input, opts, ReasonInferenceFailure, err)
	}

	scores, scoreErr := o.scorer.Score(resp.Output, resp.Latency)
	exec.Output = resp.Output
	exec.RawOutput = resp.Raw
	exec.ResponseTimeMs = resp.Latency.Milliseconds()
	exec.OverallScore = scores.Overall
	exec.AccuracyScore = scores.Accuracy
	exec.ConsistencyScore = scores.Consistency
	exec.CompletenessScore = scores.Completeness
	exec.ResponseTimeScore = scores.ResponseTime
	if scoreErr != nil {
		exec.ErrorOccurred = true
		exec.ErrorMessage = scoreErr.Error()
		exec.ErrorType = model.ErrorTypeScoring
	}

	if err := o.recorder.Record(ctx, exec); err != nil {
		if scoreErr != nil {
			err = errors.Join(scoreErr, err)
		}
		return nil, fmt.Errorf("record execution: %w", err)
	}
	if scoreErr != nil {
		return o.bypass(ctx, promptName, input, opts, ReasonScoringInconsistency, scoreErr)
	}

	return &Result{
		Output:      resp.Output,
		ExecutionID: exec.ExecutionID,
		VariantID:   sel.Variant.ID,
		Version:     sel.Variant.Version,
		Arm:         sel.Arm,
		Scores:      &scores,
	}, nil
}

// bypass 执行兜底路径并记录告警，无兜底时返回原错误
func (o *Optimizer) bypass(ctx context.Context, promptName string, input map[string]interface{}, opts Options, reason BypassReason, cause error) (*Result, error) {
	if opts.Fallback == nil {
		return nil, cause
	}

	o.logger.Warn("optimization bypassed",
		zap.String("prompt_name", promptName),
		zap.String("language", opts.Language),
		zap.String("reason", string(reason)),
		zap.String("request_id", opts.RequestID),
		zap.Error(cause),
	)

	fctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	output, err := opts.Fallback(fctx, promptName, input)
	if err != nil {
		return nil, fmt.Errorf("legacy fallback: %w", errors.Join(err, cause))
	}
	return &Result{
		Output: output,
		Bypass: &OptimizationBypassed{Reason: reason, Cause: cause},
	}, nil
}

func (o *Optimizer) newExecution(sel *selector.Selection, input map[string]interface{}, opts Options) *model.PromptExecution {
	metadata := model.JSON{}
	for k, v := range opts.Metadata {
		metadata[k] = v
	}
	metadata["language"] = opts.Language
	if sel.Experiment != nil {
		metadata["experiment_id"] = sel.Experiment.ID
		metadata["arm"] = string(sel.Arm)
	}

	return &model.PromptExecution{
		VariantRefID: sel.Variant.ID,
		ExecutionID:  model.NewExecutionID(),
		RequestID:    opts.RequestID,
		ClientID:     opts.ClientID,
		Input:        input,
		InputHash:    InputHash(input),
		UserRating:   opts.UserRating,
		Environment:  opts.Environment,
		Metadata:     metadata,
	}
}

// InputHash 输入 JSON 的 blake2b-256 摘要
func InputHash(input map[string]interface{}) string {
	b, err := json.Marshal(input)
	if err != nil {
		return ""
	}
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:])
}
