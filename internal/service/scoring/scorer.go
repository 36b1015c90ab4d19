package scoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ashwinyue/next-prompt/internal/config"
	"github.com/ashwinyue/next-prompt/internal/model"
	"github.com/ashwinyue/next-prompt/internal/repository"
)

// Scores 单次执行的评分
type Scores struct {
	Overall      float64 `json:"overall"`
	Accuracy     float64 `json:"accuracy"`
	Consistency  float64 `json:"consistency"`
	Completeness float64 `json:"completeness"`
	ResponseTime float64 `json:"response_time"`
}

// Scorer 评分服务
type Scorer struct {
	cfg          config.ScoringConfig
	accuracy     *AccuracyMetric
	consistency  *ConsistencyMetric
	completeness *CompletenessMetric
	responseTime *ResponseTimeMetric

	variants   repository.VariantStore
	executions repository.ExecutionStore
	logger     *zap.Logger
	now        func() time.Time
}

// NewScorer 创建评分服务；只做单次评分时 variants 和 executions 可为 nil
func NewScorer(cfg config.ScoringConfig, variants repository.VariantStore, executions repository.ExecutionStore, logger *zap.Logger) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	consistency, err := NewConsistencyMetric(cfg.Enums, cfg.Ranges)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{
		cfg:          cfg,
		accuracy:     NewAccuracyMetric(cfg.ExpectedFields),
		consistency:  consistency,
		completeness: NewCompletenessMetric(cfg.ExpectedFields),
		responseTime: NewResponseTimeMetric(cfg.Thresholds, cfg.FloorScore),
		variants:     variants,
		executions:   executions,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// Score 根据输出结构计算子分和总分
// 输出缺失时返回零分和 ErrScoringInconsistency
func (s *Scorer) Score(output *model.Output, latency time.Duration) (Scores, error) {
	if output == nil {
		return Scores{}, fmt.Errorf("%w: output is missing or malformed", model.ErrScoringInconsistency)
	}

	input := &MetricInput{Output: output, Latency: latency}
	scores := Scores{
		Accuracy:     s.accuracy.Compute(input),
		Consistency:  s.consistency.Compute(input),
		Completeness: s.completeness.Compute(input),
		ResponseTime: s.responseTime.Compute(input),
	}
	w := s.cfg.Weights
	scores.Overall = w.Accuracy*scores.Accuracy +
		w.Consistency*scores.Consistency +
		w.Completeness*scores.Completeness +
		w.ResponseTime*scores.ResponseTime
	return scores, nil
}

// ResponseTimeScore 响应时间阶梯评分
func (s *Scorer) ResponseTimeScore(latency time.Duration) float64 {
	return s.responseTime.Compute(&MetricInput{Latency: latency})
}

// Violations 返回输出中不满足约束的字段
func (s *Scorer) Violations(output *model.Output) []string {
	if output == nil {
		return nil
	}
	return s.consistency.Violations(output)
}

// RollupFailure 单个变体汇总失败
type RollupFailure struct {
	VariantID string `json:"variant_id"`
	Error     string `json:"error"`
}

// RollupReport 汇总结果
type RollupReport struct {
	Total   int             `json:"total"`
	Updated int             `json:"updated"`
	Skipped int             `json:"skipped"`
	Failed  []RollupFailure `json:"failed,omitempty"`
}

// Rollup 重新计算所有变体的汇总评分
// 每个变体独立更新，单个失败不影响其他变体
func (s *Scorer) Rollup(ctx context.Context) (*RollupReport, error) {
	ids, err := s.variants.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}

	report := &RollupReport{Total: len(ids)}
	var mu sync.Mutex

	var g errgroup.Group
	limit := s.cfg.RollupConcurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for _, id := range ids {
		g.Go(func() error {
			updated, err := s.RollupVariant(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				s.logger.Error("rollup variant failed", zap.String("variant_id", id), zap.Error(err))
				report.Failed = append(report.Failed, RollupFailure{VariantID: id, Error: err.Error()})
			case updated:
				report.Updated++
			default:
				report.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("rollup finished",
		zap.Int("total", report.Total),
		zap.Int("updated", report.Updated),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", len(report.Failed)),
	)
	return report, nil
}

// RollupVariant 重新计算单个变体的汇总评分，没有执行记录时跳过
func (s *Scorer) RollupVariant(ctx context.Context, variantID string) (bool, error) {
	agg, err := s.executions.Aggregate(ctx, variantID, s.windowStart())
	if err != nil {
		return false, fmt.Errorf("aggregate executions: %w", err)
	}
	if agg.Executions == 0 {
		return false, nil
	}

	scores := model.VariantScores{
		Overall:      agg.Overall,
		Accuracy:     agg.Accuracy,
		ResponseTime: agg.ResponseTime,
		Consistency:  agg.Consistency,
	}
	if agg.RatedExecutions > 0 {
		scores.UserSatisfaction = agg.AverageUserRating / 5
	}
	if err := s.variants.UpdateScores(ctx, variantID, scores, s.now()); err != nil {
		return false, fmt.Errorf("update scores: %w", err)
	}
	return true, nil
}

// windowStart 汇总窗口起点，零值表示全部历史
func (s *Scorer) windowStart() time.Time {
	if s.cfg.RollupWindowDays <= 0 {
		return time.Time{}
	}
	return s.now().AddDate(0, 0, -s.cfg.RollupWindowDays)
}
