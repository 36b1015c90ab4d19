// Package scoring 提供执行结果评分和变体汇总评分
package scoring

import (
	"fmt"
	"sort"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/ashwinyue/next-prompt/internal/config"
	"github.com/ashwinyue/next-prompt/internal/model"
)

// MetricInput 指标计算输入
type MetricInput struct {
	Output  *model.Output
	Latency time.Duration
}

// Metric 指标接口
type Metric interface {
	Compute(input *MetricInput) float64
	Name() string
}

// ========== Accuracy 准确度 ==========

// AccuracyMetric 准确度指标
// Accuracy = 出现的期望字段数 / 期望字段总数
type AccuracyMetric struct {
	expected []string
}

// NewAccuracyMetric 创建准确度指标
func NewAccuracyMetric(expected []string) *AccuracyMetric {
	return &AccuracyMetric{expected: expected}
}

// Compute 计算准确度
func (m *AccuracyMetric) Compute(input *MetricInput) float64 {
	if input.Output == nil || len(m.expected) == 0 {
		return 0.0
	}
	fields := input.Output.Fields()
	present := 0
	for _, name := range m.expected {
		if _, ok := fields[name]; ok {
			present++
		}
	}
	return float64(present) / float64(len(m.expected))
}

// Name 返回指标名称
func (m *AccuracyMetric) Name() string {
	return "accuracy"
}

// ========== Completeness 完整度 ==========

// CompletenessMetric 完整度指标
// 与准确度不同，字段必须非空才计入
type CompletenessMetric struct {
	expected []string
}

// NewCompletenessMetric 创建完整度指标
func NewCompletenessMetric(expected []string) *CompletenessMetric {
	return &CompletenessMetric{expected: expected}
}

// Compute 计算完整度
func (m *CompletenessMetric) Compute(input *MetricInput) float64 {
	if input.Output == nil || len(m.expected) == 0 {
		return 0.0
	}
	fields := input.Output.Fields()
	complete := 0
	for _, name := range m.expected {
		if v, ok := fields[name]; ok && !model.IsEmptyValue(v) {
			complete++
		}
	}
	return float64(complete) / float64(len(m.expected))
}

// Name 返回指标名称
func (m *CompletenessMetric) Name() string {
	return "completeness"
}

// ========== Consistency 一致性 ==========

// ConsistencyMetric 一致性指标
// 每个受约束字段（枚举或数值范围）编译为一个 JSON Schema：
// 全部合法为 1.0，部分合法为 0.5，全部不合法为 0.0
type ConsistencyMetric struct {
	fields  []string
	schemas map[string]*gojsonschema.Schema
}

// NewConsistencyMetric 根据枚举和范围约束创建一致性指标
func NewConsistencyMetric(enums map[string][]string, ranges map[string]config.NumericRange) (*ConsistencyMetric, error) {
	m := &ConsistencyMetric{schemas: make(map[string]*gojsonschema.Schema)}

	for field, allowed := range enums {
		values := make([]interface{}, len(allowed))
		for i, v := range allowed {
			values[i] = v
		}
		if err := m.add(field, map[string]interface{}{"type": "string", "enum": values}); err != nil {
			return nil, err
		}
	}
	for field, r := range ranges {
		if r.Min > r.Max {
			return nil, fmt.Errorf("invalid range for %s: min %v > max %v", field, r.Min, r.Max)
		}
		if err := m.add(field, map[string]interface{}{"type": "number", "minimum": r.Min, "maximum": r.Max}); err != nil {
			return nil, err
		}
	}
	sort.Strings(m.fields)
	return m, nil
}

func (m *ConsistencyMetric) add(field string, property map[string]interface{}) error {
	if _, exists := m.schemas[field]; exists {
		return fmt.Errorf("field %s has more than one constraint", field)
	}
	doc := map[string]interface{}{
		"type":       "object",
		"required":   []interface{}{field},
		"properties": map[string]interface{}{field: property},
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", field, err)
	}
	m.schemas[field] = schema
	m.fields = append(m.fields, field)
	return nil
}

// Compute 计算一致性
func (m *ConsistencyMetric) Compute(input *MetricInput) float64 {
	if input.Output == nil || len(m.fields) == 0 {
		return 0.0
	}
	valid := len(m.fields) - len(m.Violations(input.Output))
	switch {
	case valid == len(m.fields):
		return 1.0
	case valid > 0:
		return 0.5
	default:
		return 0.0
	}
}

// Violations 返回不满足约束的字段
func (m *ConsistencyMetric) Violations(output *model.Output) []string {
	doc := output.Fields()
	var violations []string
	for _, field := range m.fields {
		result, err := m.schemas[field].Validate(gojsonschema.NewGoLoader(doc))
		if err != nil || !result.Valid() {
			violations = append(violations, field)
		}
	}
	return violations
}

// Name 返回指标名称
func (m *ConsistencyMetric) Name() string {
	return "consistency"
}

// ========== ResponseTime 响应时间 ==========

// ResponseTimeMetric 响应时间阶梯评分
type ResponseTimeMetric struct {
	thresholds []config.LatencyThreshold
	floor      float64
}

// NewResponseTimeMetric 创建响应时间指标
func NewResponseTimeMetric(thresholds []config.LatencyThreshold, floor float64) *ResponseTimeMetric {
	return &ResponseTimeMetric{thresholds: thresholds, floor: floor}
}

// Compute 计算响应时间得分
func (m *ResponseTimeMetric) Compute(input *MetricInput) float64 {
	ms := input.Latency.Milliseconds()
	for _, th := range m.thresholds {
		if ms <= th.MaxMs {
			return th.Score
		}
	}
	return m.floor
}

// Name 返回指标名称
func (m *ResponseTimeMetric) Name() string {
	return "response_time"
}
