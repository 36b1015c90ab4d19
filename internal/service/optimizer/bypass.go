package optimizer

import "fmt"

// BypassReason 跳过优化路径的原因
type BypassReason string

const (
	ReasonNoVariant            BypassReason = "no_variant"
	ReasonSelectionError       BypassReason = "selection_error"
	ReasonInferenceFailure     BypassReason = "inference_failure"
	ReasonScoringInconsistency BypassReason = "scoring_inconsistency"
)

// OptimizationBypassed 输出由兜底路径产生
type OptimizationBypassed struct {
	Reason BypassReason `json:"reason"`
	Cause  error        `json:"-"`
}

func (b *OptimizationBypassed) Error() string {
	if b.Cause == nil {
		return fmt.Sprintf("optimization bypassed: %s", b.Reason)
	}
	return fmt.Sprintf("optimization bypassed: %s: %v", b.Reason, b.Cause)
}

func (b *OptimizationBypassed) Unwrap() error {
	return b.Cause
}
