package experiment

import (
	"math"

	"github.com/ashwinyue/next-prompt/internal/model"
)

// WelchPValue 两组均值差的双侧 Welch z 检验 p 值
// 任一组样本少于 2 时无法估计方差，返回 nil
func WelchPValue(control, treatment model.ArmStats) *float64 {
	if control.Executions < 2 || treatment.Executions < 2 {
		return nil
	}

	se := math.Sqrt(control.StdDev*control.StdDev/float64(control.Executions) +
		treatment.StdDev*treatment.StdDev/float64(treatment.Executions))
	diff := treatment.MeanScore - control.MeanScore

	var p float64
	switch {
	case se == 0 && diff == 0:
		p = 1
	case se == 0:
		p = 0
	default:
		z := math.Abs(diff) / se
		p = math.Erfc(z / math.Sqrt2)
	}
	return &p
}
