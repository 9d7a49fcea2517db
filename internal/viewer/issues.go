package viewer

import (
	"fmt"
	"math"

	"github.com/code-o-holic/ai-toolkit-telemetry/internal/telemetry"
)

// IssueSeverity represents the urgency of a detected training issue.
type IssueSeverity string

const (
	SeverityHigh   IssueSeverity = "high"
	SeverityMedium IssueSeverity = "medium"
	SeverityLow    IssueSeverity = "low"
)

// Issue is one advisory signal for a human operator. Issues never alter
// training control flow.
type Issue struct {
	Code     string
	Severity IssueSeverity
	Message  string
}

// IssueThresholds configures the windowed detector.
type IssueThresholds struct {
	Window         int     `yaml:"window" json:"window"`
	PlateauWindow  int     `yaml:"plateau_window" json:"plateau_window"`
	PlateauStdFrac float64 `yaml:"plateau_std_frac" json:"plateau_std_frac"`
	PlateauMinMean float64 `yaml:"plateau_min_mean" json:"plateau_min_mean"`
	MaxGradNorm    float64 `yaml:"max_grad_norm" json:"max_grad_norm"`
	MinGPUMemGiB   float64 `yaml:"min_gpu_mem_gib" json:"min_gpu_mem_gib"`
	OverfitRatio   float64 `yaml:"overfit_ratio" json:"overfit_ratio"`
	OverfitSamples int     `yaml:"overfit_samples" json:"overfit_samples"`
}

// DefaultIssueThresholds returns the detector's standard tuning.
func DefaultIssueThresholds() IssueThresholds {
	return IssueThresholds{
		Window:         50,
		PlateauWindow:  20,
		PlateauStdFrac: 0.01,
		PlateauMinMean: 0.001,
		MaxGradNorm:    10.0,
		MinGPUMemGiB:   1.0,
		OverfitRatio:   1.1,
		OverfitSamples: 5,
	}
}

// DetectIssues inspects the step records of a run and returns advisory
// issues. All checks except overfitting operate on the most recent Window
// step records; overfitting looks at validation losses across the whole run.
// Recomputed on every refresh, read-only.
func DetectIssues(records []telemetry.Record, th IssueThresholds) []Issue {
	steps := Steps(records)
	if len(steps) == 0 {
		return nil
	}

	recent := steps
	if len(recent) > th.Window {
		recent = recent[len(recent)-th.Window:]
	}

	var issues []Issue
	issues = append(issues, checkNaNInf(recent)...)
	issues = append(issues, checkPlateau(recent, th)...)
	issues = append(issues, checkGradNorm(recent, th)...)
	issues = append(issues, checkGPUUtilization(recent, th)...)
	issues = append(issues, checkOverfitting(steps, th)...)
	return issues
}

func checkNaNInf(recent []telemetry.Record) []Issue {
	count := 0
	for _, r := range recent {
		if r.Bool("nan_inf_detected") {
			count++
		}
	}
	if count == 0 {
		return nil
	}
	return []Issue{{
		Code:     "nan_inf",
		Severity: SeverityHigh,
		Message:  fmt.Sprintf("NaN/Inf detected in %d recent steps", count),
	}}
}

func checkPlateau(recent []telemetry.Record, th IssueThresholds) []Issue {
	var losses []float64
	for _, r := range recent {
		if v, ok := r.Float("train_loss"); ok && !math.IsNaN(v) && !math.IsInf(v, 0) {
			losses = append(losses, v)
		}
	}
	if len(losses) < th.PlateauWindow {
		return nil
	}
	window := losses[len(losses)-th.PlateauWindow:]
	m := mean(window)
	sd := stdDev(window, m)
	if sd < th.PlateauStdFrac*math.Abs(m) && m > th.PlateauMinMean {
		return []Issue{{
			Code:     "loss_plateau",
			Severity: SeverityMedium,
			Message:  "potential loss plateau detected",
		}}
	}
	return nil
}

func checkGradNorm(recent []telemetry.Record, th IssueThresholds) []Issue {
	maxGrad := math.Inf(-1)
	found := false
	for _, r := range recent {
		if v, ok := r.Float("grad_norm"); ok {
			found = true
			if v > maxGrad {
				maxGrad = v
			}
		}
	}
	if !found || maxGrad <= th.MaxGradNorm {
		return nil
	}
	return []Issue{{
		Code:     "exploding_gradient",
		Severity: SeverityHigh,
		Message:  fmt.Sprintf("high gradient norm detected: %.2f", maxGrad),
	}}
}

func checkGPUUtilization(recent []telemetry.Record, th IssueThresholds) []Issue {
	maxUsage := math.Inf(-1)
	found := false
	for _, r := range recent {
		if v, ok := r.Float("gpu_mem_allocated"); ok {
			found = true
			if v > maxUsage {
				maxUsage = v
			}
		}
	}
	if !found || maxUsage >= th.MinGPUMemGiB {
		return nil
	}
	return []Issue{{
		Code:     "low_gpu_utilization",
		Severity: SeverityLow,
		Message:  "potentially low GPU utilization",
	}}
}

func checkOverfitting(steps []telemetry.Record, th IssueThresholds) []Issue {
	var valLosses []float64
	for _, r := range steps {
		if v, ok := r.Float("val_loss"); ok {
			valLosses = append(valLosses, v)
		}
	}
	n := th.OverfitSamples
	if len(valLosses) < 2*n {
		return nil
	}
	recent := valLosses[len(valLosses)-n:]
	earlier := valLosses[len(valLosses)-2*n : len(valLosses)-n]
	if mean(recent) > mean(earlier)*th.OverfitRatio {
		return []Issue{{
			Code:     "overfitting",
			Severity: SeverityMedium,
			Message:  "potential overfitting detected",
		}}
	}
	return nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stdDev is the population standard deviation.
func stdDev(xs []float64, m float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}
