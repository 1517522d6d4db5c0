// Package detector classifies a current metric value against a baseline
// using the monitor's threshold policy.
package detector

import (
	"github.com/incidentwatch/sentinel/internal/models"
)

// Result describes a detected anomaly. A nil Result means no anomaly.
type Result struct {
	Severity            models.Severity
	CurrentValue        float64
	BaselineValue       float64
	ThresholdValue      float64
	DeviationPercentage float64
}

// Detect applies the monitor's threshold to currentValue. Deviation is
// always computed against the baseline regardless of threshold type. A
// zero baseline yields no anomaly except in absolute mode.
func Detect(monitor *models.Monitor, currentValue float64, baseline *models.Baseline) *Result {
	threshold := monitor.Threshold
	baseValue := baseline.AverageValue

	deviation := 0.0
	if baseValue != 0 {
		deviation = (currentValue - baseValue) / baseValue * 100
	}

	switch threshold.Type {
	case models.ThresholdAbsolute:
		if currentValue > threshold.Critical {
			return &Result{
				Severity:            models.SeverityCritical,
				CurrentValue:        currentValue,
				BaselineValue:       baseValue,
				ThresholdValue:      threshold.Critical,
				DeviationPercentage: deviation,
			}
		}
		if currentValue > threshold.Warning {
			return &Result{
				Severity:            models.SeverityHigh,
				CurrentValue:        currentValue,
				BaselineValue:       baseValue,
				ThresholdValue:      threshold.Warning,
				DeviationPercentage: deviation,
			}
		}
		return nil

	case models.ThresholdPercentage:
		if baseValue == 0 {
			return nil
		}
		abs := deviation
		if abs < 0 {
			abs = -abs
		}
		severity, ok := grade(abs, threshold.Warning, threshold.Critical)
		if !ok {
			return nil
		}
		return &Result{
			Severity:            severity,
			CurrentValue:        currentValue,
			BaselineValue:       baseValue,
			ThresholdValue:      baseValue * (1 + threshold.Critical/100),
			DeviationPercentage: deviation,
		}

	case models.ThresholdMultiplier:
		if baseValue == 0 {
			return nil
		}
		ratio := currentValue / baseValue
		severity, ok := grade(ratio, threshold.Warning, threshold.Critical)
		if !ok {
			return nil
		}
		return &Result{
			Severity:            severity,
			CurrentValue:        currentValue,
			BaselineValue:       baseValue,
			ThresholdValue:      baseValue * threshold.Critical,
			DeviationPercentage: deviation,
		}

	default:
		return nil
	}
}

// grade maps a magnitude to a severity; below warning is no anomaly.
func grade(value, warning, critical float64) (models.Severity, bool) {
	switch {
	case value > critical:
		return models.SeverityCritical, true
	case value > warning:
		return models.SeverityHigh, true
	default:
		return "", false
	}
}
