package provider

import (
	"math"
	"sort"

	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/models"
)

func median(vals []float64) (float64, bool) {
	if len(vals) == 0 {
		return 0, false
	}
	v := append([]float64(nil), vals...)
	sort.Float64s(v)
	return v[len(v)/2], true
}

func riskScore(level models.RiskLevel) float64 {
	switch level {
	case models.RiskLow:
		return 0.25
	case models.RiskModerate:
		return 0.6
	case models.RiskHigh:
		return 1.0
	default:
		return 0.0
	}
}

func trendScore(trend models.Trend) float64 {
	switch trend {
	case models.TrendFalling:
		return -0.25
	case models.TrendRising:
		return 0.25
	default:
		return 0.0
	}
}

func confidenceScore(conf models.Confidence) float64 {
	switch conf {
	case models.ConfidenceModerate:
		return 0.7
	case models.ConfidenceHigh:
		return 1.0
	default:
		return 0.4
	}
}

// compositeScore folds risk, trend, and confidence into one [0,1] number.
// Risk sets the base, trend bumps it, and confidence downweights uncertain
// areas so a low-confidence "high" never outranks a high-confidence "moderate".
func compositeScore(level models.RiskLevel, trend models.Trend, conf models.Confidence) float64 {
	raw := riskScore(level) + trendScore(trend)
	if raw < 0 {
		raw = 0
	}
	if raw > 1 {
		raw = 1
	}
	return math.Round(raw*confidenceScore(conf)*1e6) / 1e6
}

// trendFromMedians classifies the short-term direction from the recent-window
// median against the prior-window median. Moves within 15% are flat.
func trendFromMedians(recent, prior float64, priorOK bool) models.Trend {
	if !priorOK || prior == 0 {
		return models.TrendUnknown
	}
	ratio := recent / prior
	switch {
	case ratio >= 1.15:
		return models.TrendRising
	case ratio <= 0.85:
		return models.TrendFalling
	default:
		return models.TrendFlat
	}
}

// confidenceFromPoints grades confidence by observation density in the window.
func confidenceFromPoints(points int) models.Confidence {
	switch {
	case points >= 10:
		return models.ConfidenceHigh
	case points >= 5:
		return models.ConfidenceModerate
	default:
		return models.ConfidenceLow
	}
}
