package provider

import (
	"testing"

	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/models"
)

func TestCompositeScore(t *testing.T) {
	tests := []struct {
		name string
		risk models.RiskLevel
		tr   models.Trend
		conf models.Confidence
		want float64
	}{
		{
			name: "high rising high-confidence caps at 1",
			risk: models.RiskHigh,
			tr:   models.TrendRising,
			conf: models.ConfidenceHigh,
			want: 1.0,
		},
		{
			name: "high falling high-confidence",
			risk: models.RiskHigh,
			tr:   models.TrendFalling,
			conf: models.ConfidenceHigh,
			want: 0.75,
		},
		{
			name: "moderate flat moderate-confidence",
			risk: models.RiskModerate,
			tr:   models.TrendFlat,
			conf: models.ConfidenceModerate,
			want: 0.42,
		},
		{
			name: "low falling clamps at 0",
			risk: models.RiskLow,
			tr:   models.TrendFalling,
			conf: models.ConfidenceHigh,
			want: 0.0,
		},
		{
			name: "unknown risk low confidence",
			risk: models.RiskUnknown,
			tr:   models.TrendUnknown,
			conf: models.ConfidenceLow,
			want: 0.0,
		},
		{
			name: "low-confidence high never outranks high-confidence moderate",
			risk: models.RiskHigh,
			tr:   models.TrendFlat,
			conf: models.ConfidenceLow,
			want: 0.4,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := compositeScore(tc.risk, tc.tr, tc.conf)
			if got != tc.want {
				t.Errorf("compositeScore(%s, %s, %s) = %v, want %v", tc.risk, tc.tr, tc.conf, got, tc.want)
			}
		})
	}
}

func TestTrendFromMedians(t *testing.T) {
	tests := []struct {
		name    string
		recent  float64
		prior   float64
		priorOK bool
		want    models.Trend
	}{
		{name: "rising above 15 percent", recent: 120, prior: 100, priorOK: true, want: models.TrendRising},
		{name: "falling below 15 percent", recent: 80, prior: 100, priorOK: true, want: models.TrendFalling},
		{name: "flat within band", recent: 105, prior: 100, priorOK: true, want: models.TrendFlat},
		{name: "exact rising boundary", recent: 115, prior: 100, priorOK: true, want: models.TrendRising},
		{name: "no prior window", recent: 100, prior: 0, priorOK: false, want: models.TrendUnknown},
		{name: "zero prior", recent: 100, prior: 0, priorOK: true, want: models.TrendUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := trendFromMedians(tc.recent, tc.prior, tc.priorOK)
			if got != tc.want {
				t.Errorf("trendFromMedians(%v, %v, %v) = %s, want %s", tc.recent, tc.prior, tc.priorOK, got, tc.want)
			}
		})
	}
}

func TestRiskFromPercentile(t *testing.T) {
	daily := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	tests := []struct {
		name   string
		recent float64
		want   models.RiskLevel
	}{
		{name: "top of distribution", recent: 10, want: models.RiskHigh},
		{name: "middle of distribution", recent: 7, want: models.RiskModerate},
		{name: "bottom of distribution", recent: 2, want: models.RiskLow},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := riskFromPercentile(tc.recent, daily)
			if got != tc.want {
				t.Errorf("riskFromPercentile(%v) = %s, want %s", tc.recent, got, tc.want)
			}
		})
	}

	if got := riskFromPercentile(5, nil); got != models.RiskUnknown {
		t.Errorf("riskFromPercentile with empty baseline = %s, want unknown", got)
	}
}

func TestRollupDirection(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		want   string
	}{
		{name: "all increasing", labels: []string{"Increasing", "Increasing", "Increasing"}, want: "increasing"},
		{name: "mixed leans down", labels: []string{"Decreasing", "Decreasing", "Increasing"}, want: "decreasing"},
		{name: "balanced", labels: []string{"Increasing", "Decreasing", "No Change"}, want: "no change"},
		{name: "all unavailable", labels: []string{"Data Unavailable", "Data Unavailable", "Data Unavailable"}, want: "unknown"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := rollupDirection(tc.labels...)
			if got != tc.want {
				t.Errorf("rollupDirection(%v) = %q, want %q", tc.labels, got, tc.want)
			}
		})
	}
}

func TestTrendFromDirections(t *testing.T) {
	tests := []struct {
		name string
		prev string
		cur  string
		want models.Trend
	}{
		{name: "worsening", prev: "no change", cur: "increasing", want: models.TrendRising},
		{name: "improving", prev: "increasing", cur: "decreasing", want: models.TrendFalling},
		{name: "steady", prev: "no change", cur: "no change", want: models.TrendFlat},
		{name: "unknown prev", prev: "", cur: "increasing", want: models.TrendUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := trendFromDirections(tc.prev, tc.cur)
			if got != tc.want {
				t.Errorf("trendFromDirections(%q, %q) = %s, want %s", tc.prev, tc.cur, got, tc.want)
			}
		})
	}
}
