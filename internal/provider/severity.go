package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/models"
)

// delphiFluViewClinicalURL is the Delphi Epidata FluView Clinical endpoint
// (weekly clinical lab percent-positive by state).
const delphiFluViewClinicalURL = "https://api.delphi.cmu.edu/epidata/fluview_clinical/"

// SeverityProvider ingests clinical lab flu positivity for a state as a
// severity index: absolute positivity level sets risk, recent movement sets
// trend.
type SeverityProvider struct {
	baseURL string
	client  *fetchClient
	weeks   int
}

// NewSeverityProvider creates a SeverityProvider with the given lookback window.
func NewSeverityProvider(weeks int, timeout time.Duration) *SeverityProvider {
	if weeks <= 0 {
		weeks = 16
	}
	return &SeverityProvider{
		baseURL: delphiFluViewClinicalURL,
		client:  newFetchClient(models.SignalSeverity, "", timeout),
		weeks:   weeks,
	}
}

// NewSeverityProviderWithURL is used by tests to point at an httptest server.
func NewSeverityProviderWithURL(baseURL string, weeks int, timeout time.Duration) *SeverityProvider {
	p := NewSeverityProvider(weeks, timeout)
	p.baseURL = baseURL
	return p
}

func (p *SeverityProvider) SignalType() models.SignalType { return models.SignalSeverity }

type clinicalRow struct {
	Epiweek         int      `json:"epiweek"`
	PercentPositive *float64 `json:"percent_positive"`
}

type severityPoint struct {
	Epiweek         int     `json:"epiweek"`
	PercentPositive float64 `json:"percent_positive"`
}

type severityPayload struct {
	ZipCode       string            `json:"zip_code"`
	StateAbbr     string            `json:"state_abbr"`
	Region        string            `json:"region"`
	GeneratedAt   time.Time         `json:"generated_at"`
	Metric        string            `json:"metric"`
	LookbackWeeks int               `json:"lookback_weeks"`
	Last3Median   *float64          `json:"last3_median"`
	Prev3Median   *float64          `json:"prev3_median"`
	Risk          models.RiskLevel  `json:"risk"`
	Trend         models.Trend      `json:"trend"`
	Confidence    models.Confidence `json:"confidence"`
	Recent        []severityPoint   `json:"recent"`
}

// Fetch implements Provider. Severity is a state-level signal.
func (p *SeverityProvider) Fetch(ctx context.Context, geo models.Geography) (*models.SignalSnapshot, error) {
	region := strings.ToLower(geo.StateAbbr)
	if region == "" {
		return nil, fmt.Errorf("%w: no state for zip %s", ErrNoData, geo.ZipCode)
	}

	startWeek, endWeek := epiweekRange(p.weeks, time.Now().UTC())
	params := url.Values{}
	params.Set("regions", region)
	params.Set("epiweeks", fmt.Sprintf("%d-%d", startWeek, endWeek))

	var resp delphiResponse
	if err := p.client.getJSON(ctx, p.baseURL+"?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("severity: %w", err)
	}
	if resp.Result != 1 {
		return nil, fmt.Errorf("%w: delphi result=%d message=%s", ErrNoData, resp.Result, resp.Message)
	}

	var points []severityPoint
	for _, raw := range resp.Epidata {
		var row clinicalRow
		if err := json.Unmarshal(raw, &row); err != nil || row.PercentPositive == nil {
			continue
		}
		points = append(points, severityPoint{Epiweek: row.Epiweek, PercentPositive: *row.PercentPositive})
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: no clinical lab records for region %s", ErrNoData, region)
	}

	values := make([]float64, len(points))
	for i, pt := range points {
		values[i] = pt.PercentPositive
	}
	last3, lastOK := median(lastN(values, 3))
	prev3, prevOK := median(lastN(values[:max(0, len(values)-3)], 3))

	risk, trend, conf := assessSeverity(last3, lastOK, prev3, prevOK)
	composite := compositeScore(risk, trend, conf)

	now := time.Now().UTC()
	recent := points
	if len(recent) > 12 {
		recent = recent[len(recent)-12:]
	}
	payload := severityPayload{
		ZipCode:       geo.ZipCode,
		StateAbbr:     geo.StateAbbr,
		Region:        region,
		GeneratedAt:   now,
		Metric:        "percent_positive",
		LookbackWeeks: p.weeks,
		Risk:          risk,
		Trend:         trend,
		Confidence:    conf,
		Recent:        recent,
	}
	if lastOK {
		payload.Last3Median = &last3
	}
	if prevOK {
		payload.Prev3Median = &prev3
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode payload: %v", ErrMalformed, err)
	}

	return &models.SignalSnapshot{
		ZipCode:        geo.ZipCode,
		SignalType:     models.SignalSeverity,
		GeneratedAt:    now,
		Payload:        raw,
		Pathogen:       models.PathogenFlu,
		GeoLevel:       "state",
		GeoID:          region,
		State:          geo.StateAbbr,
		CountyFIPS:     geo.CountyFIPS,
		RiskLevel:      risk,
		Trend:          trend,
		Confidence:     conf,
		CompositeScore: composite,
	}, nil
}

// assessSeverity maps percent-positive level and movement to scoring fields.
// 15%+ positivity is high, 5%+ moderate, else low.
func assessSeverity(last3 float64, lastOK bool, prev3 float64, prevOK bool) (models.RiskLevel, models.Trend, models.Confidence) {
	if !lastOK {
		return models.RiskUnknown, models.TrendUnknown, models.ConfidenceLow
	}
	var risk models.RiskLevel
	switch {
	case last3 >= 15:
		risk = models.RiskHigh
	case last3 >= 5:
		risk = models.RiskModerate
	default:
		risk = models.RiskLow
	}
	if !prevOK {
		return risk, models.TrendUnknown, models.ConfidenceLow
	}
	return risk, trendFromMedians(last3, prev3, true), models.ConfidenceHigh
}
