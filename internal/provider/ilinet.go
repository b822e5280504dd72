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

// delphiFluViewURL is the Delphi Epidata FluView endpoint (weekly ILINet
// outpatient surveillance, state level).
const delphiFluViewURL = "https://api.delphi.cmu.edu/epidata/fluview/"

// ILINetProvider ingests Delphi FluView ILINet weekly influenza-like-illness
// rates for a state. wILI is preferred; unweighted ILI is the fallback.
type ILINetProvider struct {
	baseURL string
	client  *fetchClient
	weeks   int
}

// NewILINetProvider creates an ILINetProvider with the given lookback window.
func NewILINetProvider(weeks int, timeout time.Duration) *ILINetProvider {
	if weeks <= 0 {
		weeks = 16
	}
	return &ILINetProvider{
		baseURL: delphiFluViewURL,
		client:  newFetchClient(models.SignalILINet, "", timeout),
		weeks:   weeks,
	}
}

// NewILINetProviderWithURL is used by tests to point at an httptest server.
func NewILINetProviderWithURL(baseURL string, weeks int, timeout time.Duration) *ILINetProvider {
	p := NewILINetProvider(weeks, timeout)
	p.baseURL = baseURL
	return p
}

func (p *ILINetProvider) SignalType() models.SignalType { return models.SignalILINet }

type delphiResponse struct {
	Result  int               `json:"result"`
	Message string            `json:"message"`
	Epidata []json.RawMessage `json:"epidata"`
}

type ilinetRow struct {
	Epiweek int      `json:"epiweek"`
	WILI    *float64 `json:"wili"`
	ILI     *float64 `json:"ili"`
}

type ilinetPoint struct {
	Epiweek int     `json:"epiweek"`
	Value   float64 `json:"value"`
	Metric  string  `json:"metric"`
}

type ilinetPayload struct {
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
	Recent        []ilinetPoint     `json:"recent"`
}

// Fetch implements Provider. ILINet is a state-level signal; the county
// portion of the geography is unused.
func (p *ILINetProvider) Fetch(ctx context.Context, geo models.Geography) (*models.SignalSnapshot, error) {
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
		return nil, fmt.Errorf("ilinet: %w", err)
	}
	if resp.Result != 1 {
		return nil, fmt.Errorf("%w: delphi result=%d message=%s", ErrNoData, resp.Result, resp.Message)
	}

	points, metric := parseILINetRows(resp.Epidata)
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: no ILINet records for region %s", ErrNoData, region)
	}

	values := make([]float64, len(points))
	for i, pt := range points {
		values[i] = pt.Value
	}
	last3, lastOK := median(lastN(values, 3))
	prev3, prevOK := median(lastN(values[:max(0, len(values)-3)], 3))

	risk := models.RiskUnknown
	if lastOK {
		risk = riskFromPercentile(last3, values)
	}
	trend := models.TrendUnknown
	if lastOK {
		trend = trendFromMedians(last3, prev3, prevOK)
	}
	conf := confidenceFromPoints(len(points))
	composite := compositeScore(risk, trend, conf)

	now := time.Now().UTC()
	recent := points
	if len(recent) > 12 {
		recent = recent[len(recent)-12:]
	}
	payload := ilinetPayload{
		ZipCode:       geo.ZipCode,
		StateAbbr:     geo.StateAbbr,
		Region:        region,
		GeneratedAt:   now,
		Metric:        metric,
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
		SignalType:     models.SignalILINet,
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

// parseILINetRows decodes epidata rows oldest-first, preferring wili over ili.
func parseILINetRows(rows []json.RawMessage) ([]ilinetPoint, string) {
	var points []ilinetPoint
	metric := "wili"
	for _, raw := range rows {
		var row ilinetRow
		if err := json.Unmarshal(raw, &row); err != nil {
			continue
		}
		switch {
		case row.WILI != nil:
			points = append(points, ilinetPoint{Epiweek: row.Epiweek, Value: *row.WILI, Metric: "wili"})
		case row.ILI != nil:
			metric = "ili"
			points = append(points, ilinetPoint{Epiweek: row.Epiweek, Value: *row.ILI, Metric: "ili"})
		}
	}
	return points, metric
}

func lastN(vals []float64, n int) []float64 {
	if len(vals) <= n {
		return vals
	}
	return vals[len(vals)-n:]
}

// epiweekRange approximates the Delphi epiweek window using ISO calendar
// weeks, returning (start, end) as YYYYWW.
func epiweekRange(weeks int, now time.Time) (int, int) {
	endYear, endWeek := now.ISOWeek()
	y, w := endYear, endWeek
	for i := 0; i < weeks; i++ {
		w--
		if w <= 0 {
			y--
			// ISO week count of the prior year
			_, w = time.Date(y, 12, 28, 0, 0, 0, 0, time.UTC).ISOWeek()
		}
	}
	return y*100 + w, endYear*100 + endWeek
}
