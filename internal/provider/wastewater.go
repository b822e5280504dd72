package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/models"
)

const sodaBaseURL = "https://data.cdc.gov/resource"

// nwssDataset describes one CDC NWSS wastewater dataset.
type nwssDataset struct {
	pathogen  models.Pathogen
	datasetID string
	pcrTarget string
}

// nwssDatasets are the per-pathogen NWSS concentration datasets.
var nwssDatasets = []nwssDataset{
	{pathogen: models.PathogenCovid, datasetID: "j9g8-acpt", pcrTarget: "sars-cov-2"},
	{pathogen: models.PathogenFlu, datasetID: "ymmh-divb", pcrTarget: "fluav"},
	{pathogen: models.PathogenRSV, datasetID: "45cq-cw4i", pcrTarget: "rsv"},
}

// WastewaterProvider ingests CDC NWSS wastewater concentration data for a
// county, scores each pathogen, and rolls them up into one snapshot.
type WastewaterProvider struct {
	baseURL      string
	client       *fetchClient
	lookbackDays int
}

// NewWastewaterProvider creates a WastewaterProvider. appToken is the optional
// Socrata app token; timeout bounds each upstream HTTP call.
func NewWastewaterProvider(appToken string, timeout time.Duration) *WastewaterProvider {
	return &WastewaterProvider{
		baseURL:      sodaBaseURL,
		client:       newFetchClient(models.SignalWastewater, appToken, timeout),
		lookbackDays: 120,
	}
}

// NewWastewaterProviderWithURL is used by tests to point at an httptest server.
func NewWastewaterProviderWithURL(baseURL string, timeout time.Duration) *WastewaterProvider {
	p := NewWastewaterProvider("", timeout)
	p.baseURL = baseURL
	return p
}

func (p *WastewaterProvider) SignalType() models.SignalType { return models.SignalWastewater }

type nwssRow struct {
	SampleCollectDate string `json:"sample_collect_date"`
	CountyFIPS        string `json:"county_fips"`
	PCRTarget         string `json:"pcr_target"`
	AvgConc           string `json:"pcr_target_avg_conc"`
	AvgConcLin        string `json:"pcr_target_avg_conc_lin"`
	Units             string `json:"pcr_target_units"`
}

// pathogenResult is the scored outcome for one pathogen's series.
type pathogenResult struct {
	Pathogen    models.Pathogen   `json:"pathogen"`
	DatasetID   string            `json:"dataset_id"`
	PCRTarget   string            `json:"pcr_target"`
	DailyPoints int               `json:"daily_points"`
	Last7Median *float64          `json:"last7_median"`
	Prev7Median *float64          `json:"prev7_median"`
	Risk        models.RiskLevel  `json:"risk"`
	Trend       models.Trend      `json:"trend"`
	Confidence  models.Confidence `json:"confidence"`
	Composite   float64           `json:"composite_score"`
}

type wastewaterPayload struct {
	ZipCode     string           `json:"zip_code"`
	Place       string           `json:"place"`
	StateAbbr   string           `json:"state_abbr"`
	StateName   string           `json:"state_name"`
	CountyName  string           `json:"county_name"`
	CountyFIPS  string           `json:"county_fips"`
	GeneratedAt time.Time        `json:"generated_at"`
	WindowDays  int              `json:"window_days"`
	Results     []pathogenResult `json:"results"`
	Rollup      rollup           `json:"rollup"`
}

type rollup struct {
	OverallLevel      models.RiskLevel  `json:"overall_level"`
	OverallTrend      models.Trend      `json:"overall_trend"`
	OverallConfidence models.Confidence `json:"overall_confidence"`
	OverallScore      float64           `json:"overall_score"`
}

// Fetch implements Provider.
func (p *WastewaterProvider) Fetch(ctx context.Context, geo models.Geography) (*models.SignalSnapshot, error) {
	now := time.Now().UTC()
	results := make([]pathogenResult, 0, len(nwssDatasets))
	anyData := false

	for _, ds := range nwssDatasets {
		rows, err := p.fetchSeries(ctx, ds, geo.CountyFIPS)
		if err != nil {
			return nil, fmt.Errorf("wastewater %s: %w", ds.pathogen, err)
		}
		res := scorePathogenSeries(ds, rows, now)
		if res.DailyPoints > 0 {
			anyData = true
		}
		results = append(results, res)
	}
	if !anyData {
		return nil, fmt.Errorf("%w: no wastewater samples for county %s", ErrNoData, geo.CountyFIPS)
	}

	ru := rollupResults(results)
	payload := wastewaterPayload{
		ZipCode:     geo.ZipCode,
		Place:       geo.Place,
		StateAbbr:   geo.StateAbbr,
		StateName:   geo.StateName,
		CountyName:  geo.CountyName,
		CountyFIPS:  geo.CountyFIPS,
		GeneratedAt: now,
		WindowDays:  p.lookbackDays,
		Results:     results,
		Rollup:      ru,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode payload: %v", ErrMalformed, err)
	}

	return &models.SignalSnapshot{
		ZipCode:        geo.ZipCode,
		SignalType:     models.SignalWastewater,
		GeneratedAt:    now,
		Payload:        raw,
		GeoLevel:       geo.GeoLevel,
		GeoID:          geo.GeoID,
		State:          geo.StateAbbr,
		CountyFIPS:     geo.CountyFIPS,
		RiskLevel:      ru.OverallLevel,
		Trend:          ru.OverallTrend,
		Confidence:     ru.OverallConfidence,
		CompositeScore: ru.OverallScore,
	}, nil
}

func (p *WastewaterProvider) fetchSeries(ctx context.Context, ds nwssDataset, countyFIPS string) ([]nwssRow, error) {
	since := time.Now().UTC().AddDate(0, 0, -p.lookbackDays).Format("2006-01-02")
	where := fmt.Sprintf("sample_collect_date >= '%s' AND county_fips = '%s' AND pcr_target = '%s'",
		since, countyFIPS, ds.pcrTarget)

	params := url.Values{}
	params.Set("$where", where)
	params.Set("$order", "sample_collect_date DESC")
	params.Set("$limit", "5000")
	params.Set("$select", "sample_collect_date,county_fips,pcr_target,pcr_target_avg_conc,pcr_target_avg_conc_lin,pcr_target_units")

	var rows []nwssRow
	u := fmt.Sprintf("%s/%s.json?%s", p.baseURL, ds.datasetID, params.Encode())
	if err := p.client.getJSON(ctx, u, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// scorePathogenSeries reduces raw samples to daily medians and scores the
// recent window against the prior one. Linear-scale concentration is
// preferred; log-scale is the fallback.
func scorePathogenSeries(ds nwssDataset, rows []nwssRow, now time.Time) pathogenResult {
	byDay := make(map[string][]float64)
	for _, r := range rows {
		day := r.SampleCollectDate
		if len(day) > 10 {
			day = day[:10]
		}
		if day == "" {
			continue
		}
		val, ok := parseConc(r)
		if !ok {
			continue
		}
		byDay[day] = append(byDay[day], val)
	}

	days := make([]string, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Strings(days)

	daily := make([]float64, 0, len(days))
	var last7, prev7 []float64
	cutLast := now.AddDate(0, 0, -7).Format("2006-01-02")
	cutPrev := now.AddDate(0, 0, -14).Format("2006-01-02")
	for _, d := range days {
		m, _ := median(byDay[d])
		daily = append(daily, m)
		switch {
		case d >= cutLast:
			last7 = append(last7, m)
		case d >= cutPrev:
			prev7 = append(prev7, m)
		}
	}

	res := pathogenResult{
		Pathogen:  ds.pathogen,
		DatasetID: ds.datasetID,
		PCRTarget: ds.pcrTarget,

		DailyPoints: len(daily),
		Risk:        models.RiskUnknown,
		Trend:       models.TrendUnknown,
		Confidence:  models.ConfidenceLow,
	}
	lastMed, lastOK := median(last7)
	prevMed, prevOK := median(prev7)
	if lastOK {
		res.Last7Median = &lastMed
	}
	if prevOK {
		res.Prev7Median = &prevMed
	}
	if !lastOK {
		return res
	}

	res.Risk = riskFromPercentile(lastMed, daily)
	res.Trend = trendFromMedians(lastMed, prevMed, prevOK)
	res.Confidence = confidenceFromPoints(len(last7) + len(prev7))
	res.Composite = compositeScore(res.Risk, res.Trend, res.Confidence)
	return res
}

func parseConc(r nwssRow) (float64, bool) {
	if v, err := strconv.ParseFloat(r.AvgConcLin, 64); err == nil {
		return v, true
	}
	if v, err := strconv.ParseFloat(r.AvgConc, 64); err == nil {
		return v, true
	}
	return 0, false
}

// riskFromPercentile places the recent median within the full-window daily
// distribution: >= p80 is high, >= p50 moderate, below low.
func riskFromPercentile(recent float64, daily []float64) models.RiskLevel {
	if len(daily) == 0 {
		return models.RiskUnknown
	}
	below := 0
	for _, v := range daily {
		if v < recent {
			below++
		}
	}
	pct := float64(below) / float64(len(daily))
	switch {
	case pct >= 0.8:
		return models.RiskHigh
	case pct >= 0.5:
		return models.RiskModerate
	default:
		return models.RiskLow
	}
}

// rollupResults folds per-pathogen results into the snapshot-level summary:
// worst risk, dominant trend direction, weakest confidence, best composite.
func rollupResults(results []pathogenResult) rollup {
	ru := rollup{
		OverallLevel:      models.RiskUnknown,
		OverallTrend:      models.TrendUnknown,
		OverallConfidence: models.ConfidenceHigh,
	}
	trendSum := 0
	scored := false
	for _, r := range results {
		if r.Risk == models.RiskUnknown {
			continue
		}
		scored = true
		if rankRisk(r.Risk) > rankRisk(ru.OverallLevel) {
			ru.OverallLevel = r.Risk
		}
		if rankConfidence(r.Confidence) < rankConfidence(ru.OverallConfidence) {
			ru.OverallConfidence = r.Confidence
		}
		if r.Composite > ru.OverallScore {
			ru.OverallScore = r.Composite
		}
		switch r.Trend {
		case models.TrendRising:
			trendSum++
		case models.TrendFalling:
			trendSum--
		}
	}
	if !scored {
		ru.OverallConfidence = models.ConfidenceLow
		return ru
	}
	switch {
	case trendSum > 0:
		ru.OverallTrend = models.TrendRising
	case trendSum < 0:
		ru.OverallTrend = models.TrendFalling
	default:
		ru.OverallTrend = models.TrendFlat
	}
	return ru
}

func rankRisk(r models.RiskLevel) int {
	switch r {
	case models.RiskLow:
		return 1
	case models.RiskModerate:
		return 2
	case models.RiskHigh:
		return 3
	default:
		return 0
	}
}

func rankConfidence(c models.Confidence) int {
	switch c {
	case models.ConfidenceModerate:
		return 2
	case models.ConfidenceHigh:
		return 3
	default:
		return 1
	}
}

