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

// nsspDatasetID is the CDC NSSP emergency department visit trajectory dataset.
// It reports weekly trend *direction* categories per county, not raw rates.
const nsspDatasetID = "rdmq-nq56"

var nsspPathogenField = map[models.Pathogen]string{
	models.PathogenCovid: "ed_trends_covid",
	models.PathogenFlu:   "ed_trends_influenza",
	models.PathogenRSV:   "ed_trends_rsv",
}

// directionRank orders NSSP trajectory labels for trend comparison.
var directionRank = map[string]int{
	"decreasing": 0,
	"no change":  1,
	"increasing": 2,
}

// NSSPProvider ingests the NSSP ED-visit trajectory dataset for a county.
type NSSPProvider struct {
	baseURL  string
	client   *fetchClient
	pathogen models.Pathogen
	weeks    int
}

// NewNSSPProvider creates an NSSPProvider. pathogen selects the trajectory
// column (combined rolls up covid+flu+rsv); weeks is the lookback window.
func NewNSSPProvider(appToken string, pathogen models.Pathogen, weeks int, timeout time.Duration) *NSSPProvider {
	if weeks <= 0 {
		weeks = 16
	}
	return &NSSPProvider{
		baseURL:  sodaBaseURL,
		client:   newFetchClient(models.SignalNSSPEDVisit, appToken, timeout),
		pathogen: pathogen,
		weeks:    weeks,
	}
}

// NewNSSPProviderWithURL is used by tests to point at an httptest server.
func NewNSSPProviderWithURL(baseURL string, pathogen models.Pathogen, weeks int, timeout time.Duration) *NSSPProvider {
	p := NewNSSPProvider("", pathogen, weeks, timeout)
	p.baseURL = baseURL
	return p
}

func (p *NSSPProvider) SignalType() models.SignalType { return models.SignalNSSPEDVisit }

type nsspRow struct {
	WeekEnd     string `json:"week_end"`
	FIPS        string `json:"fips"`
	Geography   string `json:"geography"`
	County      string `json:"county"`
	TrendCovid  string `json:"ed_trends_covid"`
	TrendFlu    string `json:"ed_trends_influenza"`
	TrendRSV    string `json:"ed_trends_rsv"`
	TrendSource string `json:"trend_source"`
}

type nsspPoint struct {
	WeekEnd string `json:"week_end"`
	Value   string `json:"value"`
	Metric  string `json:"metric"`
}

type nsspPayload struct {
	ZipCode       string            `json:"zip_code"`
	Place         string            `json:"place"`
	StateAbbr     string            `json:"state_abbr"`
	StateName     string            `json:"state_name"`
	CountyName    string            `json:"county_name"`
	CountyFIPS    string            `json:"county_fips"`
	GeneratedAt   time.Time         `json:"generated_at"`
	DatasetID     string            `json:"dataset_id"`
	Pathogen      models.Pathogen   `json:"pathogen"`
	MetricUsed    string            `json:"metric_used"`
	LookbackWeeks int               `json:"lookback_weeks"`
	Last3Mode     string            `json:"last3_mode"`
	Prev3Mode     string            `json:"prev3_mode"`
	Risk          models.RiskLevel  `json:"risk"`
	Trend         models.Trend      `json:"trend"`
	Confidence    models.Confidence `json:"confidence"`
	Scores        nsspScores        `json:"scores"`
	Recent        []nsspPoint       `json:"recent"`
	Note          string            `json:"note,omitempty"`
}

type nsspScores struct {
	CompositeScore float64 `json:"composite_score"`
}

// Fetch implements Provider.
func (p *NSSPProvider) Fetch(ctx context.Context, geo models.Geography) (*models.SignalSnapshot, error) {
	rows, err := p.fetchCounty(ctx, geo.CountyFIPS)
	if err != nil {
		return nil, fmt.Errorf("nssp ed visits: %w", err)
	}

	points := p.normalize(rows)
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: no NSSP ED trend records for county %s", ErrNoData, geo.CountyFIPS)
	}

	last3 := labelMode(points, 0, 3)
	prev3 := labelMode(points, 3, 6)
	risk := riskFromDirection(last3)
	trend := trendFromDirections(prev3, last3)
	conf := confidenceFromPoints(min(12, len(points)))
	composite := compositeScore(risk, trend, conf)

	note := ""
	if len(points) < 6 {
		note = "sparse weekly records; trend may be unreliable"
	}

	metric := "combined"
	if f, ok := nsspPathogenField[p.pathogen]; ok {
		metric = f
	}

	now := time.Now().UTC()
	recent := points
	if len(recent) > 12 {
		recent = recent[:12]
	}
	payload := nsspPayload{
		ZipCode:       geo.ZipCode,
		Place:         geo.Place,
		StateAbbr:     geo.StateAbbr,
		StateName:     geo.StateName,
		CountyName:    geo.CountyName,
		CountyFIPS:    geo.CountyFIPS,
		GeneratedAt:   now,
		DatasetID:     nsspDatasetID,
		Pathogen:      p.pathogen,
		MetricUsed:    metric,
		LookbackWeeks: p.weeks,
		Last3Mode:     last3,
		Prev3Mode:     prev3,
		Risk:          risk,
		Trend:         trend,
		Confidence:    conf,
		Scores:        nsspScores{CompositeScore: composite},
		Recent:        recent,
		Note:          note,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode payload: %v", ErrMalformed, err)
	}

	return &models.SignalSnapshot{
		ZipCode:        geo.ZipCode,
		SignalType:     models.SignalNSSPEDVisit,
		GeneratedAt:    now,
		Payload:        raw,
		Pathogen:       p.pathogen,
		GeoLevel:       geo.GeoLevel,
		GeoID:          geo.GeoID,
		State:          geo.StateAbbr,
		CountyFIPS:     geo.CountyFIPS,
		RiskLevel:      risk,
		Trend:          trend,
		Confidence:     conf,
		CompositeScore: composite,
	}, nil
}

func (p *NSSPProvider) fetchCounty(ctx context.Context, countyFIPS string) ([]nsspRow, error) {
	start := time.Now().UTC().AddDate(0, 0, -7*p.weeks).Format("2006-01-02")
	params := url.Values{}
	params.Set("$where", fmt.Sprintf("fips = '%s' AND week_end >= '%s'", countyFIPS, start))
	params.Set("$order", "week_end DESC")
	params.Set("$limit", "5000")

	var rows []nsspRow
	u := fmt.Sprintf("%s/%s.json?%s", p.baseURL, nsspDatasetID, params.Encode())
	if err := p.client.getJSON(ctx, u, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// normalize collapses rows to one point per week, newest first.
func (p *NSSPProvider) normalize(rows []nsspRow) []nsspPoint {
	seen := make(map[string]bool)
	var points []nsspPoint
	field, single := nsspPathogenField[p.pathogen]

	for _, row := range rows {
		week := row.WeekEnd
		if len(week) > 10 {
			week = week[:10]
		}
		if week == "" || seen[week] {
			continue
		}
		seen[week] = true

		var value, metric string
		if single {
			switch field {
			case "ed_trends_covid":
				value = normDirection(row.TrendCovid)
			case "ed_trends_influenza":
				value = normDirection(row.TrendFlu)
			case "ed_trends_rsv":
				value = normDirection(row.TrendRSV)
			}
			metric = field
		} else {
			value = rollupDirection(row.TrendCovid, row.TrendFlu, row.TrendRSV)
			metric = "combined"
		}
		if value == "" {
			value = "unknown"
		}
		points = append(points, nsspPoint{WeekEnd: week, Value: value, Metric: metric})
	}
	return points
}

func normDirection(s string) string {
	k := strings.ToLower(strings.TrimSpace(s))
	switch k {
	case "increasing", "decreasing", "no change":
		return k
	case "data unavailable", "insufficient data":
		return k
	default:
		return "unknown"
	}
}

// rollupDirection scores the three pathogen labels (+1 increasing, -1
// decreasing) and reports the sign of the sum.
func rollupDirection(labels ...string) string {
	s := 0
	any := false
	for _, lab := range labels {
		switch normDirection(lab) {
		case "increasing":
			s++
			any = true
		case "decreasing":
			s--
			any = true
		case "no change":
			any = true
		}
	}
	if !any {
		return "unknown"
	}
	switch {
	case s > 0:
		return "increasing"
	case s < 0:
		return "decreasing"
	default:
		return "no change"
	}
}

// labelMode returns the most frequent direction among points[from:to].
func labelMode(points []nsspPoint, from, to int) string {
	if from >= len(points) {
		return ""
	}
	if to > len(points) {
		to = len(points)
	}
	counts := make(map[string]int)
	for _, p := range points[from:to] {
		counts[normDirection(p.Value)]++
	}
	best, bestN := "", 0
	for k, n := range counts {
		if n > bestN {
			best, bestN = k, n
		}
	}
	return best
}

func riskFromDirection(direction string) models.RiskLevel {
	switch direction {
	case "increasing":
		return models.RiskHigh
	case "no change":
		return models.RiskModerate
	case "decreasing":
		return models.RiskLow
	default:
		return models.RiskUnknown
	}
}

func trendFromDirections(prev, cur string) models.Trend {
	rp, okp := directionRank[prev]
	rc, okc := directionRank[cur]
	if !okp || !okc {
		return models.TrendUnknown
	}
	switch {
	case rc > rp:
		return models.TrendRising
	case rc < rp:
		return models.TrendFalling
	default:
		return models.TrendFlat
	}
}
