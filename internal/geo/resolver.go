package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/models"
)

const (
	defaultZippopotamURL = "https://api.zippopotam.us/us"
	defaultFCCBlockURL   = "https://geo.fcc.gov/api/census/block/find"
	userAgent            = "uvceed-disease-alerts/0.1 (+uvceed)"
)

var (
	ErrZipNotFound   = errors.New("zip not found")
	ErrResolveFailed = errors.New("geography resolution failed")
)

// HTTPResolver resolves ZIP codes over the public Zippopotam and FCC APIs.
// Results are cached for the process lifetime; ZIP geography does not change
// fast enough to matter.
type HTTPResolver struct {
	zippopotamURL string
	fccURL        string
	client        *http.Client

	mu    sync.RWMutex
	cache map[string]models.Geography
}

// NewHTTPResolver creates an HTTPResolver with the given request timeout.
func NewHTTPResolver(timeout time.Duration) *HTTPResolver {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPResolver{
		zippopotamURL: defaultZippopotamURL,
		fccURL:        defaultFCCBlockURL,
		client:        &http.Client{Timeout: timeout},
		cache:         make(map[string]models.Geography),
	}
}

// NewHTTPResolverWithURLs is used by tests to point at httptest servers.
func NewHTTPResolverWithURLs(zippopotamURL, fccURL string, client *http.Client) *HTTPResolver {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &HTTPResolver{
		zippopotamURL: strings.TrimRight(zippopotamURL, "/"),
		fccURL:        fccURL,
		client:        client,
		cache:         make(map[string]models.Geography),
	}
}

type zippopotamResponse struct {
	Places []struct {
		PlaceName string `json:"place name"`
		StateAbbr string `json:"state abbreviation"`
		State     string `json:"state"`
		Latitude  string `json:"latitude"`
		Longitude string `json:"longitude"`
	} `json:"places"`
}

type fccBlockResponse struct {
	County struct {
		Name string `json:"name"`
		FIPS string `json:"FIPS"`
	} `json:"County"`
}

// Resolve implements Resolver.
func (r *HTTPResolver) Resolve(ctx context.Context, zip string) (models.Geography, error) {
	r.mu.RLock()
	cached, ok := r.cache[zip]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	geo, err := r.lookupPlace(ctx, zip)
	if err != nil {
		return models.Geography{}, err
	}
	if err := r.lookupCounty(ctx, &geo); err != nil {
		return models.Geography{}, err
	}
	geo.GeoLevel = "county"
	geo.GeoID = geo.CountyFIPS

	r.mu.Lock()
	r.cache[zip] = geo
	r.mu.Unlock()
	return geo, nil
}

func (r *HTTPResolver) lookupPlace(ctx context.Context, zip string) (models.Geography, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.zippopotamURL+"/"+zip, nil)
	if err != nil {
		return models.Geography{}, fmt.Errorf("%w: build request: %v", ErrResolveFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return models.Geography{}, fmt.Errorf("%w: %v", ErrResolveFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return models.Geography{}, fmt.Errorf("%w: %s", ErrZipNotFound, zip)
	}
	if resp.StatusCode != http.StatusOK {
		return models.Geography{}, fmt.Errorf("%w: zippopotam HTTP %d", ErrResolveFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Geography{}, fmt.Errorf("%w: read body: %v", ErrResolveFailed, err)
	}
	var zr zippopotamResponse
	if err := json.Unmarshal(body, &zr); err != nil {
		return models.Geography{}, fmt.Errorf("%w: parse response: %v", ErrResolveFailed, err)
	}
	if len(zr.Places) == 0 {
		return models.Geography{}, fmt.Errorf("%w: zip %s returned no places", ErrResolveFailed, zip)
	}

	p0 := zr.Places[0]
	lat, latErr := strconv.ParseFloat(strings.TrimSpace(p0.Latitude), 64)
	lon, lonErr := strconv.ParseFloat(strings.TrimSpace(p0.Longitude), 64)
	if latErr != nil || lonErr != nil {
		return models.Geography{}, fmt.Errorf("%w: zip %s has no valid lat/lon", ErrResolveFailed, zip)
	}

	return models.Geography{
		ZipCode:   zip,
		Place:     strings.TrimSpace(p0.PlaceName),
		StateAbbr: strings.TrimSpace(p0.StateAbbr),
		StateName: strings.TrimSpace(p0.State),
		Latitude:  lat,
		Longitude: lon,
	}, nil
}

func (r *HTTPResolver) lookupCounty(ctx context.Context, geo *models.Geography) error {
	u, err := url.Parse(r.fccURL)
	if err != nil {
		return fmt.Errorf("%w: invalid FCC URL: %v", ErrResolveFailed, err)
	}
	params := url.Values{}
	params.Set("format", "json")
	params.Set("latitude", strconv.FormatFloat(geo.Latitude, 'f', 6, 64))
	params.Set("longitude", strconv.FormatFloat(geo.Longitude, 'f', 6, 64))
	params.Set("showall", "false")
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrResolveFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResolveFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: FCC HTTP %d", ErrResolveFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrResolveFailed, err)
	}
	var fr fccBlockResponse
	if err := json.Unmarshal(body, &fr); err != nil {
		return fmt.Errorf("%w: parse response: %v", ErrResolveFailed, err)
	}

	name := strings.TrimSpace(fr.County.Name)
	fips := strings.TrimSpace(fr.County.FIPS)
	if name == "" || !isFIPS(fips) {
		return fmt.Errorf("%w: FCC lookup returned no valid county for %s", ErrResolveFailed, geo.ZipCode)
	}
	geo.CountyName = name
	geo.CountyFIPS = fips
	return nil
}

// isFIPS reports whether s is a 5-digit state+county FIPS code.
func isFIPS(s string) bool {
	if len(s) != 5 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
