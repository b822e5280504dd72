package geo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

const zippopotamBody = `{
	"post code": "60614",
	"places": [{
		"place name": "Chicago",
		"state": "Illinois",
		"state abbreviation": "IL",
		"latitude": "41.9228",
		"longitude": "-87.6492"
	}]
}`

const fccBody = `{
	"County": {"FIPS": "17031", "name": "Cook"},
	"State": {"FIPS": "17", "code": "IL", "name": "Illinois"}
}`

func TestHTTPResolver_Resolve(t *testing.T) {
	zippo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/60614" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(zippopotamBody))
	}))
	defer zippo.Close()

	fcc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") != "json" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Write([]byte(fccBody))
	}))
	defer fcc.Close()

	r := NewHTTPResolverWithURLs(zippo.URL, fcc.URL, nil)
	geo, err := r.Resolve(context.Background(), "60614")
	if err != nil {
		t.Fatalf("Resolve() error = %v, want nil", err)
	}

	if geo.Place != "Chicago" {
		t.Errorf("Place = %q, want Chicago", geo.Place)
	}
	if geo.StateAbbr != "IL" {
		t.Errorf("StateAbbr = %q, want IL", geo.StateAbbr)
	}
	if geo.CountyName != "Cook" {
		t.Errorf("CountyName = %q, want Cook", geo.CountyName)
	}
	if geo.CountyFIPS != "17031" {
		t.Errorf("CountyFIPS = %q, want 17031", geo.CountyFIPS)
	}
	if geo.GeoLevel != "county" || geo.GeoID != "17031" {
		t.Errorf("GeoLevel/GeoID = %q/%q, want county/17031", geo.GeoLevel, geo.GeoID)
	}
}

func TestHTTPResolver_Resolve_ZipNotFound(t *testing.T) {
	zippo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer zippo.Close()

	r := NewHTTPResolverWithURLs(zippo.URL, "http://unused.invalid", nil)
	_, err := r.Resolve(context.Background(), "00000")
	if !errors.Is(err, ErrZipNotFound) {
		t.Fatalf("Resolve() error = %v, want ErrZipNotFound", err)
	}
}

func TestHTTPResolver_Resolve_BadCounty(t *testing.T) {
	zippo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(zippopotamBody))
	}))
	defer zippo.Close()

	fcc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"County": {"FIPS": "", "name": ""}}`))
	}))
	defer fcc.Close()

	r := NewHTTPResolverWithURLs(zippo.URL, fcc.URL, nil)
	_, err := r.Resolve(context.Background(), "60614")
	if !errors.Is(err, ErrResolveFailed) {
		t.Fatalf("Resolve() error = %v, want ErrResolveFailed", err)
	}
}

func TestHTTPResolver_Resolve_Cached(t *testing.T) {
	var calls atomic.Int64
	zippo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(zippopotamBody))
	}))
	defer zippo.Close()

	fcc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fccBody))
	}))
	defer fcc.Close()

	r := NewHTTPResolverWithURLs(zippo.URL, fcc.URL, nil)
	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(context.Background(), "60614"); err != nil {
			t.Fatalf("Resolve() #%d error = %v", i, err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1 (second lookup should hit the cache)", got)
	}
}
