package models

import (
	"encoding/json"
	"time"
)

// SignalType identifies a surveillance data source category.
type SignalType string

const (
	SignalWastewater  SignalType = "wastewater"
	SignalNSSPEDVisit SignalType = "nssp_ed_visits"
	SignalILINet      SignalType = "ili_net"
	SignalSeverity    SignalType = "severity"
)

// AllSignalTypes lists every signal type the service knows how to ingest.
var AllSignalTypes = []SignalType{SignalWastewater, SignalNSSPEDVisit, SignalILINet, SignalSeverity}

// ParseSignalType returns the SignalType for s, or false if unknown.
func ParseSignalType(s string) (SignalType, bool) {
	for _, st := range AllSignalTypes {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// RiskLevel is the summarized risk for a signal.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
	RiskUnknown  RiskLevel = "unknown"
)

// Trend is the short-term direction of a signal.
type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendFlat    Trend = "flat"
	TrendUnknown Trend = "unknown"
)

// Confidence grades how much the scoring fields can be trusted.
type Confidence string

const (
	ConfidenceLow      Confidence = "low"
	ConfidenceModerate Confidence = "moderate"
	ConfidenceHigh     Confidence = "high"
)

// Pathogen tags a snapshot with the pathogen it covers, when the source
// distinguishes pathogens.
type Pathogen string

const (
	PathogenCovid    Pathogen = "covid"
	PathogenFlu      Pathogen = "flu"
	PathogenRSV      Pathogen = "rsv"
	PathogenCombined Pathogen = "combined"
)

// Geography is the resolved geographic context for a ZIP code.
type Geography struct {
	ZipCode    string  `json:"zip_code"`
	Place      string  `json:"place"`
	StateAbbr  string  `json:"state_abbr"`
	StateName  string  `json:"state_name"`
	CountyName string  `json:"county_name"`
	CountyFIPS string  `json:"county_fips"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	GeoLevel   string  `json:"geo_level"`
	GeoID      string  `json:"geo_id"`
}

// SignalSnapshot is one ingested observation for a (ZIP, signal type) pair.
// Snapshots are immutable once written; the latest for a key is the one with
// the greatest GeneratedAt.
type SignalSnapshot struct {
	ID             int64           `json:"id,omitempty"`
	ZipCode        string          `json:"zip_code"`
	SignalType     SignalType      `json:"signal_type"`
	GeneratedAt    time.Time       `json:"generated_at"`
	Payload        json.RawMessage `json:"payload"`
	Pathogen       Pathogen        `json:"pathogen,omitempty"`
	GeoLevel       string          `json:"geo_level,omitempty"`
	GeoID          string          `json:"geo_id,omitempty"`
	State          string          `json:"state,omitempty"`
	CountyFIPS     string          `json:"county_fips,omitempty"`
	RiskLevel      RiskLevel       `json:"risk_level"`
	Trend          Trend           `json:"trend"`
	Confidence     Confidence      `json:"confidence"`
	CompositeScore float64         `json:"composite_score"`
}

// ZipRequestRecord tracks popularity and recency of requests for one ZIP.
type ZipRequestRecord struct {
	ZipCode         string     `json:"zip_code"`
	FirstRequested  time.Time  `json:"first_requested_at"`
	LastRequested   time.Time  `json:"last_requested_at"`
	LastRefreshedAt *time.Time `json:"last_refreshed_at"`
}

// SignalStatus tells clients how to interpret one signal entry.
type SignalStatus string

const (
	// StatusFresh means the entry is within its TTL.
	StatusFresh SignalStatus = "fresh"
	// StatusStale means the latest refresh failed and a prior snapshot is served.
	StatusStale SignalStatus = "stale"
	// StatusUnavailable means no snapshot exists and the refresh failed.
	StatusUnavailable SignalStatus = "unavailable"
)

// SignalEntry is one signal type's section of an aggregate response.
type SignalEntry struct {
	SignalType     SignalType      `json:"signal_type"`
	Status         SignalStatus    `json:"status"`
	Risk           RiskLevel       `json:"risk"`
	Trend          Trend           `json:"trend"`
	Confidence     Confidence      `json:"confidence"`
	CompositeScore float64         `json:"composite_score,omitempty"`
	Pathogen       Pathogen        `json:"pathogen,omitempty"`
	GeneratedAt    *time.Time      `json:"generated_at"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// AggregateResult composes per-signal entries for one ZIP. Refreshed is true
// when at least one snapshot was newly created during the call.
type AggregateResult struct {
	ZipCode     string                     `json:"zip_code"`
	GeneratedAt *time.Time                 `json:"generated_at"`
	Refreshed   bool                       `json:"refreshed"`
	Signals     map[SignalType]SignalEntry `json:"signals"`
	Errors      map[SignalType]string      `json:"errors,omitempty"`
}

// EntryFromSnapshot builds a SignalEntry serving snap with the given status.
func EntryFromSnapshot(snap *SignalSnapshot, status SignalStatus) SignalEntry {
	ga := snap.GeneratedAt
	return SignalEntry{
		SignalType:     snap.SignalType,
		Status:         status,
		Risk:           snap.RiskLevel,
		Trend:          snap.Trend,
		Confidence:     snap.Confidence,
		CompositeScore: snap.CompositeScore,
		Pathogen:       snap.Pathogen,
		GeneratedAt:    &ga,
		Payload:        snap.Payload,
	}
}

// UnavailableEntry builds the entry for a signal type with no data at all.
func UnavailableEntry(st SignalType, errMsg string) SignalEntry {
	return SignalEntry{
		SignalType: st,
		Status:     StatusUnavailable,
		Risk:       RiskUnknown,
		Trend:      TrendUnknown,
		Confidence: ConfidenceLow,
		Error:      errMsg,
	}
}
