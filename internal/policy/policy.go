// Package policy decides when a stored signal snapshot is still fresh.
package policy

import (
	"fmt"
	"time"

	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/models"
)

// FreshnessPolicy holds per-signal-type TTLs. A snapshot is stale once its
// age strictly exceeds the TTL; a snapshot exactly at the TTL is still fresh.
type FreshnessPolicy struct {
	ttls map[models.SignalType]time.Duration
}

// NewFreshnessPolicy builds a policy from per-type TTLs. Every TTL must be
// positive.
func NewFreshnessPolicy(ttls map[models.SignalType]time.Duration) (*FreshnessPolicy, error) {
	if len(ttls) == 0 {
		return nil, fmt.Errorf("freshness policy: no TTLs configured")
	}
	copied := make(map[models.SignalType]time.Duration, len(ttls))
	for st, ttl := range ttls {
		if ttl <= 0 {
			return nil, fmt.Errorf("freshness policy: non-positive TTL %v for %s", ttl, st)
		}
		copied[st] = ttl
	}
	return &FreshnessPolicy{ttls: copied}, nil
}

// TTL returns the configured TTL for st.
func (p *FreshnessPolicy) TTL(st models.SignalType) (time.Duration, error) {
	ttl, ok := p.ttls[st]
	if !ok {
		return 0, fmt.Errorf("freshness policy: no TTL for signal type %s", st)
	}
	return ttl, nil
}

// IsStale reports whether a snapshot generated at generatedAt has exceeded
// the TTL for st as of now.
func (p *FreshnessPolicy) IsStale(st models.SignalType, generatedAt, now time.Time) (bool, error) {
	ttl, err := p.TTL(st)
	if err != nil {
		return false, err
	}
	return now.Sub(generatedAt) > ttl, nil
}

// Status classifies a snapshot as fresh or stale relative to now.
func (p *FreshnessPolicy) Status(st models.SignalType, generatedAt, now time.Time) (models.SignalStatus, error) {
	stale, err := p.IsStale(st, generatedAt, now)
	if err != nil {
		return "", err
	}
	if stale {
		return models.StatusStale, nil
	}
	return models.StatusFresh, nil
}
