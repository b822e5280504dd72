// Package provider implements the upstream surveillance data sources. Each
// provider fetches one signal type for a resolved geography, normalizes the
// response, and scores it into a SignalSnapshot. Providers never touch
// storage; persistence belongs to the refresh coordinator.
package provider

import (
	"context"
	"errors"

	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/models"
)

var (
	ErrUpstream    = errors.New("upstream failure")
	ErrRateLimited = errors.New("rate limited")
	ErrMalformed   = errors.New("malformed upstream payload")
	ErrNoData      = errors.New("no upstream data for geography")
)

// Provider fetches and scores one signal type. Implementations must be safe
// for concurrent use; the refresh coordinator guarantees at most one in-flight
// call per (zip, signal type) but different keys run concurrently.
type Provider interface {
	SignalType() models.SignalType
	Fetch(ctx context.Context, geo models.Geography) (*models.SignalSnapshot, error)
}

// Registry maps signal types to their providers.
type Registry map[models.SignalType]Provider

// NewRegistry builds a Registry from the given providers. Duplicate signal
// types are a programming error and panic at startup.
func NewRegistry(providers ...Provider) Registry {
	r := make(Registry, len(providers))
	for _, p := range providers {
		if _, ok := r[p.SignalType()]; ok {
			panic("duplicate provider for signal type " + string(p.SignalType()))
		}
		r[p.SignalType()] = p
	}
	return r
}
