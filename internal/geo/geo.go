// Package geo resolves US ZIP codes to a county-level geography context.
// Resolution goes ZIP -> place/state/lat/lon (Zippopotam.us), then
// lat/lon -> county name/FIPS (FCC census block API).
package geo

import (
	"context"

	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/models"
)

// Resolver looks up the geography context for a ZIP code. Implementations
// must be safe for concurrent use.
type Resolver interface {
	Resolve(ctx context.Context, zip string) (models.Geography, error)
}
