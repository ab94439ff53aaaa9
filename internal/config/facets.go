package config

import (
	"fmt"

	"github.com/utafrali/catalogsearch/internal/domain"
	pkgconfig "github.com/utafrali/catalogsearch/pkg/config"
)

type facetsFile struct {
	Facets domain.FacetConfigs `yaml:"facets" json:"facets"`
}

// LoadFacets reads and validates the ordered facet configuration, a YAML or
// JSON file with a top-level "facets" list.
func LoadFacets(path string) (domain.FacetConfigs, error) {
	var file facetsFile
	if err := pkgconfig.LoadFile(path, &file); err != nil {
		return nil, fmt.Errorf("load facets: %w", err)
	}
	if err := ValidateFacets(file.Facets); err != nil {
		return nil, fmt.Errorf("load facets from %s: %w", path, err)
	}
	if file.Facets == nil {
		return domain.FacetConfigs{}, nil
	}
	return file.Facets, nil
}

// ValidateFacets checks that every facet names a field and a known type,
// that range facets declare their ranges and that no field repeats.
// Histogram intervals are checked when a facet is queried or rendered.
func ValidateFacets(facets domain.FacetConfigs) error {
	seen := make(map[string]struct{}, len(facets))
	for i, fc := range facets {
		if fc.Field == "" {
			return fmt.Errorf("facet %d: field is required", i)
		}
		if _, dup := seen[fc.Field]; dup {
			return fmt.Errorf("facet %q: duplicate field", fc.Field)
		}
		seen[fc.Field] = struct{}{}

		if !fc.Type.IsValid() {
			return fmt.Errorf("facet %q: unknown type %q", fc.Field, fc.Type)
		}
		if fc.Type.IsRange() && len(fc.Ranges) == 0 {
			return fmt.Errorf("facet %q: %s facets need ranges", fc.Field, fc.Type)
		}
		if fc.Size < 0 {
			return fmt.Errorf("facet %q: size must not be negative", fc.Field)
		}
	}
	return nil
}
