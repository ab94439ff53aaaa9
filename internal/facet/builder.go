package facet

import (
	"encoding/json"
	"fmt"

	"github.com/utafrali/catalogsearch/internal/domain"
)

// Build renders every bucketed aggregation of an engine response into
// facets. Facets follow the configuration order; aggregations without a
// configuration entry come last in response order.
func Build(raw domain.RawAggregations, baseURL string, selected domain.SelectedFacets, configs domain.FacetConfigs) ([]domain.Facet, error) {
	built := make(map[string]domain.FacetGroup, len(raw))
	var responseOrder []string

	for _, entry := range raw {
		if !entry.IsObject() {
			continue
		}

		cfg, ok := configs.Get(entry.Name)
		if !ok || cfg.Type == "" {
			return nil, fmt.Errorf("facet %q: %w", entry.Name, domain.ErrMissingFacetType)
		}

		var agg domain.Aggregation
		if err := json.Unmarshal(entry.Value, &agg); err != nil {
			return nil, fmt.Errorf("decode aggregation %q: %w", entry.Name, err)
		}

		group, err := Render(entry.Name, agg, baseURL, selected, cfg)
		if err != nil {
			return nil, err
		}

		if _, seen := built[entry.Name]; !seen {
			responseOrder = append(responseOrder, entry.Name)
		}
		built[entry.Name] = group
	}

	facets := make([]domain.Facet, 0, len(built))
	for _, field := range sortFields(responseOrder, configs.Fields()) {
		facets = append(facets, domain.Facet{Field: field, Group: built[field]})
	}
	return facets, nil
}

// sortFields orders names by their position in order. Names missing from
// order follow in their original order.
func sortFields(names, order []string) []string {
	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[n] = true
	}

	sorted := make([]string, 0, len(names))
	for _, n := range order {
		if present[n] {
			sorted = append(sorted, n)
			delete(present, n)
		}
	}
	for _, n := range names {
		if present[n] {
			sorted = append(sorted, n)
		}
	}
	return sorted
}
