package elasticsearch

import (
	"github.com/utafrali/catalogsearch/internal/domain"
	"github.com/utafrali/catalogsearch/internal/engine"
)

// buildSearchQuery constructs the Elasticsearch query DSL as a map.
func (e *Engine) buildSearchQuery(query *domain.SearchQuery, page, perPage int) (map[string]any, error) {
	var mustClause any
	if query.Query != "" {
		mustClause = map[string]any{
			"multi_match": map[string]any{
				"query":  query.Query,
				"fields": e.searchFields,
				"type":   "best_fields",
			},
		}
	} else {
		mustClause = map[string]any{
			"match_all": map[string]any{},
		}
	}

	filters, err := buildFilters(query)
	if err != nil {
		return nil, err
	}

	boolQuery := map[string]any{
		"must": []any{mustClause},
	}
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	}

	esQuery := map[string]any{
		"query": map[string]any{
			"bool": boolQuery,
		},
		"from":             (page - 1) * perPage,
		"size":             perPage,
		"track_total_hits": true,
		"sort":             buildSort(query.SortBy),
	}

	aggs, err := buildAggregations(query.Facets)
	if err != nil {
		return nil, err
	}
	if len(aggs) > 0 {
		esQuery["aggs"] = aggs
	}

	return esQuery, nil
}

// buildFilters turns the selected facets into filter clauses. Values of one
// field are OR-ed, fields are AND-ed. Selections on unconfigured fields are
// ignored.
func buildFilters(query *domain.SearchQuery) ([]any, error) {
	var filters []any
	for _, cfg := range query.Facets {
		values := query.Selected[cfg.Field]
		if len(values) == 0 {
			continue
		}
		field := engine.IndexField(cfg)

		var clause any
		switch {
		case cfg.Type.IsRange() || cfg.Type == domain.FacetHistogram:
			bounds, err := engine.SelectedBounds(cfg, values)
			if err != nil {
				return nil, err
			}
			should := make([]any, 0, len(bounds))
			for _, b := range bounds {
				should = append(should, rangeClause(field, b))
			}
			if len(should) == 1 {
				clause = should[0]
			} else {
				clause = map[string]any{
					"bool": map[string]any{"should": should, "minimum_should_match": 1},
				}
			}
		default:
			clause = map[string]any{
				"terms": map[string]any{field: values},
			}
		}

		if cfg.Nested != "" {
			clause = map[string]any{
				"nested": map[string]any{"path": cfg.Nested, "query": clause},
			}
		}
		filters = append(filters, clause)
	}
	return filters, nil
}

func rangeClause(field string, b engine.Bounds) map[string]any {
	bounds := map[string]any{}
	if b.From != nil {
		bounds["gte"] = *b.From
	}
	if b.To != nil {
		bounds["lt"] = *b.To
	}
	return map[string]any{
		"range": map[string]any{field: bounds},
	}
}

// buildAggregations requests one aggregation per configured facet, named
// after the facet field. Nested fields are wrapped in a nested aggregation
// whose single child carries the buckets.
func buildAggregations(configs domain.FacetConfigs) (map[string]any, error) {
	aggs := make(map[string]any, len(configs))
	for _, cfg := range configs {
		field := engine.IndexField(cfg)

		var agg map[string]any
		switch {
		case cfg.Type.IsRange():
			ranges := make([]map[string]any, 0, len(cfg.Ranges))
			for _, r := range cfg.Ranges {
				spec := map[string]any{}
				if r.From != nil {
					spec["from"] = *r.From
				}
				if r.To != nil {
					spec["to"] = *r.To
				}
				ranges = append(ranges, spec)
			}
			agg = map[string]any{
				"range": map[string]any{"field": field, "ranges": ranges},
			}
		case cfg.Type == domain.FacetHistogram:
			interval, err := engine.HistogramInterval(cfg)
			if err != nil {
				return nil, err
			}
			agg = map[string]any{
				"histogram": map[string]any{"field": field, "interval": interval},
			}
		default:
			agg = map[string]any{
				"terms": map[string]any{"field": field, "size": engine.TermsSize(cfg)},
			}
		}

		if cfg.Nested != "" {
			agg = map[string]any{
				"nested": map[string]any{"path": cfg.Nested},
				"aggs":   map[string]any{cfg.Field: agg},
			}
		}
		aggs[cfg.Field] = agg
	}
	return aggs, nil
}

// buildSort constructs the sort clause based on the sort option.
func buildSort(sortBy string) []any {
	switch sortBy {
	case domain.SortPopularity:
		return []any{
			map[string]any{domain.FieldScore: "desc"},
			map[string]any{"_score": "desc"},
		}
	case domain.SortPriceAsc:
		return []any{priceSort("asc", "min")}
	case domain.SortPriceDesc:
		return []any{priceSort("desc", "max")}
	default:
		return []any{
			map[string]any{"_score": "desc"},
		}
	}
}

func priceSort(order, mode string) map[string]any {
	return map[string]any{
		domain.FieldStock + ".price": map[string]any{
			"order":  order,
			"mode":   mode,
			"nested": map[string]any{"path": domain.FieldStock},
		},
	}
}
