package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/utafrali/catalogsearch/internal/domain"
)

// ErrUnknownAnalyzer is returned when a field references an analyzer that
// is neither built in nor registered.
var ErrUnknownAnalyzer = errors.New("unknown analyzer")

// IndexSettings are the index-level settings of the product index.
type IndexSettings struct {
	Shards   int
	Replicas int
}

// BuildIndexBody renders the create-index request body: settings with the
// analysis section and a strict mapping with one property per field.
func BuildIndexBody(fields *domain.FieldMap, analyzers *AnalyzerRegistry, settings IndexSettings) ([]byte, error) {
	properties := make(map[string]any)
	for _, f := range fields.Fields() {
		prop, err := fieldProperty(f, analyzers)
		if err != nil {
			return nil, err
		}
		properties[f.Name] = prop
	}

	body := map[string]any{
		"settings": map[string]any{
			"number_of_shards":   settings.Shards,
			"number_of_replicas": settings.Replicas,
			"analysis":           analyzers.Analysis(),
		},
		"mappings": map[string]any{
			"dynamic":    "strict",
			"properties": properties,
		},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal index body: %w", err)
	}
	return data, nil
}

func fieldProperty(f domain.FieldDef, analyzers *AnalyzerRegistry) (map[string]any, error) {
	prop := map[string]any{"type": string(f.Type)}

	if f.Analyzer != "" {
		if !analyzers.Has(f.Analyzer) {
			return nil, fmt.Errorf("field %q: %w: %s", f.Name, ErrUnknownAnalyzer, f.Analyzer)
		}
		prop["analyzer"] = f.Analyzer
	}
	if f.SearchAnalyzer != "" {
		if !analyzers.Has(f.SearchAnalyzer) {
			return nil, fmt.Errorf("field %q: %w: %s", f.Name, ErrUnknownAnalyzer, f.SearchAnalyzer)
		}
		prop["search_analyzer"] = f.SearchAnalyzer
	}
	if f.CopyTo != "" {
		prop["copy_to"] = f.CopyTo
	}
	if f.NotIndexed {
		prop["index"] = false
	}

	if len(f.Properties) > 0 {
		nested := make(map[string]any, len(f.Properties))
		for _, p := range f.Properties {
			np, err := fieldProperty(p, analyzers)
			if err != nil {
				return nil, err
			}
			nested[p.Name] = np
		}
		prop["properties"] = nested
	}

	return prop, nil
}

// SearchFields returns the indexed text fields for full-text queries, with
// their boost applied as a query-time "^" suffix. Mapping-level boosts are
// not supported by Elasticsearch 8.
func SearchFields(fields *domain.FieldMap) []string {
	var out []string
	for _, f := range fields.Fields() {
		if f.Type != domain.FieldText || f.NotIndexed {
			continue
		}
		if f.Boost != 0 && f.Boost != 1 {
			out = append(out, f.Name+"^"+strconv.FormatFloat(f.Boost, 'f', -1, 64))
			continue
		}
		out = append(out, f.Name)
	}
	return out
}
