package schema

import (
	"errors"
	"fmt"
	"sync"
)

// ErrDuplicateAnalyzerName is returned when an analyzer name is registered twice.
var ErrDuplicateAnalyzerName = errors.New("analyzer name already registered")

// Built-in custom analyzers referenced by the static fields.
const (
	AnalyzerNGram     = "ngram_analyzer"
	AnalyzerEdgeNGram = "edgengram_analyzer"
)

// Analyzers provided by the search engine itself. They need no definition.
var builtinAnalyzers = map[string]bool{
	"standard":   true,
	"simple":     true,
	"whitespace": true,
	"keyword":    true,
	"stop":       true,
	"english":    true,
}

// Analyzer is a custom analyzer together with the token filters and
// tokenizers it references.
type Analyzer struct {
	Name       string
	Definition map[string]any
	Tokenizers map[string]map[string]any
	Filters    map[string]map[string]any
}

// AnalyzerRegistry collects the custom analyzers defined in the index.
type AnalyzerRegistry struct {
	mu        sync.RWMutex
	analyzers []Analyzer
	names     map[string]struct{}
}

// NewAnalyzerRegistry creates an empty registry.
func NewAnalyzerRegistry() *AnalyzerRegistry {
	return &AnalyzerRegistry{names: make(map[string]struct{})}
}

// NewDefaultAnalyzerRegistry creates a registry holding the n-gram analyzers
// used by the title and UPC fields.
func NewDefaultAnalyzerRegistry() *AnalyzerRegistry {
	r := NewAnalyzerRegistry()
	for _, a := range defaultAnalyzers() {
		// Defaults have distinct names.
		_ = r.Register(a)
	}
	return r
}

// Register adds an analyzer. Registering a name twice, or a name shadowing
// a built-in analyzer, fails with ErrDuplicateAnalyzerName.
func (r *AnalyzerRegistry) Register(a Analyzer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.names[a.Name]; ok || builtinAnalyzers[a.Name] {
		return fmt.Errorf("register analyzer %q: %w", a.Name, ErrDuplicateAnalyzerName)
	}
	r.names[a.Name] = struct{}{}
	r.analyzers = append(r.analyzers, a)
	return nil
}

// Has reports whether name is a registered or built-in analyzer.
func (r *AnalyzerRegistry) Has(name string) bool {
	if builtinAnalyzers[name] {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.names[name]
	return ok
}

// Analysis renders the registered analyzers as an index "analysis" setting.
func (r *AnalyzerRegistry) Analysis() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	analyzers := make(map[string]any, len(r.analyzers))
	tokenizers := make(map[string]any)
	filters := make(map[string]any)
	for _, a := range r.analyzers {
		analyzers[a.Name] = a.Definition
		for name, def := range a.Tokenizers {
			tokenizers[name] = def
		}
		for name, def := range a.Filters {
			filters[name] = def
		}
	}

	analysis := map[string]any{"analyzer": analyzers}
	if len(tokenizers) > 0 {
		analysis["tokenizer"] = tokenizers
	}
	if len(filters) > 0 {
		analysis["filter"] = filters
	}
	return analysis
}

func defaultAnalyzers() []Analyzer {
	return []Analyzer{
		{
			Name: AnalyzerNGram,
			Definition: map[string]any{
				"type":      "custom",
				"tokenizer": "lowercase",
				"filter":    []string{"asciifolding", "ngram_filter"},
			},
			Filters: map[string]map[string]any{
				"ngram_filter": {"type": "ngram", "min_gram": 3, "max_gram": 15},
			},
		},
		{
			Name: AnalyzerEdgeNGram,
			Definition: map[string]any{
				"type":      "custom",
				"tokenizer": "lowercase",
				"filter":    []string{"asciifolding", "edgengram_filter"},
			},
			Filters: map[string]map[string]any{
				"edgengram_filter": {"type": "edge_ngram", "min_gram": 2, "max_gram": 15},
			},
		},
	}
}
