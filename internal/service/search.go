package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/utafrali/catalogsearch/internal/cache"
	"github.com/utafrali/catalogsearch/internal/domain"
	"github.com/utafrali/catalogsearch/internal/engine"
	"github.com/utafrali/catalogsearch/internal/facet"
	apperrors "github.com/utafrali/catalogsearch/pkg/errors"
	"github.com/utafrali/catalogsearch/pkg/tracing"
)

// DefaultSuggestLimit is the number of suggestions returned when the caller
// does not ask for a specific number.
const DefaultSuggestLimit = 10

// SearchService runs catalogue searches and renders their facets.
type SearchService struct {
	engine engine.SearchEngine
	cache  cache.SearchCache
	facets domain.FacetConfigs
	logger *slog.Logger
}

// NewSearchService creates a new search service. A nil cache disables
// caching.
func NewSearchService(eng engine.SearchEngine, c cache.SearchCache, facets domain.FacetConfigs, logger *slog.Logger) *SearchService {
	if c == nil {
		c = cache.Noop{}
	}
	return &SearchService{
		engine: eng,
		cache:  c,
		facets: facets,
		logger: logger,
	}
}

// SearchInput holds the parameters of one search request.
type SearchInput struct {
	Query          string
	SelectedFacets []string
	SortBy         string
	Page           int
	PerPage        int

	// URL is the request path and query. Facet links are derived from it and
	// it keys the cache.
	URL string
}

// Search executes the query and builds the ordered facet list.
func (s *SearchService) Search(ctx context.Context, input *SearchInput) (_ *domain.SearchResponse, err error) {
	ctx, span := tracing.Start(ctx, "search.query",
		tracing.QueryLength.Int(len(input.Query)),
		tracing.FacetSelected.Int(len(input.SelectedFacets)),
	)
	defer func() { tracing.End(span, err) }()

	sortBy := input.SortBy
	if sortBy == "" {
		sortBy = domain.SortRelevance
	}
	if !domain.IsValidSort(sortBy) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("sort must be one of: %s", strings.Join(domain.ValidSortOptions(), ", ")))
	}

	if cached := s.cached(ctx, input.URL); cached != nil {
		span.SetAttributes(tracing.CacheHit.Bool(true), tracing.Hits.Int(cached.Total))
		return cached, nil
	}
	span.SetAttributes(tracing.CacheHit.Bool(false))

	selected := domain.ParseSelectedFacets(input.SelectedFacets)
	query := &domain.SearchQuery{
		Query:    input.Query,
		Selected: selected,
		Facets:   s.facets,
		SortBy:   sortBy,
		Page:     input.Page,
		PerPage:  input.PerPage,
	}

	result, err := s.engine.Search(ctx, query)
	if err != nil {
		return nil, searchError(err)
	}

	facets, err := facet.Build(result.Aggregations, input.URL, selected, s.facets)
	if err != nil {
		return nil, searchError(err)
	}

	resp := &domain.SearchResponse{
		Products: result.Documents,
		Total:    result.Total,
		Page:     result.Page,
		PerPage:  result.PerPage,
		TookMs:   result.TookMs,
		Facets:   facets,
	}

	span.SetAttributes(tracing.Hits.Int(result.Total))
	s.logger.DebugContext(ctx, "search executed",
		slog.String("query", input.Query),
		slog.Int("total", result.Total),
		slog.Int("facets", len(facets)),
		slog.Int64("took_ms", result.TookMs),
	)

	if input.URL != "" {
		if err := s.cache.Set(ctx, input.URL, resp); err != nil {
			s.logger.WarnContext(ctx, "failed to cache search response", slog.String("error", err.Error()))
		}
	}
	return resp, nil
}

// Suggest returns product titles matching the prefix.
func (s *SearchService) Suggest(ctx context.Context, prefix string, limit int) ([]string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return []string{}, nil
	}
	if limit <= 0 {
		limit = DefaultSuggestLimit
	}

	titles, err := s.engine.Suggest(ctx, prefix, limit)
	if err != nil {
		if errors.Is(err, engine.ErrUnavailable) {
			return nil, apperrors.Unavailable(engine.ErrUnavailable.Error())
		}
		return nil, fmt.Errorf("suggest: %w", err)
	}
	return titles, nil
}

func (s *SearchService) cached(ctx context.Context, key string) *domain.SearchResponse {
	if key == "" {
		return nil
	}
	resp, err := s.cache.Get(ctx, key)
	if err != nil {
		CacheLookups.WithLabelValues("error").Inc()
		s.logger.WarnContext(ctx, "search cache lookup failed", slog.String("error", err.Error()))
		return nil
	}
	if resp == nil {
		CacheLookups.WithLabelValues("miss").Inc()
		return nil
	}
	CacheLookups.WithLabelValues("hit").Inc()
	return resp
}

// searchError maps facet configuration problems to configuration errors,
// unparseable selections to invalid input and engine outages to 503.
func searchError(err error) error {
	switch {
	case errors.Is(err, domain.ErrMissingFacetType), errors.Is(err, domain.ErrMissingHistogramInterval):
		return apperrors.Misconfigured(err)
	case errors.Is(err, engine.ErrInvalidFacetValue):
		return apperrors.InvalidInput(err.Error())
	case errors.Is(err, engine.ErrUnavailable):
		return apperrors.Unavailable(engine.ErrUnavailable.Error())
	default:
		return fmt.Errorf("search: %w", err)
	}
}
