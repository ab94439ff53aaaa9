package domain

// Sort options for search results.
const (
	SortRelevance  = "relevance"
	SortPopularity = "popularity"
	SortPriceAsc   = "price_asc"
	SortPriceDesc  = "price_desc"
)

// ValidSortOptions returns the list of valid sort options.
func ValidSortOptions() []string {
	return []string{SortRelevance, SortPopularity, SortPriceAsc, SortPriceDesc}
}

// IsValidSort checks whether the given sort string is a valid sort option.
func IsValidSort(sort string) bool {
	for _, s := range ValidSortOptions() {
		if s == sort {
			return true
		}
	}
	return false
}

// SearchQuery holds all parameters for a search request.
type SearchQuery struct {
	Query    string         `json:"query"`
	Selected SelectedFacets `json:"selected_facets,omitempty"`
	Facets   FacetConfigs   `json:"-"`
	SortBy   string         `json:"sort_by"`
	Page     int            `json:"page"`
	PerPage  int            `json:"per_page"`
}

// SearchResult is the engine's answer: matching documents plus the raw
// aggregations requested through the facet configuration.
type SearchResult struct {
	Documents    []Document      `json:"documents"`
	Total        int             `json:"total"`
	Page         int             `json:"page"`
	PerPage      int             `json:"per_page"`
	TookMs       int64           `json:"took_ms"`
	Aggregations RawAggregations `json:"aggregations,omitempty"`
}

// SearchResponse is the search result with rendered, ordered facets.
type SearchResponse struct {
	Products []Document `json:"products"`
	Total    int        `json:"total"`
	Page     int        `json:"page"`
	PerPage  int        `json:"per_page"`
	TookMs   int64      `json:"took_ms"`
	Facets   []Facet    `json:"facets"`
}
