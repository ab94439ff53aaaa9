package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/utafrali/catalogsearch/internal/domain"
	"github.com/utafrali/catalogsearch/internal/service"
	"github.com/utafrali/catalogsearch/pkg/httputil"
	"github.com/utafrali/catalogsearch/pkg/pagination"
	"github.com/utafrali/catalogsearch/pkg/validator"
)

const (
	// maxSuggestLimit caps the number of suggestions per request.
	maxSuggestLimit = 20
	// maxSelections caps the selected_facets values of one request.
	maxSelections = 50
)

func init() {
	if err := validator.RegisterValidation("sort_option", domain.IsValidSort,
		"must be one of: "+strings.Join(domain.ValidSortOptions(), ", ")); err != nil {
		panic(err)
	}
	if err := validator.RegisterIntValidation("result_window", func(depth int64) bool {
		return depth <= pagination.MaxResultWindow
	}, fmt.Sprintf("page * per_page must not exceed %d", pagination.MaxResultWindow)); err != nil {
		panic(err)
	}
}

// searchParams are the validated query parameters of a search request.
type searchParams struct {
	Query          string   `query:"q" validate:"max=256"`
	Sort           string   `query:"sort" validate:"omitempty,sort_option"`
	SelectedFacets []string `query:"selected_facets" validate:"max=50"`
	// Depth is the last hit the requested page reaches.
	Depth int `query:"page" validate:"result_window"`
}

// SearchHandler handles HTTP requests for search endpoints.
type SearchHandler struct {
	service *service.SearchService
	logger  *slog.Logger
}

// NewSearchHandler creates a new search HTTP handler.
func NewSearchHandler(svc *service.SearchService, logger *slog.Logger) *SearchHandler {
	return &SearchHandler{
		service: svc,
		logger:  logger,
	}
}

// SearchResponse is the body of a search result page.
type SearchResponse struct {
	pagination.Result[domain.Document]
	Facets []domain.Facet `json:"facets"`
	TookMs int64          `json:"took_ms"`
}

// Search handles GET /api/v1/search
//
// Query parameters: q, selected_facets (repeated "field:value"), sort, page
// and per_page.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page := pagination.Parse(query)
	params := searchParams{
		Query:          strings.TrimSpace(query.Get("q")),
		Sort:           query.Get("sort"),
		SelectedFacets: query["selected_facets"],
		Depth:          page.End(),
	}
	if err := validator.Validate(params); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	input := &service.SearchInput{
		Query:          params.Query,
		SelectedFacets: params.SelectedFacets,
		SortBy:         params.Sort,
		Page:           page.Page,
		PerPage:        page.PerPage,
		URL:            r.URL.RequestURI(),
	}

	result, err := h.service.Search(r.Context(), input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	body := SearchResponse{
		Result: pagination.NewResult(result.Products, result.Total, pagination.Params{
			Page:    result.Page,
			PerPage: result.PerPage,
		}),
		Facets: result.Facets,
		TookMs: result.TookMs,
	}
	if body.Facets == nil {
		body.Facets = []domain.Facet{}
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: body})
}

// Suggest handles GET /api/v1/search/suggest
func (h *SearchHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	prefix := strings.TrimSpace(r.URL.Query().Get("q"))
	if prefix == "" {
		httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]any{"suggestions": []string{}}})
		return
	}

	limit := service.DefaultSuggestLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 && l <= maxSuggestLimit {
			limit = l
		}
	}

	suggestions, err := h.service.Suggest(r.Context(), prefix, limit)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]any{"suggestions": suggestions}})
}
