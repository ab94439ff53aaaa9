package pagination

import (
	"net/url"
	"strconv"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
	// MaxResultWindow is the deepest hit a page may reach, matching the
	// index.max_result_window default of Elasticsearch.
	MaxResultWindow = 10000
)

// Params is a 1-based page request.
type Params struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// DefaultParams returns the first page at the default size.
func DefaultParams() Params {
	return Params{Page: 1, PerPage: DefaultPerPage}
}

// Parse reads page and per_page from q. Missing, malformed or out of range
// values fall back to the defaults.
func Parse(q url.Values) Params {
	p := DefaultParams()
	if v, ok := positive(q.Get("page")); ok {
		p.Page = v
	}
	if v, ok := positive(q.Get("per_page")); ok && v <= MaxPerPage {
		p.PerPage = v
	}
	return p
}

func positive(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	return v, err == nil && v > 0
}

// Offset is the number of hits before the page.
func (p Params) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// End is the number of hits up to and including the page.
func (p Params) End() int {
	return p.Page * p.PerPage
}

// TotalPages is the number of pages of size perPage needed for total hits.
func TotalPages(total, perPage int) int {
	if perPage <= 0 || total <= 0 {
		return 0
	}
	return (total + perPage - 1) / perPage
}

// Result wraps one page of items.
type Result[T any] struct {
	Data       []T  `json:"data"`
	TotalCount int  `json:"total_count"`
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// NewResult builds the page envelope. Nil data becomes an empty slice, and
// HasNext stays false once the next page would cross MaxResultWindow.
func NewResult[T any](data []T, totalCount int, params Params) Result[T] {
	if data == nil {
		data = []T{}
	}
	pages := TotalPages(totalCount, params.PerPage)
	next := Params{Page: params.Page + 1, PerPage: params.PerPage}
	return Result[T]{
		Data:       data,
		TotalCount: totalCount,
		Page:       params.Page,
		PerPage:    params.PerPage,
		TotalPages: pages,
		HasNext:    params.Page < pages && next.End() <= MaxResultWindow,
		HasPrev:    params.Page > 1,
	}
}
