package facet

import (
	"fmt"
	"net/url"
	"strings"
)

// Query parameter names used in facet links.
const (
	ParamSelectedFacets = "selected_facets"
	ParamPage           = "page"
)

type queryParam struct {
	key   string
	value string
}

// linkBuilder derives facet select and deselect links from the request URL.
// Query parameters keep their original order.
type linkBuilder struct {
	base   url.URL
	params []queryParam
}

func newLinkBuilder(baseURL string) (*linkBuilder, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	params := parseQuery(u.RawQuery)
	u.RawQuery = ""
	u.ForceQuery = false
	return &linkBuilder{base: *u, params: params}, nil
}

// selectURL appends selected_facets=<field>:<value> and drops pagination.
func (l *linkBuilder) selectURL(field, value string) string {
	params := l.withoutPage()
	params = append(params, queryParam{key: ParamSelectedFacets, value: field + ":" + value})
	return l.build(params)
}

// deselectURL removes the exact selected_facets=<field>:<value> pair and
// drops pagination.
func (l *linkBuilder) deselectURL(field, value string) string {
	pair := field + ":" + value
	params := make([]queryParam, 0, len(l.params))
	for _, p := range l.withoutPage() {
		if p.key == ParamSelectedFacets && p.value == pair {
			continue
		}
		params = append(params, p)
	}
	return l.build(params)
}

func (l *linkBuilder) withoutPage() []queryParam {
	params := make([]queryParam, 0, len(l.params)+1)
	for _, p := range l.params {
		if p.key == ParamPage {
			continue
		}
		params = append(params, p)
	}
	return params
}

func (l *linkBuilder) build(params []queryParam) string {
	u := l.base
	u.RawQuery = encodeQuery(params)
	return u.String()
}

// parseQuery splits a raw query string into decoded pairs in order.
// Pairs that fail to decode are kept verbatim.
func parseQuery(raw string) []queryParam {
	var params []queryParam
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if v, err := url.QueryUnescape(value); err == nil {
			value = v
		}
		params = append(params, queryParam{key: key, value: value})
	}
	return params
}

func encodeQuery(params []queryParam) string {
	var b strings.Builder
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(escape(p.key))
		b.WriteByte('=')
		b.WriteString(escape(p.value))
	}
	return b.String()
}

// escape query-escapes s but keeps the field separator readable.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "%3A", ":")
}
