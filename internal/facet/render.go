package facet

import (
	"fmt"
	"math"
	"strconv"
	"unicode"
	"unicode/utf8"

	"github.com/utafrali/catalogsearch/internal/domain"
)

// renderer is implemented by the term, range and histogram renderers. They
// differ only in how a bucket becomes a field value and a display name.
type renderer interface {
	fieldValue(b domain.Bucket) string
	displayName(b domain.Bucket) string
}

type termRenderer struct{}

func (termRenderer) fieldValue(b domain.Bucket) string  { return b.KeyString() }
func (termRenderer) displayName(b domain.Bucket) string { return b.KeyString() }

// rangeRenderer renders range buckets. Range upper bounds are exclusive, so
// the display name shows the last included integer.
type rangeRenderer struct{}

func (rangeRenderer) fieldValue(b domain.Bucket) string {
	return boundString(b.From) + "-" + boundString(b.To)
}

func (rangeRenderer) displayName(b domain.Bucket) string {
	from := truncate(b.From)
	to := truncate(b.To)
	switch {
	case from == 0 && to == 0:
		return fmt.Sprintf("%d and above", from)
	case from == 0:
		return fmt.Sprintf("Up to %d", to-1)
	case to == 0:
		return fmt.Sprintf("%d and above", from)
	default:
		return fmt.Sprintf("%d to %d", from, to-1)
	}
}

// histogramRenderer renders fixed-width buckets of interval.
type histogramRenderer struct {
	interval int
}

func (histogramRenderer) fieldValue(b domain.Bucket) string { return b.KeyString() }

func (r histogramRenderer) displayName(b domain.Bucket) string {
	lower := int64(math.Floor(keyFloat(b)))
	upper := lower + int64(r.interval) - 1
	if lower == 0 {
		return fmt.Sprintf("Up to %d", upper)
	}
	return fmt.Sprintf("%d to %d", lower, upper)
}

func rendererFor(field string, cfg domain.FacetConfig) (renderer, error) {
	switch {
	case cfg.Type.IsRange():
		return rangeRenderer{}, nil
	case cfg.Type == domain.FacetHistogram:
		if cfg.Interval == nil || *cfg.Interval <= 0 {
			return nil, fmt.Errorf("facet %q: %w", field, domain.ErrMissingHistogramInterval)
		}
		return histogramRenderer{interval: *cfg.Interval}, nil
	default:
		return termRenderer{}, nil
	}
}

// Render turns the buckets of one aggregation into a facet group.
func Render(field string, agg domain.Aggregation, baseURL string, selected domain.SelectedFacets, cfg domain.FacetConfig) (domain.FacetGroup, error) {
	r, err := rendererFor(field, cfg)
	if err != nil {
		return domain.FacetGroup{}, err
	}

	group := domain.FacetGroup{Name: GroupLabel(field, cfg), Results: []domain.FacetEntry{}}
	if _, ok := r.(rangeRenderer); ok && allEmpty(agg.Buckets) {
		return group, nil
	}

	links, err := newLinkBuilder(baseURL)
	if err != nil {
		return domain.FacetGroup{}, err
	}

	for _, b := range agg.Buckets {
		value := r.fieldValue(b)
		entry := domain.FacetEntry{
			Name:      r.displayName(b),
			Count:     b.DocCount,
			ShowCount: true,
			Disabled:  b.DocCount == 0,
		}
		if selected.Has(field, value) {
			entry.Selected = true
			entry.DeselectURL = links.deselectURL(field, value)
		} else {
			entry.SelectURL = links.selectURL(field, value)
		}
		group.Results = append(group.Results, entry)
	}
	return group, nil
}

// GroupLabel returns the configured label, or the field name with its first
// letter upper-cased.
func GroupLabel(field string, cfg domain.FacetConfig) string {
	if cfg.Label != "" {
		return cfg.Label
	}
	r, size := utf8.DecodeRuneInString(field)
	if r == utf8.RuneError {
		return field
	}
	return string(unicode.ToUpper(r)) + field[size:]
}

func allEmpty(buckets []domain.Bucket) bool {
	for _, b := range buckets {
		if b.DocCount != 0 {
			return false
		}
	}
	return true
}

func boundString(f *float64) string {
	if f == nil {
		return ""
	}
	return domain.FormatNumber(*f)
}

func truncate(f *float64) int64 {
	if f == nil {
		return 0
	}
	return int64(*f)
}

func keyFloat(b domain.Bucket) float64 {
	switch k := b.Key.(type) {
	case float64:
		return k
	case int:
		return float64(k)
	case int64:
		return float64(k)
	}
	f, err := strconv.ParseFloat(b.KeyString(), 64)
	if err != nil {
		return 0
	}
	return f
}
