package engine

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/utafrali/catalogsearch/internal/domain"
)

// ErrInvalidFacetValue is returned for selected facet values that cannot be
// turned into a filter.
var ErrInvalidFacetValue = errors.New("invalid facet value")

// ErrUnavailable is returned when the engine cannot be reached.
var ErrUnavailable = errors.New("search engine unavailable")

// DefaultTermsSize is the number of term buckets returned when a facet does
// not configure a size.
const DefaultTermsSize = 10

// IndexField returns the document path a facet aggregates and filters on.
func IndexField(cfg domain.FacetConfig) string {
	if cfg.Nested != "" {
		return cfg.Nested + "." + cfg.Field
	}
	return cfg.Field
}

// TermsSize returns the configured number of term buckets.
func TermsSize(cfg domain.FacetConfig) int {
	if cfg.Size > 0 {
		return cfg.Size
	}
	return DefaultTermsSize
}

// Bounds is a half-open numeric interval [From, To). Nil bounds are open.
type Bounds struct {
	From *float64
	To   *float64
}

// Contains reports whether v lies within the bounds.
func (b Bounds) Contains(v float64) bool {
	if b.From != nil && v < *b.From {
		return false
	}
	if b.To != nil && v >= *b.To {
		return false
	}
	return true
}

// ParseRangeValue parses a range facet value of the form "<from>-<to>"
// where either bound may be empty and either may be negative, as in
// "-10-0" or "--5".
func ParseRangeValue(value string) (Bounds, error) {
	sep := rangeSeparator(value)
	if sep < 0 {
		return Bounds{}, fmt.Errorf("%w: %q is not a range", ErrInvalidFacetValue, value)
	}
	fromStr, toStr := value[:sep], value[sep+1:]
	var b Bounds
	if fromStr != "" {
		f, err := strconv.ParseFloat(fromStr, 64)
		if err != nil {
			return Bounds{}, fmt.Errorf("%w: %q: %v", ErrInvalidFacetValue, value, err)
		}
		b.From = &f
	}
	if toStr != "" {
		t, err := strconv.ParseFloat(toStr, 64)
		if err != nil {
			return Bounds{}, fmt.Errorf("%w: %q: %v", ErrInvalidFacetValue, value, err)
		}
		b.To = &t
	}
	return b, nil
}

// rangeSeparator returns the index of the dash between the bounds: the
// first one that ends a number, or a leading dash when from is empty.
func rangeSeparator(value string) int {
	for i := 1; i < len(value); i++ {
		if value[i] != '-' {
			continue
		}
		if c := value[i-1]; c == '.' || (c >= '0' && c <= '9') {
			return i
		}
	}
	if strings.HasPrefix(value, "-") {
		return 0
	}
	return -1
}

// ParseHistogramValue parses a histogram bucket key into the bucket bounds.
func ParseHistogramValue(value string, interval int) (Bounds, error) {
	key, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return Bounds{}, fmt.Errorf("%w: %q: %v", ErrInvalidFacetValue, value, err)
	}
	lo := math.Floor(key)
	hi := lo + float64(interval)
	return Bounds{From: &lo, To: &hi}, nil
}

// HistogramInterval returns the configured interval of a histogram facet.
func HistogramInterval(cfg domain.FacetConfig) (int, error) {
	if cfg.Interval == nil || *cfg.Interval <= 0 {
		return 0, fmt.Errorf("facet %q: %w", cfg.Field, domain.ErrMissingHistogramInterval)
	}
	return *cfg.Interval, nil
}

// SelectedBounds parses the selected values of a range or histogram facet.
func SelectedBounds(cfg domain.FacetConfig, values []string) ([]Bounds, error) {
	bounds := make([]Bounds, 0, len(values))
	for _, v := range values {
		var (
			b   Bounds
			err error
		)
		if cfg.Type == domain.FacetHistogram {
			interval, ierr := HistogramInterval(cfg)
			if ierr != nil {
				return nil, ierr
			}
			b, err = ParseHistogramValue(v, interval)
		} else {
			b, err = ParseRangeValue(v)
		}
		if err != nil {
			return nil, fmt.Errorf("facet %q: %w", cfg.Field, err)
		}
		bounds = append(bounds, b)
	}
	return bounds, nil
}
