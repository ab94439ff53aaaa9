package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Facet configuration errors.
var (
	ErrMissingFacetType         = errors.New("facet type not configured")
	ErrMissingHistogramInterval = errors.New("histogram interval not configured")
)

// FacetType selects how an aggregation is requested and rendered.
type FacetType string

// Facet types.
const (
	FacetTerm      FacetType = "term"
	FacetRange     FacetType = "range"
	FacetAutoRange FacetType = "auto_range"
	FacetHistogram FacetType = "histogram"
)

// IsValid reports whether t is a known facet type.
func (t FacetType) IsValid() bool {
	switch t {
	case FacetTerm, FacetRange, FacetAutoRange, FacetHistogram:
		return true
	}
	return false
}

// IsRange reports whether t is rendered as bounded ranges.
func (t FacetType) IsRange() bool {
	return t == FacetRange || t == FacetAutoRange
}

// RangeSpec is one requested bucket of a range facet. To is exclusive.
type RangeSpec struct {
	From *float64 `yaml:"from" json:"from,omitempty"`
	To   *float64 `yaml:"to" json:"to,omitempty"`
}

// FacetConfig is the user configuration of one facet field.
type FacetConfig struct {
	Field    string      `yaml:"field" json:"field"`
	Type     FacetType   `yaml:"type" json:"type"`
	Label    string      `yaml:"label,omitempty" json:"label,omitempty"`
	Interval *int        `yaml:"interval,omitempty" json:"interval,omitempty"`
	Ranges   []RangeSpec `yaml:"ranges,omitempty" json:"ranges,omitempty"`
	Size     int         `yaml:"size,omitempty" json:"size,omitempty"`
	Nested   string      `yaml:"nested,omitempty" json:"nested,omitempty"`
}

// FacetConfigs is the ordered facet configuration. Order is display order.
type FacetConfigs []FacetConfig

// Get returns the configuration for field.
func (c FacetConfigs) Get(field string) (FacetConfig, bool) {
	for _, fc := range c {
		if fc.Field == field {
			return fc, true
		}
	}
	return FacetConfig{}, false
}

// Fields returns the configured field names in order.
func (c FacetConfigs) Fields() []string {
	fields := make([]string, 0, len(c))
	for _, fc := range c {
		fields = append(fields, fc.Field)
	}
	return fields
}

// SelectedFacets maps a field to the values the caller has selected.
type SelectedFacets map[string][]string

// ParseSelectedFacets parses "field:value" pairs. Entries without a
// separator are ignored.
func ParseSelectedFacets(pairs []string) SelectedFacets {
	selected := make(SelectedFacets)
	for _, p := range pairs {
		field, value, ok := strings.Cut(p, ":")
		if !ok || field == "" {
			continue
		}
		selected[field] = append(selected[field], value)
	}
	return selected
}

// Has reports whether value is selected for field.
func (s SelectedFacets) Has(field, value string) bool {
	for _, v := range s[field] {
		if v == value {
			return true
		}
	}
	return false
}

// Bucket is one raw aggregation slice. Term buckets carry Key, range
// buckets carry From and/or To, histogram buckets carry a numeric Key.
type Bucket struct {
	Key         any      `json:"key,omitempty"`
	KeyAsString string   `json:"key_as_string,omitempty"`
	From        *float64 `json:"from,omitempty"`
	To          *float64 `json:"to,omitempty"`
	DocCount    int64    `json:"doc_count"`
}

// KeyString formats the bucket key. Terms on boolean fields come back
// keyed 1 or 0, so their key_as_string is used instead.
func (b Bucket) KeyString() string {
	if b.KeyAsString == "true" || b.KeyAsString == "false" {
		return b.KeyAsString
	}
	switch k := b.Key.(type) {
	case nil:
		return ""
	case string:
		return k
	case float64:
		return FormatNumber(k)
	case json.Number:
		return k.String()
	default:
		return fmt.Sprint(k)
	}
}

// FormatNumber formats a float without trailing zeros.
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Aggregation is a decoded bucketed aggregation result.
type Aggregation struct {
	Buckets []Bucket
}

// UnmarshalJSON accepts bucket arrays, keyed bucket objects, and
// single-bucket wrappers (nested or filter aggregations) whose child
// aggregation carries the buckets.
func (a *Aggregation) UnmarshalJSON(data []byte) error {
	members, err := decodeOrderedObject(data)
	if err != nil {
		return err
	}

	for _, m := range members {
		if m.Name != "buckets" {
			continue
		}
		return a.decodeBuckets(m.Value)
	}

	for _, m := range members {
		if !m.IsObject() {
			continue
		}
		var child Aggregation
		if err := json.Unmarshal(m.Value, &child); err != nil {
			continue
		}
		if child.Buckets != nil {
			a.Buckets = child.Buckets
			return nil
		}
	}

	a.Buckets = nil
	return nil
}

func (a *Aggregation) decodeBuckets(raw json.RawMessage) error {
	trimmed := bytes.TrimSpace(raw)
	if bytes.Equal(trimmed, []byte("null")) {
		a.Buckets = []Bucket{}
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var buckets []Bucket
		if err := json.Unmarshal(trimmed, &buckets); err != nil {
			return fmt.Errorf("decode buckets: %w", err)
		}
		if buckets == nil {
			buckets = []Bucket{}
		}
		a.Buckets = buckets
		return nil
	}

	members, err := decodeOrderedObject(trimmed)
	if err != nil {
		return fmt.Errorf("decode keyed buckets: %w", err)
	}
	a.Buckets = make([]Bucket, 0, len(members))
	for _, m := range members {
		var b Bucket
		if err := json.Unmarshal(m.Value, &b); err != nil {
			return fmt.Errorf("decode bucket %q: %w", m.Name, err)
		}
		if b.Key == nil {
			b.Key = m.Name
		}
		a.Buckets = append(a.Buckets, b)
	}
	return nil
}

// RawAggregation is one named entry of an engine aggregation response.
type RawAggregation struct {
	Name  string
	Value json.RawMessage
}

// IsObject reports whether the entry is a structured aggregation result
// rather than a scalar or metadata value.
func (r RawAggregation) IsObject() bool {
	trimmed := bytes.TrimSpace(r.Value)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// RawAggregations keeps engine aggregations in response order.
type RawAggregations []RawAggregation

// UnmarshalJSON decodes an aggregation object preserving key order.
func (r *RawAggregations) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*r = nil
		return nil
	}
	members, err := decodeOrderedObject(data)
	if err != nil {
		return err
	}
	*r = members
	return nil
}

// MarshalJSON encodes the aggregations as an object in order.
func (r RawAggregations) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(m.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		if len(m.Value) == 0 {
			buf.WriteString("null")
		} else {
			buf.Write(m.Value)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// decodeOrderedObject splits a JSON object into its members in order.
func decodeOrderedObject(data []byte) ([]RawAggregation, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("decode object: expected '{', got %v", tok)
	}

	members := []RawAggregation{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode object key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("decode object: unexpected key %v", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("decode object value %q: %w", key, err)
		}
		members = append(members, RawAggregation{Name: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decode object end: %w", err)
	}
	return members, nil
}

// FacetEntry is one renderable facet option.
type FacetEntry struct {
	Name        string `json:"name"`
	Count       int64  `json:"count"`
	ShowCount   bool   `json:"show_count"`
	Selected    bool   `json:"selected"`
	Disabled    bool   `json:"disabled"`
	SelectURL   string `json:"select_url,omitempty"`
	DeselectURL string `json:"deselect_url,omitempty"`
}

// FacetGroup is the rendered facet of one field.
type FacetGroup struct {
	Name    string       `json:"name"`
	Results []FacetEntry `json:"results"`
}

// Facet pairs a field with its rendered group. Slices of Facet keep the
// display order.
type Facet struct {
	Field string     `json:"field"`
	Group FacetGroup `json:"facet"`
}
