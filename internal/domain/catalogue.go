package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Product structure values.
const (
	StructureStandalone = "standalone"
	StructureParent     = "parent"
	StructureChild      = "child"
)

// Product is a catalogue entity as read from the relational store.
type Product struct {
	ID             int64     `json:"id"`
	UPC            string    `json:"upc"`
	Title          string    `json:"title"`
	Slug           string    `json:"slug"`
	Description    string    `json:"description"`
	Structure      string    `json:"structure"`
	ProductClassID *int64    `json:"product_class_id,omitempty"`
	Manufacturer   *string   `json:"manufacturer,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IsParent reports whether the product is a parent of variants.
func (p *Product) IsParent() bool {
	return p.Structure == StructureParent
}

// AttributeType is the declared type of a catalogue attribute.
type AttributeType string

// Attribute types known to the catalogue.
const (
	AttributeText        AttributeType = "text"
	AttributeInteger     AttributeType = "integer"
	AttributeBoolean     AttributeType = "boolean"
	AttributeFloat       AttributeType = "float"
	AttributeRichText    AttributeType = "richtext"
	AttributeDate        AttributeType = "date"
	AttributeDateTime    AttributeType = "datetime"
	AttributeOption      AttributeType = "option"
	AttributeMultiOption AttributeType = "multi_option"
)

// AttributeDefinition describes a dynamically configured product attribute.
type AttributeDefinition struct {
	Code string        `json:"code"`
	Type AttributeType `json:"type"`
}

// ValueKind discriminates the shape of an AttributeValue.
type ValueKind int

const (
	ValueScalar ValueKind = iota
	ValueOption
	ValueMultiOption
)

// AttributeValue is the value an entity carries for one attribute.
// Scalar holds a nil interface when the attribute applies but is empty.
type AttributeValue struct {
	Kind    ValueKind
	Scalar  any
	Option  string
	Options []string
}

// ScalarValue wraps a raw attribute value.
func ScalarValue(v any) AttributeValue {
	return AttributeValue{Kind: ValueScalar, Scalar: v}
}

// OptionValue wraps a single option reference by its label.
func OptionValue(label string) AttributeValue {
	return AttributeValue{Kind: ValueOption, Option: label}
}

// MultiOptionValue wraps a multi-valued option reference.
func MultiOptionValue(labels ...string) AttributeValue {
	return AttributeValue{Kind: ValueMultiOption, Options: labels}
}

// Resolve returns the value to serialize into the index. Multi-option
// values resolve to their distinct labels in ascending order.
func (v AttributeValue) Resolve() any {
	switch v.Kind {
	case ValueOption:
		return v.Option
	case ValueMultiOption:
		seen := make(map[string]struct{}, len(v.Options))
		labels := make([]string, 0, len(v.Options))
		for _, o := range v.Options {
			if _, ok := seen[o]; ok {
				continue
			}
			seen[o] = struct{}{}
			labels = append(labels, o)
		}
		sort.Strings(labels)
		return labels
	default:
		return v.Scalar
	}
}

// AttributeLookup is the result of asking an entity for one attribute:
// either Found with a value, or not applicable to the entity at all.
type AttributeLookup struct {
	Value AttributeValue
	Found bool
}

// NotApplicable is the lookup result for attributes the entity does not carry.
var NotApplicable = AttributeLookup{}

// Found wraps an attribute value as a successful lookup.
func Found(v AttributeValue) AttributeLookup {
	return AttributeLookup{Value: v, Found: true}
}

// AttributeSet holds the attributes applicable to one entity, keyed by code.
type AttributeSet struct {
	values map[string]AttributeValue
}

// NewAttributeSet creates an empty attribute set.
func NewAttributeSet() *AttributeSet {
	return &AttributeSet{values: make(map[string]AttributeValue)}
}

// Set records the value for an applicable attribute.
func (s *AttributeSet) Set(code string, v AttributeValue) {
	s.values[code] = v
}

// Lookup returns the value for code, or NotApplicable.
func (s *AttributeSet) Lookup(code string) AttributeLookup {
	if s == nil {
		return NotApplicable
	}
	v, ok := s.values[code]
	if !ok {
		return NotApplicable
	}
	return Found(v)
}

// Len returns the number of applicable attributes.
func (s *AttributeSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.values)
}

// StockRecord is one partner's offer of a product.
type StockRecord struct {
	ID            int64            `json:"id"`
	ProductID     int64            `json:"product_id"`
	PartnerID     *int64           `json:"partner_id,omitempty"`
	PartnerSKU    string           `json:"partner_sku"`
	PriceCurrency string           `json:"price_currency"`
	PriceExclTax  *decimal.Decimal `json:"price_excl_tax,omitempty"`
	NumInStock    *int             `json:"num_in_stock,omitempty"`
	NumAllocated  *int             `json:"num_allocated,omitempty"`
}

// NetStockLevel returns the stock available to buy: in stock minus allocated.
func (s *StockRecord) NetStockLevel() int {
	if s.NumInStock == nil {
		return 0
	}
	if s.NumAllocated == nil {
		return *s.NumInStock
	}
	return *s.NumInStock - *s.NumAllocated
}

// Category is a node of the category tree.
type Category struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ParentID *int64 `json:"parent_id,omitempty"`
}
