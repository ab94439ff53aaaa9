package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FieldType is an index field type.
type FieldType string

// Index field types.
const (
	FieldKeyword FieldType = "keyword"
	FieldText    FieldType = "text"
	FieldInteger FieldType = "integer"
	FieldFloat   FieldType = "float"
	FieldBoolean FieldType = "boolean"
	FieldDate    FieldType = "date"
	FieldNested  FieldType = "nested"
)

// Static document field names.
const (
	FieldID           = "id"
	FieldUPC          = "upc"
	FieldTitle        = "title"
	FieldRawTitle     = "raw_title"
	FieldAllSKUs      = "all_skus"
	FieldDescription  = "description"
	FieldManufacturer = "manufacturer"
	FieldStock        = "stock"
	FieldCategories   = "categories"
	FieldScore        = "score"
	FieldURL          = "url"
)

// FieldDef declares one field of the index schema.
type FieldDef struct {
	Name           string
	Type           FieldType
	Analyzer       string
	SearchAnalyzer string
	CopyTo         string
	Boost          float64
	NotIndexed     bool
	Properties     []FieldDef

	// CopyTarget marks fields filled by the engine through copy_to; the
	// document mapper never emits them.
	CopyTarget bool
}

// FieldMap is the resolved index schema: the static field declarations
// followed by the dynamic attribute fields. It is immutable once built.
type FieldMap struct {
	fields  []FieldDef
	index   map[string]int
	dynamic []string
}

// NewFieldMap merges static and dynamic declarations. Static entries take
// precedence: a dynamic entry never replaces an existing key.
func NewFieldMap(static []FieldDef, dynamic []FieldDef) *FieldMap {
	m := &FieldMap{
		fields: make([]FieldDef, 0, len(static)+len(dynamic)),
		index:  make(map[string]int, len(static)+len(dynamic)),
	}
	for _, f := range static {
		if _, ok := m.index[f.Name]; ok {
			continue
		}
		m.index[f.Name] = len(m.fields)
		m.fields = append(m.fields, f)
	}
	for _, f := range dynamic {
		if _, ok := m.index[f.Name]; ok {
			continue
		}
		m.index[f.Name] = len(m.fields)
		m.fields = append(m.fields, f)
		m.dynamic = append(m.dynamic, f.Name)
	}
	return m
}

// Fields returns all field declarations in declaration order.
func (m *FieldMap) Fields() []FieldDef {
	out := make([]FieldDef, len(m.fields))
	copy(out, m.fields)
	return out
}

// Lookup returns the declaration for name.
func (m *FieldMap) Lookup(name string) (FieldDef, bool) {
	i, ok := m.index[name]
	if !ok {
		return FieldDef{}, false
	}
	return m.fields[i], true
}

// Names returns every field name in declaration order.
func (m *FieldMap) Names() []string {
	names := make([]string, 0, len(m.fields))
	for _, f := range m.fields {
		names = append(names, f.Name)
	}
	return names
}

// DynamicCodes returns the attribute codes projected as dynamic fields.
func (m *FieldMap) DynamicCodes() []string {
	out := make([]string, len(m.dynamic))
	copy(out, m.dynamic)
	return out
}

// IsDynamic reports whether name is a dynamic attribute field.
func (m *FieldMap) IsDynamic(name string) bool {
	for _, code := range m.dynamic {
		if code == name {
			return true
		}
	}
	return false
}

// StaticDocumentFields returns the static field names the mapper must emit.
func (m *FieldMap) StaticDocumentFields() []string {
	var names []string
	for _, f := range m.fields[:len(m.fields)-len(m.dynamic)] {
		if f.CopyTarget {
			continue
		}
		names = append(names, f.Name)
	}
	return names
}

// Document is the serialized form of one entity, keyed by field name.
// Dynamic attribute keys are absent when the entity lacks the attribute.
type Document map[string]any

// ID returns the document identifier.
func (d Document) ID() string {
	v, ok := d[FieldID]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// StockSnapshot is the indexed projection of one valid stock record.
type StockSnapshot struct {
	Partner    int64           `json:"partner"`
	Currency   string          `json:"currency"`
	Price      decimal.Decimal `json:"price"`
	NumInStock int             `json:"num_in_stock"`
	SKU        string          `json:"sku"`
}
