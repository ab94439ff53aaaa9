package schema

import "github.com/utafrali/catalogsearch/internal/domain"

// StaticFields returns the fixed field declarations of the product index.
// They are derived from the product itself and always take precedence over
// dynamic attribute fields with the same name.
func StaticFields() []domain.FieldDef {
	return []domain.FieldDef{
		{Name: domain.FieldID, Type: domain.FieldKeyword},
		{Name: domain.FieldUPC, Type: domain.FieldText, Analyzer: AnalyzerEdgeNGram, SearchAnalyzer: "standard"},
		{Name: domain.FieldTitle, Type: domain.FieldText, Analyzer: AnalyzerNGram, SearchAnalyzer: "standard", CopyTo: domain.FieldRawTitle},
		{Name: domain.FieldRawTitle, Type: domain.FieldText, Boost: 1.25, CopyTarget: true},
		{Name: domain.FieldAllSKUs, Type: domain.FieldText, Analyzer: "standard", CopyTarget: true},
		{Name: domain.FieldDescription, Type: domain.FieldText, Analyzer: "english"},
		{Name: domain.FieldManufacturer, Type: domain.FieldKeyword},
		{Name: domain.FieldStock, Type: domain.FieldNested, Properties: []domain.FieldDef{
			{Name: "currency", Type: domain.FieldKeyword},
			{Name: "sku", Type: domain.FieldKeyword, CopyTo: domain.FieldAllSKUs},
			{Name: "price", Type: domain.FieldFloat},
			{Name: "partner", Type: domain.FieldInteger},
			{Name: "num_in_stock", Type: domain.FieldInteger},
		}},
		{Name: domain.FieldCategories, Type: domain.FieldInteger},
		{Name: domain.FieldScore, Type: domain.FieldFloat},
		{Name: domain.FieldURL, Type: domain.FieldText, NotIndexed: true},
	}
}

// IsStaticField reports whether name is declared by StaticFields.
func IsStaticField(name string) bool {
	for _, f := range StaticFields() {
		if f.Name == name {
			return true
		}
	}
	return false
}
