package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/utafrali/catalogsearch/internal/domain"
	"github.com/utafrali/catalogsearch/internal/repository"
)

// ErrUnsupportedAttributeType is returned for attribute types that have no
// index field type.
var ErrUnsupportedAttributeType = errors.New("unsupported attribute type")

var attributeFieldTypes = map[domain.AttributeType]domain.FieldType{
	domain.AttributeText:        domain.FieldKeyword,
	domain.AttributeRichText:    domain.FieldKeyword,
	domain.AttributeOption:      domain.FieldKeyword,
	domain.AttributeMultiOption: domain.FieldKeyword,
	domain.AttributeInteger:     domain.FieldInteger,
	domain.AttributeFloat:       domain.FieldFloat,
	domain.AttributeBoolean:     domain.FieldBoolean,
	domain.AttributeDate:        domain.FieldDate,
	domain.AttributeDateTime:    domain.FieldDate,
}

// FieldTypeFor maps an attribute type to its index field type.
func FieldTypeFor(t domain.AttributeType) (domain.FieldType, error) {
	ft, ok := attributeFieldTypes[t]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAttributeType, t)
	}
	return ft, nil
}

// Resolver builds the index field map from the static declarations and the
// configured facetable attributes.
type Resolver struct {
	attributes repository.AttributeRepository
	logger     *slog.Logger
}

// NewResolver creates a new schema resolver.
func NewResolver(attributes repository.AttributeRepository, logger *slog.Logger) *Resolver {
	return &Resolver{attributes: attributes, logger: logger}
}

// Resolve returns the field map for the configured attribute codes. Codes
// that collide with a static field or are unknown to the catalogue are
// skipped. If the catalogue schema is not migrated yet only the static
// fields are returned.
func (r *Resolver) Resolve(ctx context.Context, configuredCodes []string) (*domain.FieldMap, error) {
	static := StaticFields()

	codes := make([]string, 0, len(configuredCodes))
	seen := make(map[string]struct{}, len(configuredCodes))
	for _, code := range configuredCodes {
		if _, ok := seen[code]; ok || IsStaticField(code) {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	if len(codes) == 0 {
		return domain.NewFieldMap(static, nil), nil
	}

	defs, err := r.attributes.ListAttributes(ctx, codes)
	if err != nil {
		if errors.Is(err, repository.ErrSchemaNotReady) {
			r.logger.WarnContext(ctx, "attribute catalogue unavailable, indexing static fields only",
				slog.String("error", err.Error()),
			)
			return domain.NewFieldMap(static, nil), nil
		}
		return nil, fmt.Errorf("list attributes: %w", err)
	}

	byCode := make(map[string]domain.AttributeDefinition, len(defs))
	for _, d := range defs {
		byCode[d.Code] = d
	}

	dynamic := make([]domain.FieldDef, 0, len(codes))
	for _, code := range codes {
		def, ok := byCode[code]
		if !ok {
			continue
		}
		ft, err := FieldTypeFor(def.Type)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", code, err)
		}
		dynamic = append(dynamic, domain.FieldDef{Name: code, Type: ft})
	}

	return domain.NewFieldMap(static, dynamic), nil
}
