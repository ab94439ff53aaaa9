package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/utafrali/catalogsearch/internal/domain"
	"github.com/utafrali/catalogsearch/pkg/database"
)

// AttributeRepository implements repository.AttributeRepository using PostgreSQL.
type AttributeRepository struct {
	pool database.DBTX
}

// NewAttributeRepository creates a new PostgreSQL-backed attribute repository.
func NewAttributeRepository(pool database.DBTX) *AttributeRepository {
	return &AttributeRepository{pool: pool}
}

// ListAttributes returns one definition per code. When several product
// classes declare the same code the oldest declaration is used.
func (r *AttributeRepository) ListAttributes(ctx context.Context, codes []string) (_ []domain.AttributeDefinition, err error) {
	query := `
		SELECT DISTINCT ON (code) code, type
		FROM attributes
		WHERE code = ANY($1)
		ORDER BY code, id`

	ctx, end := database.TraceQuery(ctx, "ListAttributes", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, codes)
	if err != nil {
		return nil, wrapErr("list attributes", err)
	}
	defer rows.Close()

	defs := []domain.AttributeDefinition{}
	for rows.Next() {
		var (
			d   domain.AttributeDefinition
			typ string
		)
		if err := rows.Scan(&d.Code, &typ); err != nil {
			return nil, wrapErr("scan attribute row", err)
		}
		d.Type = domain.AttributeType(typ)
		defs = append(defs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate attribute rows", err)
	}

	return defs, nil
}

// ProductAttributes returns the attributes among codes that belong to the
// product's class. An attribute of the class without a stored value is
// applicable but empty.
func (r *AttributeRepository) ProductAttributes(ctx context.Context, product *domain.Product, codes []string) (_ *domain.AttributeSet, err error) {
	set := domain.NewAttributeSet()
	if product.ProductClassID == nil || len(codes) == 0 {
		return set, nil
	}

	query := `
		SELECT a.code, a.type, v.id,
		       v.value_text, v.value_integer, v.value_boolean, v.value_float,
		       v.value_date, v.value_datetime, o.option,
		       COALESCE((
		           SELECT array_agg(mo.option ORDER BY mo.option)
		           FROM product_attribute_value_options vo
		           JOIN attribute_options mo ON mo.id = vo.option_id
		           WHERE vo.value_id = v.id
		       ), '{}') AS options
		FROM attributes a
		LEFT JOIN product_attribute_values v ON v.attribute_id = a.id AND v.product_id = $1
		LEFT JOIN attribute_options o ON o.id = v.value_option_id
		WHERE a.product_class_id = $2 AND a.code = ANY($3)
		ORDER BY a.code`

	ctx, end := database.TraceQuery(ctx, "ProductAttributes", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, product.ID, *product.ProductClassID, codes)
	if err != nil {
		return nil, wrapErr("list product attributes", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			code, typ    string
			valueID      *int64
			text         *string
			integer      *int64
			boolean      *bool
			float        *float64
			date         *time.Time
			datetime     *time.Time
			option       *string
			multiOptions []string
		)
		if err := rows.Scan(
			&code, &typ, &valueID,
			&text, &integer, &boolean, &float,
			&date, &datetime, &option,
			&multiOptions,
		); err != nil {
			return nil, wrapErr("scan product attribute row", err)
		}

		if valueID == nil {
			set.Set(code, domain.ScalarValue(nil))
			continue
		}

		v, err := attributeValue(domain.AttributeType(typ), text, integer, boolean, float, date, datetime, option, multiOptions)
		if err != nil {
			return nil, fmt.Errorf("attribute %q of product %d: %w", code, product.ID, err)
		}
		set.Set(code, v)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate product attribute rows", err)
	}

	return set, nil
}

// attributeValue picks the typed column matching the attribute type.
func attributeValue(
	typ domain.AttributeType,
	text *string,
	integer *int64,
	boolean *bool,
	float *float64,
	date, datetime *time.Time,
	option *string,
	multiOptions []string,
) (domain.AttributeValue, error) {
	switch typ {
	case domain.AttributeText, domain.AttributeRichText:
		if text == nil {
			return domain.ScalarValue(nil), nil
		}
		return domain.ScalarValue(*text), nil
	case domain.AttributeInteger:
		if integer == nil {
			return domain.ScalarValue(nil), nil
		}
		return domain.ScalarValue(*integer), nil
	case domain.AttributeBoolean:
		if boolean == nil {
			return domain.ScalarValue(nil), nil
		}
		return domain.ScalarValue(*boolean), nil
	case domain.AttributeFloat:
		if float == nil {
			return domain.ScalarValue(nil), nil
		}
		return domain.ScalarValue(*float), nil
	case domain.AttributeDate:
		if date == nil {
			return domain.ScalarValue(nil), nil
		}
		return domain.ScalarValue(date.Format(time.DateOnly)), nil
	case domain.AttributeDateTime:
		if datetime == nil {
			return domain.ScalarValue(nil), nil
		}
		return domain.ScalarValue(datetime.UTC().Format(time.RFC3339)), nil
	case domain.AttributeOption:
		if option == nil {
			return domain.ScalarValue(nil), nil
		}
		return domain.OptionValue(*option), nil
	case domain.AttributeMultiOption:
		return domain.MultiOptionValue(multiOptions...), nil
	default:
		return domain.AttributeValue{}, fmt.Errorf("unsupported attribute type %q", typ)
	}
}
