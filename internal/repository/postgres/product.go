package postgres

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/catalogsearch/internal/domain"
	"github.com/utafrali/catalogsearch/pkg/database"
	apperrors "github.com/utafrali/catalogsearch/pkg/errors"
)

// Child products inherit the product class of their parent.
const productColumns = `p.id, p.upc, p.title, p.slug, p.description, p.structure,
		COALESCE(p.product_class_id, parent.product_class_id) AS product_class_id,
		m.name AS manufacturer, p.created_at, p.updated_at`

const productFrom = `FROM products p
		LEFT JOIN products parent ON parent.id = p.parent_id
		LEFT JOIN manufacturers m ON m.id = p.manufacturer_id`

// ProductRepository implements repository.ProductRepository using PostgreSQL.
type ProductRepository struct {
	pool database.DBTX
}

// NewProductRepository creates a new PostgreSQL-backed product repository.
func NewProductRepository(pool database.DBTX) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByID retrieves a product by its ID.
func (r *ProductRepository) GetByID(ctx context.Context, id int64) (_ *domain.Product, err error) {
	query := `SELECT ` + productColumns + ` ` + productFrom + ` WHERE p.id = $1`

	ctx, end := database.TraceQuery(ctx, "GetProduct", query)
	defer func() { end(err) }()

	p, err := scanProduct(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("product", strconv.FormatInt(id, 10))
		}
		return nil, wrapErr("get product", err)
	}
	return p, nil
}

// ListAfter returns up to limit products with an id greater than afterID.
func (r *ProductRepository) ListAfter(ctx context.Context, afterID int64, limit int) (_ []domain.Product, err error) {
	query := `SELECT ` + productColumns + ` ` + productFrom + `
		WHERE p.id > $1
		ORDER BY p.id
		LIMIT $2`

	ctx, end := database.TraceQuery(ctx, "ListProductsAfter", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, wrapErr("list products", err)
	}
	defer rows.Close()

	products := []domain.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, wrapErr("scan product row", err)
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate product rows", err)
	}

	return products, nil
}

// Count returns the number of products.
func (r *ProductRepository) Count(ctx context.Context) (_ int, err error) {
	query := `SELECT count(*) FROM products`

	ctx, end := database.TraceQuery(ctx, "CountProducts", query)
	defer func() { end(err) }()

	var n int
	if err := r.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, wrapErr("count products", err)
	}
	return n, nil
}

func scanProduct(row pgx.Row) (*domain.Product, error) {
	var (
		p           domain.Product
		description *string
	)
	if err := row.Scan(
		&p.ID,
		&p.UPC,
		&p.Title,
		&p.Slug,
		&description,
		&p.Structure,
		&p.ProductClassID,
		&p.Manufacturer,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if description != nil {
		p.Description = *description
	}
	return &p, nil
}
