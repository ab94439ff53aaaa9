package postgres

import (
	"context"

	"github.com/utafrali/catalogsearch/internal/domain"
	"github.com/utafrali/catalogsearch/pkg/database"
)

// CategoryRepository implements repository.CategoryRepository using PostgreSQL.
type CategoryRepository struct {
	pool database.DBTX
}

// NewCategoryRepository creates a new PostgreSQL-backed category repository.
func NewCategoryRepository(pool database.DBTX) *CategoryRepository {
	return &CategoryRepository{pool: pool}
}

// ListForProduct returns the categories directly assigned to the product.
func (r *CategoryRepository) ListForProduct(ctx context.Context, productID int64) (_ []domain.Category, err error) {
	query := `
		SELECT c.id, c.name, c.parent_id
		FROM categories c
		JOIN product_categories pc ON pc.category_id = c.id
		WHERE pc.product_id = $1
		ORDER BY c.id`

	ctx, end := database.TraceQuery(ctx, "ListProductCategories", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, productID)
	if err != nil {
		return nil, wrapErr("list product categories", err)
	}
	defer rows.Close()

	categories := []domain.Category{}
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.ParentID); err != nil {
			return nil, wrapErr("scan category row", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate category rows", err)
	}

	return categories, nil
}

// Ancestors walks the parent chain of a category. The category itself is
// not included.
func (r *CategoryRepository) Ancestors(ctx context.Context, categoryID int64) (_ []int64, err error) {
	query := `
		WITH RECURSIVE ancestors AS (
			SELECT parent_id AS id FROM categories WHERE id = $1
			UNION
			SELECT c.parent_id FROM categories c
			JOIN ancestors a ON c.id = a.id
		)
		SELECT id FROM ancestors WHERE id IS NOT NULL`

	ctx, end := database.TraceQuery(ctx, "CategoryAncestors", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, categoryID)
	if err != nil {
		return nil, wrapErr("list category ancestors", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrapErr("scan ancestor row", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate ancestor rows", err)
	}

	return ids, nil
}
