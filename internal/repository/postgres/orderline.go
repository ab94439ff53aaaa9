package postgres

import (
	"context"
	"time"

	"github.com/utafrali/catalogsearch/pkg/database"
)

// OrderLineRepository implements repository.OrderLineRepository using PostgreSQL.
type OrderLineRepository struct {
	pool database.DBTX
}

// NewOrderLineRepository creates a new PostgreSQL-backed order line repository.
func NewOrderLineRepository(pool database.DBTX) *OrderLineRepository {
	return &OrderLineRepository{pool: pool}
}

// CountSince counts the product's order lines in orders placed at or after since.
func (r *OrderLineRepository) CountSince(ctx context.Context, productID int64, since time.Time) (_ int, err error) {
	query := `
		SELECT count(*)
		FROM order_lines l
		JOIN orders o ON o.id = l.order_id
		WHERE l.product_id = $1 AND o.date_placed >= $2`

	ctx, end := database.TraceQuery(ctx, "CountOrderLines", query)
	defer func() { end(err) }()

	var n int
	if err := r.pool.QueryRow(ctx, query, productID, since).Scan(&n); err != nil {
		return 0, wrapErr("count order lines", err)
	}
	return n, nil
}
