package postgres

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/utafrali/catalogsearch/internal/domain"
	"github.com/utafrali/catalogsearch/pkg/database"
)

// StockRepository implements repository.StockRepository using PostgreSQL.
type StockRepository struct {
	pool database.DBTX
}

// NewStockRepository creates a new PostgreSQL-backed stock record repository.
func NewStockRepository(pool database.DBTX) *StockRepository {
	return &StockRepository{pool: pool}
}

// ListForProduct returns the product's stock records ordered by id. The
// partner id is nil when the referenced partner no longer exists.
func (r *StockRepository) ListForProduct(ctx context.Context, productID int64) (_ []domain.StockRecord, err error) {
	query := `
		SELECT s.id, s.product_id, pt.id, s.partner_sku, s.price_currency,
		       s.price_excl_tax::text, s.num_in_stock, s.num_allocated
		FROM stock_records s
		LEFT JOIN partners pt ON pt.id = s.partner_id
		WHERE s.product_id = $1
		ORDER BY s.id`

	ctx, end := database.TraceQuery(ctx, "ListStockRecords", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, productID)
	if err != nil {
		return nil, wrapErr("list stock records", err)
	}
	defer rows.Close()

	records := []domain.StockRecord{}
	for rows.Next() {
		var (
			s     domain.StockRecord
			price *string
		)
		if err := rows.Scan(
			&s.ID,
			&s.ProductID,
			&s.PartnerID,
			&s.PartnerSKU,
			&s.PriceCurrency,
			&price,
			&s.NumInStock,
			&s.NumAllocated,
		); err != nil {
			return nil, wrapErr("scan stock record row", err)
		}
		if price != nil {
			d, err := decimal.NewFromString(*price)
			if err != nil {
				return nil, fmt.Errorf("parse price of stock record %d: %w", s.ID, err)
			}
			s.PriceExclTax = &d
		}
		records = append(records, s)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate stock record rows", err)
	}

	return records, nil
}
