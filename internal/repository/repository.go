package repository

import (
	"context"
	"errors"
	"time"

	"github.com/utafrali/catalogsearch/internal/domain"
)

// ErrSchemaNotReady is returned when the catalogue tables do not exist yet,
// e.g. before the relational schema has been migrated.
var ErrSchemaNotReady = errors.New("catalogue schema not ready")

// AttributeRepository reads attribute definitions and per-product values.
type AttributeRepository interface {
	// ListAttributes returns the definitions for the given codes.
	// Returns ErrSchemaNotReady if the attribute catalogue is unavailable.
	ListAttributes(ctx context.Context, codes []string) ([]domain.AttributeDefinition, error)

	// ProductAttributes returns the attributes among codes that apply to the
	// product, with their values. Codes not in the set are not applicable.
	ProductAttributes(ctx context.Context, product *domain.Product, codes []string) (*domain.AttributeSet, error)
}

// ProductRepository reads catalogue products.
type ProductRepository interface {
	// GetByID retrieves a product by its identifier.
	GetByID(ctx context.Context, id int64) (*domain.Product, error)

	// ListAfter returns up to limit products with an id greater than afterID,
	// ordered by id.
	ListAfter(ctx context.Context, afterID int64, limit int) ([]domain.Product, error)

	// Count returns the number of products.
	Count(ctx context.Context) (int, error)
}

// StockRepository reads stock records.
type StockRepository interface {
	// ListForProduct returns the product's stock records in storage order.
	ListForProduct(ctx context.Context, productID int64) ([]domain.StockRecord, error)
}

// CategoryRepository reads the category tree.
type CategoryRepository interface {
	// ListForProduct returns the categories directly assigned to the product.
	ListForProduct(ctx context.Context, productID int64) ([]domain.Category, error)

	// Ancestors returns the ids of every ancestor of the category.
	Ancestors(ctx context.Context, categoryID int64) ([]int64, error)
}

// OrderLineRepository reads order analytics.
type OrderLineRepository interface {
	// CountSince counts order lines for the product in orders placed at or
	// after since.
	CountSince(ctx context.Context, productID int64, since time.Time) (int, error)
}
