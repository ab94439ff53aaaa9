package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/catalogsearch/internal/domain"
	"github.com/utafrali/catalogsearch/internal/repository"
	"github.com/utafrali/catalogsearch/pkg/database"
	apperrors "github.com/utafrali/catalogsearch/pkg/errors"
)

// ─────────────────────────────────────────────────────────────────────────────
// helpers
// ─────────────────────────────────────────────────────────────────────────────

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	return database.NewMockPool(t)
}

func strPtr(s string) *string       { return &s }
func int64Ptr(n int64) *int64       { return &n }
func intPtr(n int) *int             { return &n }
func float64Ptr(f float64) *float64 { return &f }
func boolPtr(b bool) *bool          { return &b }

var now = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

var undefinedTable = &pgconn.PgError{Code: "42P01", Message: `relation "attributes" does not exist`}

// ─── Product ────────────────────────────────────────────────────────────────

var productCols = []string{
	"id", "upc", "title", "slug", "description", "structure",
	"product_class_id", "manufacturer", "created_at", "updated_at",
}

func productRow(id int64, title string) []any {
	return []any{
		id, "UPC-1", title, "widget", strPtr("<p>A fine widget</p>"), domain.StructureStandalone,
		int64Ptr(3), strPtr("Acme"), now, now,
	}
}

func TestProductRepository_GetByID_Success(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	repo := NewProductRepository(mock)

	mock.ExpectQuery("SELECT .+ FROM products p .+ WHERE p.id = \\$1").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows(productCols).AddRow(productRow(7, "Widget")...))

	p, err := repo.GetByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), p.ID)
	assert.Equal(t, "Widget", p.Title)
	assert.Equal(t, "<p>A fine widget</p>", p.Description)
	require.NotNil(t, p.ProductClassID)
	assert.Equal(t, int64(3), *p.ProductClassID)
	require.NotNil(t, p.Manufacturer)
	assert.Equal(t, "Acme", *p.Manufacturer)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_GetByID_NotFound(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	repo := NewProductRepository(mock)

	mock.ExpectQuery("SELECT .+ FROM products p").
		WithArgs(int64(404)).
		WillReturnError(pgx.ErrNoRows)

	p, err := repo.GetByID(context.Background(), 404)
	assert.Nil(t, p)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_ListAfter(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	repo := NewProductRepository(mock)

	mock.ExpectQuery("SELECT .+ FROM products p .+ WHERE p.id > \\$1 ORDER BY p.id LIMIT \\$2").
		WithArgs(int64(10), 2).
		WillReturnRows(pgxmock.NewRows(productCols).
			AddRow(productRow(11, "First")...).
			AddRow(productRow(12, "Second")...))

	products, err := repo.ListAfter(context.Background(), 10, 2)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, int64(11), products[0].ID)
	assert.Equal(t, "Second", products[1].Title)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_ListAfter_Empty(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	repo := NewProductRepository(mock)

	mock.ExpectQuery("SELECT .+ FROM products p").
		WithArgs(int64(99), 50).
		WillReturnRows(pgxmock.NewRows(productCols))

	products, err := repo.ListAfter(context.Background(), 99, 50)
	require.NoError(t, err)
	assert.NotNil(t, products)
	assert.Empty(t, products)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_Count(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	repo := NewProductRepository(mock)

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM products").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(42))

	n, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ─── Attributes ─────────────────────────────────────────────────────────────

var attributeValueCols = []string{
	"code", "type", "id",
	"value_text", "value_integer", "value_boolean", "value_float",
	"value_date", "value_datetime", "option", "options",
}

func valueRow(code string, typ domain.AttributeType, valueID *int64) []any {
	return []any{
		code, string(typ), valueID,
		(*string)(nil), (*int64)(nil), (*bool)(nil), (*float64)(nil),
		(*time.Time)(nil), (*time.Time)(nil), (*string)(nil), []string{},
	}
}

func TestAttributeRepository_ListAttributes(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	repo := NewAttributeRepository(mock)

	codes := []string{"color", "weight"}
	mock.ExpectQuery("SELECT DISTINCT ON \\(code\\) code, type FROM attributes WHERE code = ANY\\(\\$1\\)").
		WithArgs(codes).
		WillReturnRows(pgxmock.NewRows([]string{"code", "type"}).
			AddRow("color", "option").
			AddRow("weight", "float"))

	defs, err := repo.ListAttributes(context.Background(), codes)
	require.NoError(t, err)
	assert.Equal(t, []domain.AttributeDefinition{
		{Code: "color", Type: domain.AttributeOption},
		{Code: "weight", Type: domain.AttributeFloat},
	}, defs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttributeRepository_ListAttributes_SchemaNotReady(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	repo := NewAttributeRepository(mock)

	mock.ExpectQuery("SELECT DISTINCT ON").
		WithArgs([]string{"color"}).
		WillReturnError(undefinedTable)

	defs, err := repo.ListAttributes(context.Background(), []string{"color"})
	assert.Nil(t, defs)
	assert.ErrorIs(t, err, repository.ErrSchemaNotReady)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttributeRepository_ListAttributes_OtherErrorPropagates(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	repo := NewAttributeRepository(mock)

	mock.ExpectQuery("SELECT DISTINCT ON").
		WithArgs([]string{"color"}).
		WillReturnError(errors.New("connection reset"))

	_, err := repo.ListAttributes(context.Background(), []string{"color"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, repository.ErrSchemaNotReady)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttributeRepository_ProductAttributes(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	repo := NewAttributeRepository(mock)

	product := &domain.Product{ID: 7, ProductClassID: int64Ptr(3)}
	codes := []string{"color", "material", "weight", "size", "in_box"}

	color := valueRow("color", domain.AttributeOption, int64Ptr(1))
	color[9] = strPtr("Red")
	material := valueRow("material", domain.AttributeMultiOption, int64Ptr(2))
	material[10] = []string{"Cotton", "Wool"}
	weight := valueRow("weight", domain.AttributeFloat, int64Ptr(3))
	weight[6] = float64Ptr(1.5)
	inBox := valueRow("in_box", domain.AttributeBoolean, int64Ptr(4))
	inBox[5] = boolPtr(true)
	size := valueRow("size", domain.AttributeInteger, nil)

	mock.ExpectQuery("SELECT a.code, a.type, v.id, .+ FROM attributes a LEFT JOIN product_attribute_values v").
		WithArgs(int64(7), int64(3), codes).
		WillReturnRows(pgxmock.NewRows(attributeValueCols).
			AddRow(color...).
			AddRow(inBox...).
			AddRow(material...).
			AddRow(size...).
			AddRow(weight...))

	set, err := repo.ProductAttributes(context.Background(), product, codes)
	require.NoError(t, err)
	assert.Equal(t, 5, set.Len())
	assert.Equal(t, "Red", set.Lookup("color").Value.Resolve())
	assert.Equal(t, []string{"Cotton", "Wool"}, set.Lookup("material").Value.Resolve())
	assert.Equal(t, 1.5, set.Lookup("weight").Value.Resolve())
	assert.Equal(t, true, set.Lookup("in_box").Value.Resolve())

	sizeLookup := set.Lookup("size")
	assert.True(t, sizeLookup.Found)
	assert.Nil(t, sizeLookup.Value.Resolve())

	assert.Equal(t, domain.NotApplicable, set.Lookup("brand"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttributeRepository_ProductAttributes_NoProductClass(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	repo := NewAttributeRepository(mock)

	set, err := repo.ProductAttributes(context.Background(), &domain.Product{ID: 7}, []string{"color"})
	require.NoError(t, err)
	assert.Equal(t, 0, set.Len())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttributeRepository_ProductAttributes_UnknownType(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	repo := NewAttributeRepository(mock)

	mock.ExpectQuery("SELECT a.code").
		WithArgs(int64(7), int64(3), []string{"file"}).
		WillReturnRows(pgxmock.NewRows(attributeValueCols).
			AddRow(valueRow("file", domain.AttributeType("file"), int64Ptr(1))...))

	_, err := repo.ProductAttributes(context.Background(), &domain.Product{ID: 7, ProductClassID: int64Ptr(3)}, []string{"file"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported attribute type")
}

// ─── Stock records ──────────────────────────────────────────────────────────

var stockCols = []string{
	"id", "product_id", "partner_id", "partner_sku", "price_currency",
	"price_excl_tax", "num_in_stock", "num_allocated",
}

func TestStockRepository_ListForProduct(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	repo := NewStockRepository(mock)

	mock.ExpectQuery("SELECT .+ FROM stock_records s LEFT JOIN partners pt").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows(stockCols).
			AddRow(int64(1), int64(7), int64Ptr(2), "SKU-1", "EUR", strPtr("12.50"), intPtr(10), intPtr(3)).
			AddRow(int64(2), int64(7), (*int64)(nil), "SKU-2", "EUR", (*string)(nil), (*int)(nil), (*int)(nil)))

	records, err := repo.ListForProduct(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.NotNil(t, records[0].PriceExclTax)
	assert.True(t, decimal.RequireFromString("12.5").Equal(*records[0].PriceExclTax))
	assert.Equal(t, 7, records[0].NetStockLevel())
	assert.Equal(t, int64(2), *records[0].PartnerID)

	assert.Nil(t, records[1].PartnerID)
	assert.Nil(t, records[1].PriceExclTax)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ─── Categories ─────────────────────────────────────────────────────────────

func TestCategoryRepository_ListForProduct(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	repo := NewCategoryRepository(mock)

	mock.ExpectQuery("SELECT c.id, c.name, c.parent_id FROM categories c JOIN product_categories").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "parent_id"}).
			AddRow(int64(4), "Shirts", int64Ptr(2)).
			AddRow(int64(9), "Sale", (*int64)(nil)))

	categories, err := repo.ListForProduct(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, categories, 2)
	assert.Equal(t, "Shirts", categories[0].Name)
	assert.Equal(t, int64(2), *categories[0].ParentID)
	assert.Nil(t, categories[1].ParentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCategoryRepository_Ancestors(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	repo := NewCategoryRepository(mock)

	mock.ExpectQuery("WITH RECURSIVE ancestors AS").
		WithArgs(int64(4)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(2)).AddRow(int64(1)))

	ids, err := repo.Ancestors(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ─── Order lines ────────────────────────────────────────────────────────────

func TestOrderLineRepository_CountSince(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	repo := NewOrderLineRepository(mock)

	since := now.AddDate(0, -3, 0)
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM order_lines l JOIN orders o").
		WithArgs(int64(7), since).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(5))

	n, err := repo.CountSince(context.Background(), 7, since)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderLineRepository_CountSince_SchemaNotReady(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	repo := NewOrderLineRepository(mock)

	mock.ExpectQuery("SELECT count").
		WithArgs(int64(7), now).
		WillReturnError(undefinedTable)

	_, err := repo.CountSince(context.Background(), 7, now)
	assert.ErrorIs(t, err, repository.ErrSchemaNotReady)
	assert.NoError(t, mock.ExpectationsWereMet())
}
