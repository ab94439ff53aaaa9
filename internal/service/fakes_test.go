package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/utafrali/catalogsearch/internal/document"
	"github.com/utafrali/catalogsearch/internal/domain"
	apperrors "github.com/utafrali/catalogsearch/pkg/errors"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func int64Ptr(n int64) *int64     { return &n }
func intPtr(n int) *int           { return &n }
func floatPtr(f float64) *float64 { return &f }

// catalogue is an in-memory product catalogue backing every repository
// interface the indexer needs.
type catalogue struct {
	mu         sync.Mutex
	products   map[int64]domain.Product
	attributes []domain.AttributeDefinition
	values     map[int64]*domain.AttributeSet
	stock      map[int64][]domain.StockRecord
	categories map[int64][]domain.Category
	ancestors  map[int64][]int64
	orders     map[int64]int

	listAttributesErr error
	stockErr          map[int64]error
	listCalls         int
}

func newCatalogue() *catalogue {
	return &catalogue{
		products:   map[int64]domain.Product{},
		values:     map[int64]*domain.AttributeSet{},
		stock:      map[int64][]domain.StockRecord{},
		categories: map[int64][]domain.Category{},
		ancestors:  map[int64][]int64{},
		orders:     map[int64]int{},
		stockErr:   map[int64]error{},
	}
}

// addProduct stores a standalone product with one priced stock record.
func (c *catalogue) addProduct(id int64, title, price string) domain.Product {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := domain.Product{
		ID:             id,
		UPC:            fmt.Sprintf("UPC%04d", id),
		Title:          title,
		Slug:           "",
		Structure:      domain.StructureStandalone,
		ProductClassID: int64Ptr(1),
	}
	c.products[id] = p
	if price != "" {
		d := decimal.RequireFromString(price)
		c.stock[id] = []domain.StockRecord{{
			ID:            id,
			ProductID:     id,
			PartnerID:     int64Ptr(1),
			PartnerSKU:    fmt.Sprintf("SKU-%d", id),
			PriceCurrency: "EUR",
			PriceExclTax:  &d,
			NumInStock:    intPtr(5),
		}}
	}
	return p
}

func (c *catalogue) setAttribute(id int64, code string, v domain.AttributeValue) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.values[id]
	if !ok {
		set = domain.NewAttributeSet()
		c.values[id] = set
	}
	set.Set(code, v)
}

func (c *catalogue) repositories() document.Repositories {
	return document.Repositories{
		Attributes: attributeRepo{c},
		Stock:      stockRepo{c},
		Categories: categoryRepo{c},
		OrderLines: orderLineRepo{c},
	}
}

func (c *catalogue) GetByID(_ context.Context, id int64) (*domain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.products[id]
	if !ok {
		return nil, apperrors.NotFound("product", strconv.FormatInt(id, 10))
	}
	return &p, nil
}

func (c *catalogue) ListAfter(_ context.Context, afterID int64, limit int) ([]domain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.listCalls++
	ids := make([]int64, 0, len(c.products))
	for id := range c.products {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.products[id])
	}
	return out, nil
}

func (c *catalogue) Count(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.products), nil
}

type attributeRepo struct{ c *catalogue }

func (r attributeRepo) ListAttributes(_ context.Context, codes []string) ([]domain.AttributeDefinition, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	if r.c.listAttributesErr != nil {
		return nil, r.c.listAttributesErr
	}
	var out []domain.AttributeDefinition
	for _, d := range r.c.attributes {
		for _, code := range codes {
			if d.Code == code {
				out = append(out, d)
			}
		}
	}
	return out, nil
}

func (r attributeRepo) ProductAttributes(_ context.Context, product *domain.Product, _ []string) (*domain.AttributeSet, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	if set, ok := r.c.values[product.ID]; ok {
		return set, nil
	}
	return domain.NewAttributeSet(), nil
}

type stockRepo struct{ c *catalogue }

func (r stockRepo) ListForProduct(_ context.Context, productID int64) ([]domain.StockRecord, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	if err := r.c.stockErr[productID]; err != nil {
		return nil, err
	}
	return r.c.stock[productID], nil
}

type categoryRepo struct{ c *catalogue }

func (r categoryRepo) ListForProduct(_ context.Context, productID int64) ([]domain.Category, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	return r.c.categories[productID], nil
}

func (r categoryRepo) Ancestors(_ context.Context, categoryID int64) ([]int64, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	return r.c.ancestors[categoryID], nil
}

type orderLineRepo struct{ c *catalogue }

func (r orderLineRepo) CountSince(_ context.Context, productID int64, _ time.Time) (int, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	return r.c.orders[productID], nil
}
