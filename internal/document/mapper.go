package document

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/utafrali/catalogsearch/internal/domain"
	"github.com/utafrali/catalogsearch/internal/repository"
	"github.com/utafrali/catalogsearch/pkg/slug"
)

// DefaultScoreWindowMonths is the popularity window used when none is configured.
const DefaultScoreWindowMonths = 3

// Repositories groups the catalogue collaborators the mapper reads from.
type Repositories struct {
	Attributes repository.AttributeRepository
	Stock      repository.StockRepository
	Categories repository.CategoryRepository
	OrderLines repository.OrderLineRepository
}

// Config tunes the mapper.
type Config struct {
	// ScoreWindowMonths is the number of calendar months of order history
	// counted into the score. Zero means DefaultScoreWindowMonths.
	ScoreWindowMonths int

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Mapper turns catalogue products into index documents shaped by a
// resolved field map. It holds no per-call state and is safe for
// concurrent use.
type Mapper struct {
	fields      *domain.FieldMap
	repos       Repositories
	scoreWindow int
	now         func() time.Time
}

// NewMapper creates a new document mapper.
func NewMapper(fields *domain.FieldMap, repos Repositories, cfg Config) *Mapper {
	if cfg.ScoreWindowMonths <= 0 {
		cfg.ScoreWindowMonths = DefaultScoreWindowMonths
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Mapper{
		fields:      fields,
		repos:       repos,
		scoreWindow: cfg.ScoreWindowMonths,
		now:         cfg.Now,
	}
}

// Fields returns the field map documents are shaped by.
func (m *Mapper) Fields() *domain.FieldMap {
	return m.fields
}

// Prepare builds the document for product. Every static field is present;
// dynamic attribute fields are present only when the attribute applies to
// the product.
func (m *Mapper) Prepare(ctx context.Context, product *domain.Product) (domain.Document, error) {
	doc := domain.Document{
		domain.FieldID:          strconv.FormatInt(product.ID, 10),
		domain.FieldUPC:         product.UPC,
		domain.FieldTitle:       product.Title,
		domain.FieldDescription: SanitizeDescription(product.Description),
		domain.FieldURL:         CanonicalURL(product),
	}

	if product.Manufacturer != nil {
		doc[domain.FieldManufacturer] = *product.Manufacturer
	} else {
		doc[domain.FieldManufacturer] = nil
	}

	stock, err := m.prepareStock(ctx, product)
	if err != nil {
		return nil, err
	}
	if stock == nil {
		doc[domain.FieldStock] = nil
	} else {
		doc[domain.FieldStock] = stock
	}

	categories, err := m.prepareCategories(ctx, product)
	if err != nil {
		return nil, err
	}
	doc[domain.FieldCategories] = categories

	score, err := m.prepareScore(ctx, product)
	if err != nil {
		return nil, err
	}
	doc[domain.FieldScore] = score

	if err := m.prepareAttributes(ctx, product, doc); err != nil {
		return nil, err
	}

	return doc, nil
}

// CanonicalURL returns the relative URL of the product detail page.
func CanonicalURL(product *domain.Product) string {
	s := product.Slug
	if s == "" {
		s = slug.Generate(product.Title)
	}
	return fmt.Sprintf("/catalogue/%s_%d/", s, product.ID)
}

// prepareStock returns nil for parent products and products without stock
// records. Records without a price or with a missing partner are left out.
func (m *Mapper) prepareStock(ctx context.Context, product *domain.Product) ([]domain.StockSnapshot, error) {
	if product.IsParent() {
		return nil, nil
	}

	records, err := m.repos.Stock.ListForProduct(ctx, product.ID)
	if err != nil {
		return nil, fmt.Errorf("list stock records for product %d: %w", product.ID, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	snapshots := make([]domain.StockSnapshot, 0, len(records))
	for i := range records {
		rec := &records[i]
		if rec.PriceExclTax == nil || rec.PriceExclTax.IsZero() {
			continue
		}
		if rec.PartnerID == nil {
			continue
		}
		snapshots = append(snapshots, domain.StockSnapshot{
			Partner:    *rec.PartnerID,
			Currency:   rec.PriceCurrency,
			Price:      *rec.PriceExclTax,
			NumInStock: rec.NetStockLevel(),
			SKU:        rec.PartnerSKU,
		})
	}
	return snapshots, nil
}

// prepareCategories returns the assigned categories and all their
// ancestors, deduplicated and in ascending order.
func (m *Mapper) prepareCategories(ctx context.Context, product *domain.Product) ([]int64, error) {
	assigned, err := m.repos.Categories.ListForProduct(ctx, product.ID)
	if err != nil {
		return nil, fmt.Errorf("list categories for product %d: %w", product.ID, err)
	}

	seen := make(map[int64]struct{})
	for _, c := range assigned {
		seen[c.ID] = struct{}{}
		ancestors, err := m.repos.Categories.Ancestors(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("list ancestors of category %d: %w", c.ID, err)
		}
		for _, id := range ancestors {
			seen[id] = struct{}{}
		}
	}

	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *Mapper) prepareScore(ctx context.Context, product *domain.Product) (int, error) {
	since := m.now().AddDate(0, -m.scoreWindow, 0)
	n, err := m.repos.OrderLines.CountSince(ctx, product.ID, since)
	if err != nil {
		return 0, fmt.Errorf("count order lines for product %d: %w", product.ID, err)
	}
	return n, nil
}

func (m *Mapper) prepareAttributes(ctx context.Context, product *domain.Product, doc domain.Document) error {
	codes := m.fields.DynamicCodes()
	if len(codes) == 0 {
		return nil
	}

	set, err := m.repos.Attributes.ProductAttributes(ctx, product, codes)
	if err != nil {
		return fmt.Errorf("load attributes for product %d: %w", product.ID, err)
	}

	for _, code := range codes {
		lookup := set.Lookup(code)
		if !lookup.Found {
			continue
		}
		doc[code] = lookup.Value.Resolve()
	}
	return nil
}
