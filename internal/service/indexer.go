package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/utafrali/catalogsearch/internal/cache"
	"github.com/utafrali/catalogsearch/internal/document"
	"github.com/utafrali/catalogsearch/internal/domain"
	"github.com/utafrali/catalogsearch/internal/engine"
	"github.com/utafrali/catalogsearch/internal/repository"
	"github.com/utafrali/catalogsearch/internal/schema"
	apperrors "github.com/utafrali/catalogsearch/pkg/errors"
	"github.com/utafrali/catalogsearch/pkg/tracing"
)

// Index pass modes.
const (
	ModeRebuild = "rebuild"
	ModeUpdate  = "update"
	ModeSingle  = "single"
)

// ErrIndexingInProgress is returned when a rebuild or update is requested
// while another one is running.
var ErrIndexingInProgress = errors.New("indexing already in progress")

// Indexer defaults.
const (
	DefaultWorkers   = 4
	DefaultBatchSize = 200
)

// IndexerConfig tunes the indexing passes.
type IndexerConfig struct {
	Settings  schema.IndexSettings
	Workers   int
	BatchSize int
	Mapper    document.Config
}

// IndexReport summarises one rebuild or update pass.
type IndexReport struct {
	Mode     string        `json:"mode"`
	Indexed  int           `json:"indexed"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// IndexerDeps groups the collaborators of the Indexer.
type IndexerDeps struct {
	Products     repository.ProductRepository
	Repositories document.Repositories
	Engine       engine.SearchEngine
	Analyzers    *schema.AnalyzerRegistry
	Cache        cache.SearchCache
	Logger       *slog.Logger
}

// Indexer keeps the search index in sync with the catalogue.
type Indexer struct {
	products  repository.ProductRepository
	repos     document.Repositories
	engine    engine.SearchEngine
	resolver  *schema.Resolver
	analyzers *schema.AnalyzerRegistry
	cache     cache.SearchCache
	facets    domain.FacetConfigs
	cfg       IndexerConfig
	logger    *slog.Logger

	// running serialises full passes.
	running sync.Mutex

	mu     sync.RWMutex
	mapper *document.Mapper
}

// NewIndexer creates a new Indexer. The facet configuration decides which
// attributes are projected into the index.
func NewIndexer(deps IndexerDeps, facets domain.FacetConfigs, cfg IndexerConfig) *Indexer {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if deps.Analyzers == nil {
		deps.Analyzers = schema.NewDefaultAnalyzerRegistry()
	}
	if deps.Cache == nil {
		deps.Cache = cache.Noop{}
	}

	return &Indexer{
		products:  deps.Products,
		repos:     deps.Repositories,
		engine:    deps.Engine,
		resolver:  schema.NewResolver(deps.Repositories.Attributes, deps.Logger),
		analyzers: deps.Analyzers,
		cache:     deps.Cache,
		facets:    facets,
		cfg:       cfg,
		logger:    deps.Logger,
	}
}

// EnsureIndex rebuilds the index when it does not exist yet.
func (s *Indexer) EnsureIndex(ctx context.Context) error {
	exists, err := s.engine.IndexExists(ctx)
	if err != nil {
		return fmt.Errorf("ensure index: %w", err)
	}
	if exists {
		return nil
	}

	s.logger.InfoContext(ctx, "search index missing, rebuilding")
	if _, err := s.Rebuild(ctx); err != nil {
		return fmt.Errorf("ensure index: %w", err)
	}
	return nil
}

// Rebuild drops and recreates the index from the resolved field map, then
// indexes every product.
func (s *Indexer) Rebuild(ctx context.Context) (_ *IndexReport, err error) {
	if !s.running.TryLock() {
		return nil, ErrIndexingInProgress
	}
	defer s.running.Unlock()

	ctx, span := tracing.Start(ctx, "indexer.rebuild", tracing.IndexMode.String(ModeRebuild))
	defer func() { tracing.End(span, err) }()

	start := time.Now()

	fields, err := s.resolver.Resolve(ctx, s.facets.Fields())
	if err != nil {
		return nil, fmt.Errorf("rebuild: resolve fields: %w", err)
	}

	body, err := schema.BuildIndexBody(fields, s.analyzers, s.cfg.Settings)
	if err != nil {
		return nil, fmt.Errorf("rebuild: build index body: %w", err)
	}

	if err := s.engine.DeleteIndex(ctx); err != nil {
		return nil, fmt.Errorf("rebuild: %w", err)
	}
	if err := s.engine.CreateIndex(ctx, body); err != nil {
		return nil, fmt.Errorf("rebuild: %w", err)
	}

	mapper := document.NewMapper(fields, s.repos, s.cfg.Mapper)
	s.setMapper(mapper)

	s.logger.InfoContext(ctx, "search index recreated",
		slog.Int("fields", len(fields.Names())),
		slog.Int("dynamic_fields", len(fields.DynamicCodes())),
	)

	return s.run(ctx, ModeRebuild, mapper, start)
}

// Update re-indexes every product into the existing index.
func (s *Indexer) Update(ctx context.Context) (_ *IndexReport, err error) {
	if !s.running.TryLock() {
		return nil, ErrIndexingInProgress
	}
	defer s.running.Unlock()

	ctx, span := tracing.Start(ctx, "indexer.update", tracing.IndexMode.String(ModeUpdate))
	defer func() { tracing.End(span, err) }()

	start := time.Now()

	mapper, err := s.currentMapper(ctx)
	if err != nil {
		return nil, fmt.Errorf("update: %w", err)
	}
	return s.run(ctx, ModeUpdate, mapper, start)
}

// IndexProduct maps and indexes a single product. A product missing from
// the catalogue is removed from the index and the not-found error is still
// returned to the caller.
func (s *Indexer) IndexProduct(ctx context.Context, id int64) (err error) {
	ctx, span := tracing.Start(ctx, "indexer.index_product", tracing.ProductID.Int64(id))
	defer func() { tracing.End(span, err) }()

	mapper, err := s.currentMapper(ctx)
	if err != nil {
		return fmt.Errorf("index product: %w", err)
	}

	product, err := s.products.GetByID(ctx, id)
	if errors.Is(err, apperrors.ErrNotFound) {
		s.logger.InfoContext(ctx, "product gone, removing from index", slog.Int64("product_id", id))
		if derr := s.DeleteProduct(ctx, id); derr != nil {
			return fmt.Errorf("index product: %w", derr)
		}
		return fmt.Errorf("index product: %w", err)
	}
	if err != nil {
		return fmt.Errorf("index product: %w", err)
	}

	doc, err := mapper.Prepare(ctx, product)
	if err != nil {
		DocumentsFailed.WithLabelValues(ModeSingle, "map").Inc()
		return fmt.Errorf("index product %d: %w", id, err)
	}

	if err := s.engine.Index(ctx, doc); err != nil {
		DocumentsFailed.WithLabelValues(ModeSingle, "index").Inc()
		return fmt.Errorf("index product %d: %w", id, err)
	}
	DocumentsIndexed.WithLabelValues(ModeSingle).Inc()

	s.invalidateCache(ctx)
	s.logger.InfoContext(ctx, "product indexed", slog.Int64("product_id", id))
	return nil
}

// DeleteProduct removes a product from the index.
func (s *Indexer) DeleteProduct(ctx context.Context, id int64) (err error) {
	ctx, span := tracing.Start(ctx, "indexer.delete_product", tracing.ProductID.Int64(id))
	defer func() { tracing.End(span, err) }()

	if err := s.engine.Delete(ctx, strconv.FormatInt(id, 10)); err != nil {
		return fmt.Errorf("delete product %d: %w", id, err)
	}

	s.invalidateCache(ctx)
	s.logger.InfoContext(ctx, "product deleted from index", slog.Int64("product_id", id))
	return nil
}

// run walks the catalogue in id order, one batch at a time.
func (s *Indexer) run(ctx context.Context, mode string, mapper *document.Mapper, start time.Time) (*IndexReport, error) {
	report := &IndexReport{Mode: mode}
	defer func() {
		report.Duration = time.Since(start)
		IndexRunDuration.WithLabelValues(mode).Observe(report.Duration.Seconds())
		trace.SpanFromContext(ctx).SetAttributes(
			tracing.IndexedDocs.Int(report.Indexed),
			tracing.FailedDocs.Int(report.Failed),
		)
	}()

	if total, err := s.products.Count(ctx); err == nil {
		s.logger.InfoContext(ctx, "indexing products",
			slog.String("mode", mode),
			slog.Int("total", total),
		)
	}

	var afterID int64
	for {
		products, err := s.products.ListAfter(ctx, afterID, s.cfg.BatchSize)
		if err != nil {
			return report, fmt.Errorf("%s: list products: %w", mode, err)
		}
		if len(products) == 0 {
			break
		}

		if err := s.indexBatch(ctx, mode, mapper, products, report); err != nil {
			return report, fmt.Errorf("%s: %w", mode, err)
		}

		afterID = products[len(products)-1].ID
		if len(products) < s.cfg.BatchSize {
			break
		}
	}

	s.invalidateCache(ctx)
	s.logger.InfoContext(ctx, "indexing finished",
		slog.String("mode", mode),
		slog.Int("indexed", report.Indexed),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", time.Since(start)),
	)
	return report, nil
}

// indexBatch maps the batch concurrently and bulk indexes the documents
// that mapped cleanly. Failed products are logged and skipped.
func (s *Indexer) indexBatch(ctx context.Context, mode string, mapper *document.Mapper, products []domain.Product, report *IndexReport) error {
	docs := make([]domain.Document, len(products))
	mapErrs := make([]error, len(products))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i := range products {
		g.Go(func() error {
			doc, err := mapper.Prepare(gctx, &products[i])
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				mapErrs[i] = err
				return nil
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	ready := make([]domain.Document, 0, len(products))
	for i, doc := range docs {
		if mapErrs[i] != nil {
			report.Failed++
			DocumentsFailed.WithLabelValues(mode, "map").Inc()
			s.logger.ErrorContext(ctx, "failed to prepare product document",
				slog.Int64("product_id", products[i].ID),
				slog.String("error", mapErrs[i].Error()),
			)
			continue
		}
		ready = append(ready, doc)
	}
	if len(ready) == 0 {
		return nil
	}

	err := s.engine.BulkIndex(ctx, ready)
	var bulkErr *engine.BulkError
	switch {
	case errors.As(err, &bulkErr):
		for _, f := range bulkErr.Failures {
			s.logger.ErrorContext(ctx, "search engine rejected product document",
				slog.String("product_id", f.ID),
				slog.String("reason", f.Reason),
			)
		}
		report.Failed += len(bulkErr.Failures)
		report.Indexed += len(ready) - len(bulkErr.Failures)
		DocumentsFailed.WithLabelValues(mode, "index").Add(float64(len(bulkErr.Failures)))
		DocumentsIndexed.WithLabelValues(mode).Add(float64(len(ready) - len(bulkErr.Failures)))
	case err != nil:
		return fmt.Errorf("bulk index: %w", err)
	default:
		report.Indexed += len(ready)
		DocumentsIndexed.WithLabelValues(mode).Add(float64(len(ready)))
	}
	return nil
}

// currentMapper returns the mapper of the last rebuild, resolving the field
// map on first use.
func (s *Indexer) currentMapper(ctx context.Context) (*document.Mapper, error) {
	s.mu.RLock()
	mapper := s.mapper
	s.mu.RUnlock()
	if mapper != nil {
		return mapper, nil
	}

	fields, err := s.resolver.Resolve(ctx, s.facets.Fields())
	if err != nil {
		return nil, fmt.Errorf("resolve fields: %w", err)
	}
	mapper = document.NewMapper(fields, s.repos, s.cfg.Mapper)
	s.setMapper(mapper)
	return mapper, nil
}

func (s *Indexer) setMapper(m *document.Mapper) {
	s.mu.Lock()
	s.mapper = m
	s.mu.Unlock()
}

func (s *Indexer) invalidateCache(ctx context.Context) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate search cache", slog.String("error", err.Error()))
	}
}
