package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/catalogsearch/internal/cache"
	"github.com/utafrali/catalogsearch/internal/domain"
	"github.com/utafrali/catalogsearch/internal/engine"
	"github.com/utafrali/catalogsearch/internal/engine/memory"
	"github.com/utafrali/catalogsearch/internal/repository"
	apperrors "github.com/utafrali/catalogsearch/pkg/errors"
)

// rejectingEngine stores documents in memory but rejects the listed ids
// the way a bulk request reports per-document failures.
type rejectingEngine struct {
	*memory.Engine
	reject map[string]bool
}

func (e *rejectingEngine) BulkIndex(ctx context.Context, docs []domain.Document) error {
	var (
		accepted []domain.Document
		failures []engine.BulkFailure
	)
	for _, d := range docs {
		if e.reject[d.ID()] {
			failures = append(failures, engine.BulkFailure{ID: d.ID(), Reason: "mapper_parsing_exception"})
			continue
		}
		accepted = append(accepted, d)
	}
	if err := e.Engine.BulkIndex(ctx, accepted); err != nil {
		return err
	}
	if len(failures) > 0 {
		return &engine.BulkError{Failures: failures}
	}
	return nil
}

type failingDeleteEngine struct {
	*memory.Engine
	err error
}

func (e *failingDeleteEngine) Delete(context.Context, string) error { return e.err }

type spyCache struct {
	cache.Noop
	invalidations int
}

func (c *spyCache) Invalidate(context.Context) error {
	c.invalidations++
	return nil
}

type indexerFixture struct {
	catalogue *catalogue
	engine    *memory.Engine
	cache     *spyCache
	indexer   *Indexer
}

func newIndexerFixture(t *testing.T, facets domain.FacetConfigs, eng engine.SearchEngine) *indexerFixture {
	t.Helper()

	f := &indexerFixture{
		catalogue: newCatalogue(),
		cache:     &spyCache{},
	}
	if eng == nil {
		f.engine = memory.New()
		eng = f.engine
	}
	f.indexer = NewIndexer(IndexerDeps{
		Products:     f.catalogue,
		Repositories: f.catalogue.repositories(),
		Engine:       eng,
		Cache:        f.cache,
		Logger:       newTestLogger(),
	}, facets, IndexerConfig{BatchSize: 2, Workers: 2})
	return f
}

func searchIDs(t *testing.T, eng engine.SearchEngine, query *domain.SearchQuery) []string {
	t.Helper()
	if query.PerPage == 0 {
		query.PerPage = engine.MaxPerPage
	}
	result, err := eng.Search(context.Background(), query)
	require.NoError(t, err)
	out := make([]string, 0, len(result.Documents))
	for _, d := range result.Documents {
		out = append(out, d.ID())
	}
	return out
}

// ============================================================================
// Rebuild
// ============================================================================

func TestIndexer_RebuildIndexesEveryBatch(t *testing.T) {
	f := newIndexerFixture(t, nil, nil)
	for i := int64(1); i <= 5; i++ {
		f.catalogue.addProduct(i, "Widget", "9.99")
	}

	report, err := f.indexer.Rebuild(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ModeRebuild, report.Mode)
	assert.Equal(t, 5, report.Indexed)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 3, f.catalogue.listCalls, "batches of 2, 2 and 1")

	assert.ElementsMatch(t, []string{"1", "2", "3", "4", "5"}, searchIDs(t, f.engine, &domain.SearchQuery{}))
	assert.Equal(t, 1, f.cache.invalidations)
}

func TestIndexer_RebuildDropsStaleDocuments(t *testing.T) {
	f := newIndexerFixture(t, nil, nil)
	f.catalogue.addProduct(1, "Widget", "1")
	require.NoError(t, f.engine.Index(context.Background(), domain.Document{domain.FieldID: "99"}))

	_, err := f.indexer.Rebuild(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"1"}, searchIDs(t, f.engine, &domain.SearchQuery{}))
}

func TestIndexer_RebuildProjectsConfiguredAttributes(t *testing.T) {
	facets := domain.FacetConfigs{
		{Field: "color", Type: domain.FacetTerm},
		{Field: "title", Type: domain.FacetTerm},
	}
	f := newIndexerFixture(t, facets, nil)
	f.catalogue.attributes = []domain.AttributeDefinition{{Code: "color", Type: domain.AttributeOption}}
	f.catalogue.addProduct(1, "Red Shirt", "10")
	f.catalogue.addProduct(2, "Plain Mug", "4")
	f.catalogue.addProduct(3, "Shirt Of Unknown Colour", "12")
	f.catalogue.setAttribute(1, "color", domain.OptionValue("Red"))
	f.catalogue.setAttribute(3, "color", domain.ScalarValue(nil))

	_, err := f.indexer.Rebuild(context.Background())
	require.NoError(t, err)

	result, err := f.engine.Search(context.Background(), &domain.SearchQuery{PerPage: 10})
	require.NoError(t, err)
	require.Len(t, result.Documents, 3)

	byID := map[string]domain.Document{}
	for _, d := range result.Documents {
		byID[d.ID()] = d
	}
	assert.Equal(t, "Red", byID["1"]["color"])
	assert.NotContains(t, byID["2"], "color", "attributes that do not apply are pruned")
	assert.Contains(t, byID["3"], "color", "applicable attributes without a value are kept")
	assert.Nil(t, byID["3"]["color"])
	assert.Equal(t, "Red Shirt", byID["1"][domain.FieldTitle], "static fields win over configured codes")
}

func TestIndexer_RebuildWithoutAttributeCatalogue(t *testing.T) {
	f := newIndexerFixture(t, domain.FacetConfigs{{Field: "color", Type: domain.FacetTerm}}, nil)
	f.catalogue.listAttributesErr = repository.ErrSchemaNotReady
	f.catalogue.addProduct(1, "Widget", "1")
	f.catalogue.setAttribute(1, "color", domain.OptionValue("Red"))

	report, err := f.indexer.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Indexed)

	result, err := f.engine.Search(context.Background(), &domain.SearchQuery{})
	require.NoError(t, err)
	assert.NotContains(t, result.Documents[0], "color")
}

func TestIndexer_RebuildUnsupportedAttributeType(t *testing.T) {
	f := newIndexerFixture(t, domain.FacetConfigs{{Field: "image", Type: domain.FacetTerm}}, nil)
	f.catalogue.attributes = []domain.AttributeDefinition{{Code: "image", Type: "file"}}

	_, err := f.indexer.Rebuild(context.Background())
	require.Error(t, err)

	exists, err := f.engine.IndexExists(context.Background())
	require.NoError(t, err)
	assert.False(t, exists, "the index is left untouched when the schema cannot be resolved")
}

func TestIndexer_SkipsProductsThatFailToMap(t *testing.T) {
	f := newIndexerFixture(t, nil, nil)
	for i := int64(1); i <= 3; i++ {
		f.catalogue.addProduct(i, "Widget", "1")
	}
	f.catalogue.stockErr[2] = errors.New("connection reset")

	report, err := f.indexer.Rebuild(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Indexed)
	assert.Equal(t, 1, report.Failed)
	assert.ElementsMatch(t, []string{"1", "3"}, searchIDs(t, f.engine, &domain.SearchQuery{}))
}

func TestIndexer_SkipsDocumentsRejectedByEngine(t *testing.T) {
	eng := &rejectingEngine{Engine: memory.New(), reject: map[string]bool{"2": true}}
	f := newIndexerFixture(t, nil, eng)
	for i := int64(1); i <= 3; i++ {
		f.catalogue.addProduct(i, "Widget", "1")
	}

	report, err := f.indexer.Rebuild(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Indexed)
	assert.Equal(t, 1, report.Failed)
	assert.ElementsMatch(t, []string{"1", "3"}, searchIDs(t, eng, &domain.SearchQuery{}))
}

func TestIndexer_RejectsConcurrentPasses(t *testing.T) {
	f := newIndexerFixture(t, nil, nil)

	f.indexer.running.Lock()
	defer f.indexer.running.Unlock()

	_, err := f.indexer.Rebuild(context.Background())
	assert.ErrorIs(t, err, ErrIndexingInProgress)

	_, err = f.indexer.Update(context.Background())
	assert.ErrorIs(t, err, ErrIndexingInProgress)
}

// ============================================================================
// Update
// ============================================================================

func TestIndexer_UpdateKeepsIndex(t *testing.T) {
	f := newIndexerFixture(t, nil, nil)
	ctx := context.Background()
	require.NoError(t, f.engine.CreateIndex(ctx, []byte(`{}`)))
	require.NoError(t, f.engine.Index(ctx, domain.Document{domain.FieldID: "99"}))
	f.catalogue.addProduct(1, "Widget", "1")

	report, err := f.indexer.Update(ctx)
	require.NoError(t, err)

	assert.Equal(t, ModeUpdate, report.Mode)
	assert.Equal(t, 1, report.Indexed)
	assert.ElementsMatch(t, []string{"1", "99"}, searchIDs(t, f.engine, &domain.SearchQuery{}))
}

func TestIndexer_UpdateEmptyCatalogue(t *testing.T) {
	f := newIndexerFixture(t, nil, nil)

	report, err := f.indexer.Update(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Indexed)
	assert.Equal(t, 1, f.catalogue.listCalls)
}

// ============================================================================
// Single products
// ============================================================================

func TestIndexer_IndexProduct(t *testing.T) {
	f := newIndexerFixture(t, nil, nil)
	f.catalogue.addProduct(7, "Blue Shirt", "19.90")
	f.catalogue.orders[7] = 4

	require.NoError(t, f.indexer.IndexProduct(context.Background(), 7))

	result, err := f.engine.Search(context.Background(), &domain.SearchQuery{Query: "shirt"})
	require.NoError(t, err)
	require.Len(t, result.Documents, 1)
	doc := result.Documents[0]
	assert.Equal(t, "7", doc.ID())
	assert.Equal(t, float64(4), doc[domain.FieldScore])
	assert.Equal(t, "/catalogue/blue-shirt_7/", doc[domain.FieldURL])
	assert.Equal(t, 1, f.cache.invalidations)
}

func TestIndexer_IndexProductNotFoundRemovesStaleDocument(t *testing.T) {
	f := newIndexerFixture(t, nil, nil)
	require.NoError(t, f.engine.Index(context.Background(), domain.Document{domain.FieldID: "404", domain.FieldTitle: "Gone"}))

	err := f.indexer.IndexProduct(context.Background(), 404)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Empty(t, searchIDs(t, f.engine, &domain.SearchQuery{}))
	assert.Equal(t, 1, f.cache.invalidations)
}

func TestIndexer_IndexProductNotFoundDeleteFails(t *testing.T) {
	down := errors.New("cluster unreachable")
	f := newIndexerFixture(t, nil, &failingDeleteEngine{Engine: memory.New(), err: down})

	err := f.indexer.IndexProduct(context.Background(), 404)
	assert.ErrorIs(t, err, down)
	assert.NotErrorIs(t, err, apperrors.ErrNotFound)
}

func TestIndexer_IndexProductMappingError(t *testing.T) {
	f := newIndexerFixture(t, nil, nil)
	f.catalogue.addProduct(7, "Blue Shirt", "19.90")
	dbErr := errors.New("connection reset")
	f.catalogue.stockErr[7] = dbErr

	err := f.indexer.IndexProduct(context.Background(), 7)
	assert.ErrorIs(t, err, dbErr)
}

func TestIndexer_DeleteProduct(t *testing.T) {
	f := newIndexerFixture(t, nil, nil)
	f.catalogue.addProduct(7, "Blue Shirt", "19.90")
	require.NoError(t, f.indexer.IndexProduct(context.Background(), 7))

	require.NoError(t, f.indexer.DeleteProduct(context.Background(), 7))
	assert.Empty(t, searchIDs(t, f.engine, &domain.SearchQuery{}))
	assert.Equal(t, 2, f.cache.invalidations)
}

// ============================================================================
// EnsureIndex
// ============================================================================

func TestIndexer_EnsureIndexBuildsMissingIndex(t *testing.T) {
	f := newIndexerFixture(t, nil, nil)
	f.catalogue.addProduct(1, "Widget", "1")

	require.NoError(t, f.indexer.EnsureIndex(context.Background()))
	assert.Equal(t, []string{"1"}, searchIDs(t, f.engine, &domain.SearchQuery{}))
}

func TestIndexer_EnsureIndexKeepsExistingIndex(t *testing.T) {
	f := newIndexerFixture(t, nil, nil)
	ctx := context.Background()
	require.NoError(t, f.engine.Index(ctx, domain.Document{domain.FieldID: "99"}))
	f.catalogue.addProduct(1, "Widget", "1")

	require.NoError(t, f.indexer.EnsureIndex(ctx))
	assert.Equal(t, []string{"99"}, searchIDs(t, f.engine, &domain.SearchQuery{}))
	assert.Equal(t, 0, f.catalogue.listCalls)
}
