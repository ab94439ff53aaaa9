package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/utafrali/catalogsearch/internal/domain"
	"github.com/utafrali/catalogsearch/internal/engine"
	"github.com/utafrali/catalogsearch/internal/schema"
)

// DefaultIndexName is the default Elasticsearch index used for product documents.
const DefaultIndexName = "catalogue_products"

// DefaultBulkMaxBytes caps a bulk request body when Config leaves it unset.
const DefaultBulkMaxBytes = 5 << 20

// Config configures the Elasticsearch engine.
type Config struct {
	URL   string
	Index string

	// SearchFields are the fields full-text queries run against, with
	// optional "^boost" suffixes. Defaults to the static text fields.
	SearchFields []string

	// BulkMaxBytes caps the body of one bulk request. A document larger
	// than the cap is still sent, alone.
	BulkMaxBytes int

	// Transport replaces the client's HTTP transport when set.
	Transport http.RoundTripper
}

// Engine is an Elasticsearch-backed implementation of the SearchEngine interface.
type Engine struct {
	client       *elasticsearch.Client
	indexName    string
	searchFields []string
	bulkMaxBytes int
	logger       *slog.Logger
}

// esSearchResponse is the structure used to decode Elasticsearch search responses.
type esSearchResponse struct {
	Took int `json:"took"`
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			Source domain.Document `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations domain.RawAggregations `json:"aggregations"`
}

// esBulkResponse decodes a bulk response. Each item is keyed by its action.
type esBulkResponse struct {
	Errors bool                          `json:"errors"`
	Items  []map[string]esBulkItemResult `json:"items"`
}

type esBulkItemResult struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

// esErrorResponse is used to decode Elasticsearch error responses.
type esErrorResponse struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
	Status int `json:"status"`
}

var _ engine.SearchEngine = (*Engine)(nil)

// New creates a new Elasticsearch engine connected to cfg.URL. The index is
// not created here; see CreateIndex.
func New(cfg Config, logger *slog.Logger) (*Engine, error) {
	if cfg.Index == "" {
		cfg.Index = DefaultIndexName
	}
	if cfg.BulkMaxBytes <= 0 {
		cfg.BulkMaxBytes = DefaultBulkMaxBytes
	}
	if len(cfg.SearchFields) == 0 {
		cfg.SearchFields = schema.SearchFields(domain.NewFieldMap(schema.StaticFields(), nil))
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: failed to create client: %w", err)
	}

	return &Engine{
		client:       client,
		indexName:    cfg.Index,
		searchFields: cfg.SearchFields,
		bulkMaxBytes: cfg.BulkMaxBytes,
		logger:       logger,
	}, nil
}

// IndexName returns the name of the product index.
func (e *Engine) IndexName() string {
	return e.indexName
}

// Ping checks whether the Elasticsearch cluster is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	res, err := e.client.Ping(e.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch ping: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping: unexpected status %s", res.Status())
	}
	return nil
}

// IndexExists reports whether the product index exists.
func (e *Engine) IndexExists(ctx context.Context) (bool, error) {
	res, err := e.client.Indices.Exists(
		[]string{e.indexName},
		e.client.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return false, fmt.Errorf("elasticsearch index exists: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("elasticsearch index exists: unexpected status %s", res.Status())
	}
}

// CreateIndex creates the product index with the given settings and mappings.
func (e *Engine) CreateIndex(ctx context.Context, body []byte) error {
	res, err := e.client.Indices.Create(
		e.indexName,
		e.client.Indices.Create.WithBody(bytes.NewReader(body)),
		e.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch create index: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return responseError("elasticsearch create index", res)
	}

	e.logger.InfoContext(ctx, "elasticsearch index created", slog.String("index", e.indexName))
	return nil
}

// DeleteIndex removes the entire Elasticsearch index.
// A 404 response is treated as success (index already absent).
func (e *Engine) DeleteIndex(ctx context.Context) error {
	res, err := e.client.Indices.Delete(
		[]string{e.indexName},
		e.client.Indices.Delete.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch delete index: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return responseError("elasticsearch delete index", res)
	}

	e.logger.InfoContext(ctx, "elasticsearch index deleted", slog.String("index", e.indexName))
	return nil
}

// Index adds or replaces a single document in the Elasticsearch index.
func (e *Engine) Index(ctx context.Context, doc domain.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("elasticsearch index: marshal document: %w", err)
	}

	res, err := e.client.Index(
		e.indexName,
		bytes.NewReader(data),
		e.client.Index.WithDocumentID(doc.ID()),
		e.client.Index.WithRefresh("true"),
		e.client.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch index: %w: %w", engine.ErrUnavailable, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return responseError("elasticsearch index", res)
	}

	e.logger.DebugContext(ctx, "indexed document", slog.String("id", doc.ID()))
	return nil
}

// Delete removes a document from the Elasticsearch index by its ID.
// It does not return an error if the document does not exist (404 is ignored).
func (e *Engine) Delete(ctx context.Context, id string) error {
	res, err := e.client.Delete(
		e.indexName,
		id,
		e.client.Delete.WithRefresh("true"),
		e.client.Delete.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch delete: %w: %w", engine.ErrUnavailable, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return responseError("elasticsearch delete", res)
	}

	e.logger.DebugContext(ctx, "deleted document", slog.String("id", id))
	return nil
}

// BulkIndex adds or replaces documents through the bulk NDJSON API. The
// payload is split so no request body exceeds the configured byte cap.
// Per-document rejections from every chunk are collected into one
// *engine.BulkError.
func (e *Engine) BulkIndex(ctx context.Context, docs []domain.Document) error {
	if len(docs) == 0 {
		return nil
	}

	var (
		chunk    bytes.Buffer
		line     bytes.Buffer
		failures []engine.BulkFailure
		pending  int
	)
	flush := func() error {
		if pending == 0 {
			return nil
		}
		failed, err := e.sendBulk(ctx, chunk.Bytes())
		if err != nil {
			return err
		}
		failures = append(failures, failed...)
		chunk.Reset()
		pending = 0
		return nil
	}

	enc := json.NewEncoder(&line)
	for _, doc := range docs {
		line.Reset()
		if err := enc.Encode(bulkAction{Index: &bulkTarget{Index: e.indexName, ID: doc.ID()}}); err != nil {
			return fmt.Errorf("elasticsearch bulk index: encode action: %w", err)
		}
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("elasticsearch bulk index: encode document %s: %w", doc.ID(), err)
		}
		if pending > 0 && chunk.Len()+line.Len() > e.bulkMaxBytes {
			if err := flush(); err != nil {
				return err
			}
		}
		chunk.Write(line.Bytes())
		pending++
	}
	if err := flush(); err != nil {
		return err
	}

	if len(failures) > 0 {
		return &engine.BulkError{Failures: failures}
	}
	e.logger.DebugContext(ctx, "bulk indexed documents", slog.Int("count", len(docs)))
	return nil
}

type bulkAction struct {
	Index *bulkTarget `json:"index,omitempty"`
}

type bulkTarget struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

// sendBulk posts one NDJSON body and returns the items the cluster rejected.
func (e *Engine) sendBulk(ctx context.Context, body []byte) ([]engine.BulkFailure, error) {
	res, err := e.client.Bulk(
		bytes.NewReader(body),
		e.client.Bulk.WithIndex(e.indexName),
		e.client.Bulk.WithRefresh("true"),
		e.client.Bulk.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch bulk index: %w: %w", engine.ErrUnavailable, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return nil, responseError("elasticsearch bulk index", res)
	}

	var bulkResp esBulkResponse
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return nil, fmt.Errorf("elasticsearch bulk index: decode response: %w", err)
	}
	if !bulkResp.Errors {
		return nil, nil
	}

	var failures []engine.BulkFailure
	for _, item := range bulkResp.Items {
		for _, result := range item {
			if result.Error.Type == "" {
				continue
			}
			failures = append(failures, engine.BulkFailure{
				ID:     result.ID,
				Reason: result.Error.Type + ": " + result.Error.Reason,
			})
		}
	}
	return failures, nil
}

// Search executes a search query against Elasticsearch and returns the
// matching documents and facet aggregations.
func (e *Engine) Search(ctx context.Context, query *domain.SearchQuery) (*domain.SearchResult, error) {
	page, perPage := engine.NormalizePage(query.Page, query.PerPage)

	esQuery, err := e.buildSearchQuery(query, page, perPage)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(esQuery)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search: marshal query: %w", err)
	}

	res, err := e.client.Search(
		e.client.Search.WithIndex(e.indexName),
		e.client.Search.WithBody(bytes.NewReader(data)),
		e.client.Search.WithContext(ctx),
		e.client.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search: %w: %w", engine.ErrUnavailable, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return nil, responseError("elasticsearch search", res)
	}

	var esResp esSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&esResp); err != nil {
		return nil, fmt.Errorf("elasticsearch search: decode response: %w", err)
	}

	docs := make([]domain.Document, 0, len(esResp.Hits.Hits))
	for _, hit := range esResp.Hits.Hits {
		docs = append(docs, hit.Source)
	}

	return &domain.SearchResult{
		Documents:    docs,
		Total:        esResp.Hits.Total.Value,
		Page:         page,
		PerPage:      perPage,
		TookMs:       int64(esResp.Took),
		Aggregations: esResp.Aggregations,
	}, nil
}

// responseError decodes an Elasticsearch error response. Overload and
// server-side failures wrap engine.ErrUnavailable so callers can tell them
// from rejected requests.
func responseError(op string, res *esapi.Response) error {
	detail := "unexpected status " + res.Status()
	var errResp esErrorResponse
	if err := json.NewDecoder(res.Body).Decode(&errResp); err == nil && errResp.Error.Type != "" {
		detail = errResp.Error.Type + ": " + errResp.Error.Reason
	}
	if res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%s: %w: %s", op, engine.ErrUnavailable, detail)
	}
	return fmt.Errorf("%s: %s", op, detail)
}
