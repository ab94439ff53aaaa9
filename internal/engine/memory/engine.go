package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/utafrali/catalogsearch/internal/domain"
	"github.com/utafrali/catalogsearch/internal/engine"
)

// ErrIndexExists is returned by CreateIndex when the index already exists.
var ErrIndexExists = errors.New("index already exists")

// Engine is an in-memory implementation of the SearchEngine interface.
// Documents are stored in their JSON form, so values read back have the
// same shapes an Elasticsearch _source would have.
// Thread-safe via sync.RWMutex.
type Engine struct {
	mu     sync.RWMutex
	exists bool
	seq    int
	docs   map[string]storedDoc
}

type storedDoc struct {
	seq int
	doc domain.Document
}

var _ engine.SearchEngine = (*Engine)(nil)

// New creates a new in-memory search engine.
func New() *Engine {
	return &Engine{
		docs: make(map[string]storedDoc),
	}
}

// CreateIndex marks the index as created. The body must be valid JSON.
func (e *Engine) CreateIndex(_ context.Context, body []byte) error {
	if !json.Valid(body) {
		return fmt.Errorf("memory create index: invalid body")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.exists {
		return ErrIndexExists
	}
	e.exists = true
	return nil
}

// IndexExists reports whether the index has been created.
func (e *Engine) IndexExists(_ context.Context) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.exists, nil
}

// DeleteIndex drops every document and the index itself.
func (e *Engine) DeleteIndex(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.exists = false
	e.docs = make(map[string]storedDoc)
	return nil
}

// Index adds or replaces a single document in the in-memory index.
func (e *Engine) Index(_ context.Context, doc domain.Document) error {
	stored, err := normalize(doc)
	if err != nil {
		return fmt.Errorf("memory index: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.put(stored)
	return nil
}

// BulkIndex adds or replaces multiple documents. Documents that cannot be
// stored are reported through an *engine.BulkError.
func (e *Engine) BulkIndex(_ context.Context, docs []domain.Document) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var failures []engine.BulkFailure
	for _, doc := range docs {
		stored, err := normalize(doc)
		if err != nil {
			failures = append(failures, engine.BulkFailure{ID: doc.ID(), Reason: err.Error()})
			continue
		}
		e.put(stored)
	}
	if len(failures) > 0 {
		return &engine.BulkError{Failures: failures}
	}
	return nil
}

// put stores a normalized document. Replacing keeps the original position.
// Caller must hold the write lock.
func (e *Engine) put(doc domain.Document) {
	e.exists = true
	id := doc.ID()
	if existing, ok := e.docs[id]; ok {
		e.docs[id] = storedDoc{seq: existing.seq, doc: doc}
		return
	}
	e.seq++
	e.docs[id] = storedDoc{seq: e.seq, doc: doc}
}

// Delete removes a document from the in-memory index by its ID.
func (e *Engine) Delete(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.docs, id)
	return nil
}

// Search executes a search query against the in-memory index.
func (e *Engine) Search(_ context.Context, query *domain.SearchQuery) (*domain.SearchResult, error) {
	start := time.Now()

	filters, err := buildFilters(query)
	if err != nil {
		return nil, err
	}
	aggregators, err := buildAggregators(query.Facets)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	terms := strings.Fields(strings.ToLower(query.Query))
	matched := make([]storedDoc, 0)
	for _, sd := range e.docs {
		if !matchesText(sd.doc, terms) {
			continue
		}
		if !matchesFilters(sd.doc, filters) {
			continue
		}
		matched = append(matched, sd)
	}

	sortDocuments(matched, query.SortBy)

	var aggs domain.RawAggregations
	for _, agg := range aggregators {
		raw, err := agg.aggregate(matched)
		if err != nil {
			return nil, err
		}
		aggs = append(aggs, raw)
	}

	total := len(matched)
	page, perPage := engine.NormalizePage(query.Page, query.PerPage)

	offset := (page - 1) * perPage
	if offset > total {
		offset = total
	}
	end := offset + perPage
	if end > total {
		end = total
	}

	docs := make([]domain.Document, 0, end-offset)
	for _, sd := range matched[offset:end] {
		docs = append(docs, sd.doc)
	}

	return &domain.SearchResult{
		Documents:    docs,
		Total:        total,
		Page:         page,
		PerPage:      perPage,
		TookMs:       time.Since(start).Milliseconds(),
		Aggregations: aggs,
	}, nil
}

// Suggest returns unique titles containing the prefix, most popular first.
func (e *Engine) Suggest(_ context.Context, prefix string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	prefixLower := strings.ToLower(strings.TrimSpace(prefix))

	e.mu.RLock()
	defer e.mu.RUnlock()

	matched := make([]storedDoc, 0)
	for _, sd := range e.docs {
		title, _ := sd.doc[domain.FieldTitle].(string)
		if title == "" || !strings.Contains(strings.ToLower(title), prefixLower) {
			continue
		}
		matched = append(matched, sd)
	}
	sortDocuments(matched, domain.SortPopularity)

	seen := make(map[string]struct{})
	titles := []string{}
	for _, sd := range matched {
		title := sd.doc[domain.FieldTitle].(string)
		if _, ok := seen[title]; ok {
			continue
		}
		seen[title] = struct{}{}
		titles = append(titles, title)
		if len(titles) == limit {
			break
		}
	}
	return titles, nil
}

// normalize converts a document to its JSON form.
func normalize(doc domain.Document) (domain.Document, error) {
	if doc.ID() == "" {
		return nil, fmt.Errorf("document has no %s", domain.FieldID)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document %s: %w", doc.ID(), err)
	}
	var out domain.Document
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal document %s: %w", doc.ID(), err)
	}
	return out, nil
}

// fieldValues returns the values stored under a dotted path. Arrays are
// flattened at every level, matching how the engine indexes nested objects.
func fieldValues(doc domain.Document, path string) []any {
	current := []any{map[string]any(doc)}
	for _, part := range strings.Split(path, ".") {
		var next []any
		for _, c := range current {
			obj, ok := c.(map[string]any)
			if !ok {
				continue
			}
			next = appendFlat(next, obj[part])
		}
		current = next
	}
	return current
}

func appendFlat(dst []any, v any) []any {
	switch x := v.(type) {
	case nil:
		return dst
	case []any:
		for _, item := range x {
			dst = appendFlat(dst, item)
		}
		return dst
	default:
		return append(dst, x)
	}
}

// keyString formats a stored value the way term buckets key it.
func keyString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return domain.FormatNumber(x)
	default:
		return fmt.Sprint(x)
	}
}

// numeric converts a stored value to a number. Decimal prices are stored
// as strings.
func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// matchesText requires every query term to appear in one of the text
// fields or the stock SKUs.
func matchesText(doc domain.Document, terms []string) bool {
	if len(terms) == 0 {
		return true
	}

	var haystack []string
	for _, path := range []string{domain.FieldTitle, domain.FieldUPC, domain.FieldDescription, domain.FieldStock + ".sku"} {
		for _, v := range fieldValues(doc, path) {
			if s, ok := v.(string); ok {
				haystack = append(haystack, strings.ToLower(s))
			}
		}
	}
	text := strings.Join(haystack, " ")

	for _, term := range terms {
		if !strings.Contains(text, term) {
			return false
		}
	}
	return true
}

// filter is the compiled selection of one facet field. A document passes
// when any of its values matches any selected value.
type filter struct {
	path   string
	terms  map[string]struct{}
	bounds []engine.Bounds
}

func buildFilters(query *domain.SearchQuery) ([]filter, error) {
	var filters []filter
	for _, cfg := range query.Facets {
		values := query.Selected[cfg.Field]
		if len(values) == 0 {
			continue
		}
		f := filter{path: engine.IndexField(cfg)}
		if cfg.Type.IsRange() || cfg.Type == domain.FacetHistogram {
			bounds, err := engine.SelectedBounds(cfg, values)
			if err != nil {
				return nil, err
			}
			f.bounds = bounds
		} else {
			f.terms = make(map[string]struct{}, len(values))
			for _, v := range values {
				f.terms[v] = struct{}{}
			}
		}
		filters = append(filters, f)
	}
	return filters, nil
}

func matchesFilters(doc domain.Document, filters []filter) bool {
	for _, f := range filters {
		if !f.matches(doc) {
			return false
		}
	}
	return true
}

func (f filter) matches(doc domain.Document) bool {
	for _, v := range fieldValues(doc, f.path) {
		if f.terms != nil {
			if _, ok := f.terms[keyString(v)]; ok {
				return true
			}
			continue
		}
		n, ok := numeric(v)
		if !ok {
			continue
		}
		for _, b := range f.bounds {
			if b.Contains(n) {
				return true
			}
		}
	}
	return false
}

// aggregator computes one facet aggregation over the matched documents.
type aggregator struct {
	cfg      domain.FacetConfig
	path     string
	interval int
}

func buildAggregators(configs domain.FacetConfigs) ([]aggregator, error) {
	aggs := make([]aggregator, 0, len(configs))
	for _, cfg := range configs {
		a := aggregator{cfg: cfg, path: engine.IndexField(cfg)}
		if cfg.Type == domain.FacetHistogram {
			interval, err := engine.HistogramInterval(cfg)
			if err != nil {
				return nil, err
			}
			a.interval = interval
		}
		aggs = append(aggs, a)
	}
	return aggs, nil
}

func (a aggregator) aggregate(docs []storedDoc) (domain.RawAggregation, error) {
	var buckets []map[string]any
	switch {
	case a.cfg.Type.IsRange():
		buckets = a.rangeBuckets(docs)
	case a.cfg.Type == domain.FacetHistogram:
		buckets = a.histogramBuckets(docs)
	default:
		buckets = a.termBuckets(docs)
	}

	var body any = map[string]any{"buckets": buckets}
	if a.cfg.Nested != "" {
		body = map[string]any{
			"doc_count": len(docs),
			a.cfg.Field: body,
		}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return domain.RawAggregation{}, fmt.Errorf("memory aggregate %q: %w", a.cfg.Field, err)
	}
	return domain.RawAggregation{Name: a.cfg.Field, Value: data}, nil
}

func (a aggregator) termBuckets(docs []storedDoc) []map[string]any {
	counts := make(map[string]int)
	keys := make(map[string]any)
	for _, sd := range docs {
		seen := make(map[string]struct{})
		for _, v := range fieldValues(sd.doc, a.path) {
			k := keyString(v)
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			counts[k]++
			keys[k] = v
		}
	}

	names := make([]string, 0, len(counts))
	for k := range counts {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	if size := engine.TermsSize(a.cfg); len(names) > size {
		names = names[:size]
	}

	buckets := make([]map[string]any, 0, len(names))
	for _, k := range names {
		buckets = append(buckets, map[string]any{"key": keys[k], "doc_count": counts[k]})
	}
	return buckets
}

func (a aggregator) rangeBuckets(docs []storedDoc) []map[string]any {
	buckets := make([]map[string]any, 0, len(a.cfg.Ranges))
	for _, r := range a.cfg.Ranges {
		b := engine.Bounds{From: r.From, To: r.To}
		count := 0
		for _, sd := range docs {
			if anyNumeric(fieldValues(sd.doc, a.path), b.Contains) {
				count++
			}
		}

		bucket := map[string]any{"key": rangeKey(r), "doc_count": count}
		if r.From != nil {
			bucket["from"] = *r.From
		}
		if r.To != nil {
			bucket["to"] = *r.To
		}
		buckets = append(buckets, bucket)
	}
	return buckets
}

func rangeKey(r domain.RangeSpec) string {
	from, to := "*", "*"
	if r.From != nil {
		from = domain.FormatNumber(*r.From)
	}
	if r.To != nil {
		to = domain.FormatNumber(*r.To)
	}
	return from + "-" + to
}

// maxHistogramBuckets bounds the empty-bucket fill of one histogram.
const maxHistogramBuckets = 10000

// histogramBuckets counts documents per interval. Like Elasticsearch, empty
// buckets between the lowest and highest key are included, unless that
// would exceed maxHistogramBuckets; then only non-empty buckets are kept.
func (a aggregator) histogramBuckets(docs []storedDoc) []map[string]any {
	interval := float64(a.interval)
	counts := make(map[float64]int)
	first, last := math.Inf(1), math.Inf(-1)
	for _, sd := range docs {
		seen := make(map[float64]struct{})
		for _, v := range fieldValues(sd.doc, a.path) {
			n, ok := numeric(v)
			if !ok {
				continue
			}
			key := math.Floor(n/interval) * interval
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			counts[key]++
			first = math.Min(first, key)
			last = math.Max(last, key)
		}
	}

	buckets := []map[string]any{}
	if len(counts) == 0 {
		return buckets
	}
	if (last-first)/interval+1 > maxHistogramBuckets {
		keys := make([]float64, 0, len(counts))
		for key := range counts {
			keys = append(keys, key)
		}
		sort.Float64s(keys)
		for _, key := range keys {
			buckets = append(buckets, map[string]any{"key": key, "doc_count": counts[key]})
		}
		return buckets
	}
	for key := first; key <= last; key += interval {
		buckets = append(buckets, map[string]any{"key": key, "doc_count": counts[key]})
	}
	return buckets
}

func anyNumeric(values []any, pred func(float64) bool) bool {
	for _, v := range values {
		if n, ok := numeric(v); ok && pred(n) {
			return true
		}
	}
	return false
}

// sortDocuments orders the matched documents. Relevance keeps insertion
// order.
func sortDocuments(docs []storedDoc, sortBy string) {
	byInsertion := func(i, j int) bool { return docs[i].seq < docs[j].seq }

	switch sortBy {
	case domain.SortPopularity:
		sort.SliceStable(docs, func(i, j int) bool {
			si, sj := score(docs[i].doc), score(docs[j].doc)
			if si != sj {
				return si > sj
			}
			return byInsertion(i, j)
		})
	case domain.SortPriceAsc, domain.SortPriceDesc:
		desc := sortBy == domain.SortPriceDesc
		sort.SliceStable(docs, func(i, j int) bool {
			pi, oki := price(docs[i].doc, desc)
			pj, okj := price(docs[j].doc, desc)
			switch {
			case oki != okj:
				// Documents without a price sort last.
				return oki
			case !oki || pi == pj:
				return byInsertion(i, j)
			case desc:
				return pi > pj
			default:
				return pi < pj
			}
		})
	default:
		sort.SliceStable(docs, byInsertion)
	}
}

func score(doc domain.Document) float64 {
	n, _ := numeric(doc[domain.FieldScore])
	return n
}

// price returns the lowest stock price, or the highest one.
func price(doc domain.Document, highest bool) (float64, bool) {
	var (
		best  float64
		found bool
	)
	for _, v := range fieldValues(doc, domain.FieldStock+".price") {
		n, ok := numeric(v)
		if !ok {
			continue
		}
		if !found || (highest && n > best) || (!highest && n < best) {
			best = n
			found = true
		}
	}
	return best, found
}
