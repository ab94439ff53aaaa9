package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/utafrali/catalogsearch/internal/domain"
)

// SearchEngine defines the interface for maintaining and querying the
// product index. Implementations may use Elasticsearch, in-memory storage,
// or other backends.
type SearchEngine interface {
	// CreateIndex creates the index from a create-index request body.
	CreateIndex(ctx context.Context, body []byte) error

	// IndexExists reports whether the index has been created.
	IndexExists(ctx context.Context) (bool, error)

	// DeleteIndex removes the index. A missing index is not an error.
	DeleteIndex(ctx context.Context) error

	// Index adds or replaces a single document, keyed by its id field.
	Index(ctx context.Context, doc domain.Document) error

	// BulkIndex adds or replaces multiple documents. Documents the engine
	// rejects are reported through a *BulkError.
	BulkIndex(ctx context.Context, docs []domain.Document) error

	// Delete removes a document by id. A missing document is not an error.
	Delete(ctx context.Context, id string) error

	// Search executes a query and returns the matching documents together
	// with the aggregations requested by the query's facet configuration.
	Search(ctx context.Context, query *domain.SearchQuery) (*domain.SearchResult, error)

	// Suggest returns product titles matching the prefix.
	Suggest(ctx context.Context, prefix string, limit int) ([]string, error)
}

// BulkFailure is one document rejected by a bulk request.
type BulkFailure struct {
	ID     string
	Reason string
}

// BulkError reports the documents a bulk request did not store. The other
// documents of the request were stored.
type BulkError struct {
	Failures []BulkFailure
}

func (e *BulkError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, fmt.Sprintf("id=%s: %s", f.ID, f.Reason))
	}
	return fmt.Sprintf("bulk index: %d documents failed: %s", len(e.Failures), strings.Join(msgs, "; "))
}

// Pagination bounds applied by every engine.
const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// NormalizePage clamps the requested page and page size.
func NormalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return page, perPage
}
