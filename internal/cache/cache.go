package cache

import (
	"context"

	"github.com/utafrali/catalogsearch/internal/domain"
)

// SearchCache stores rendered search responses keyed by request URL.
type SearchCache interface {
	// Get returns the cached response for key. A miss returns nil and no error.
	Get(ctx context.Context, key string) (*domain.SearchResponse, error)

	// Set stores a response under key.
	Set(ctx context.Context, key string, resp *domain.SearchResponse) error

	// Invalidate drops every cached response.
	Invalidate(ctx context.Context) error
}

// Noop is a SearchCache that never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string) (*domain.SearchResponse, error) { return nil, nil }

func (Noop) Set(context.Context, string, *domain.SearchResponse) error { return nil }

func (Noop) Invalidate(context.Context) error { return nil }
