package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/utafrali/catalogsearch/internal/domain"
	"github.com/utafrali/catalogsearch/internal/engine"
)

const (
	defaultSuggestLimit = 10
	// suggestOverfetch leaves room for variants that collapse into one title.
	suggestOverfetch = 3
	maxSuggestFetch  = 100
)

type esSuggestResponse struct {
	Hits struct {
		Hits []struct {
			Source struct {
				Title string `json:"title"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Suggest returns up to limit distinct product titles for an autocomplete
// prefix. Titles that start with the typed phrase rank above titles that
// merely contain its terms; ties fall back to the popularity score.
func (e *Engine) Suggest(ctx context.Context, prefix string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = defaultSuggestLimit
	}
	prefix = strings.TrimSpace(prefix)

	data, err := json.Marshal(suggestQuery(prefix, min(limit*suggestOverfetch, maxSuggestFetch)))
	if err != nil {
		return nil, fmt.Errorf("elasticsearch suggest: marshal query: %w", err)
	}

	res, err := e.client.Search(
		e.client.Search.WithIndex(e.indexName),
		e.client.Search.WithBody(bytes.NewReader(data)),
		e.client.Search.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch suggest: %w: %w", engine.ErrUnavailable, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return nil, responseError("elasticsearch suggest", res)
	}

	var esResp esSuggestResponse
	if err := json.NewDecoder(res.Body).Decode(&esResp); err != nil {
		return nil, fmt.Errorf("elasticsearch suggest: decode response: %w", err)
	}

	titles := make([]string, 0, limit)
	seen := make(map[string]struct{}, limit)
	for _, hit := range esResp.Hits.Hits {
		title := strings.TrimSpace(hit.Source.Title)
		key := strings.ToLower(title)
		if title == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		titles = append(titles, title)
		if len(titles) == limit {
			break
		}
	}
	return titles, nil
}

func suggestQuery(prefix string, size int) map[string]any {
	return map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"must": map[string]any{
					"match": map[string]any{
						domain.FieldTitle: map[string]any{"query": prefix, "operator": "and"},
					},
				},
				"should": map[string]any{
					"match_phrase_prefix": map[string]any{
						domain.FieldTitle: map[string]any{"query": prefix, "boost": 2},
					},
				},
			},
		},
		"size":    size,
		"_source": []string{domain.FieldTitle},
		"sort": []any{
			map[string]any{"_score": "desc"},
			map[string]any{domain.FieldScore: "desc"},
		},
	}
}
