package resolver

import (
	"context"
	"fmt"

	"github.com/ppalone/ytsearch"
)

// Compile-time interface assertion.
var _ Searcher = (*YTSearcher)(nil)

// YTSearcher implements [Searcher] against YouTube's public search results
// via the ppalone/ytsearch client. No API key is required.
type YTSearcher struct {
	c *ytsearch.Client
}

// NewYTSearcher creates a searcher with a default HTTP client.
func NewYTSearcher() *YTSearcher {
	return &YTSearcher{c: ytsearch.NewClient(nil)}
}

// Search returns video results for the query, best match first.
func (y *YTSearcher) Search(ctx context.Context, query string) ([]SearchResult, error) {
	res, err := y.c.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ytsearch: %w", err)
	}

	out := make([]SearchResult, 0, len(res.Results))
	for _, r := range res.Results {
		out = append(out, SearchResult{
			VideoID: r.VideoID,
			Title:   r.Title,
			Channel: r.Channel,
		})
	}
	return out, nil
}
