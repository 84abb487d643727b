// Package search paginates the historical post search index for a single
// query, resolving lightweight hits into enriched post views.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/tagstream/tagstream/internal/bluesky"
)

// Client is the subset of the BlueSky API the engine needs.
type Client interface {
	SearchPosts(ctx context.Context, query string, offset int) ([]bluesky.SearchHit, error)
	GetPosts(ctx context.Context, uris []string) ([]bluesky.PostView, error)
}

// Engine pages through historical search results for one query, oldest-first
// per page. It is not safe for concurrent Next calls; callers must keep at
// most one call in flight.
type Engine struct {
	client Client
	query  string
	offset int
	logger *slog.Logger
}

// NewEngine creates an engine scoped to the given query, starting at the
// beginning of the index.
func NewEngine(client Client, query string, logger *slog.Logger) *Engine {
	return &Engine{
		client: client,
		query:  query,
		logger: logger,
	}
}

// Next fetches and resolves the next page of posts. The page is returned
// oldest-first (the endpoint serves newest-first; each page is reversed
// before returning). An empty result signals exhaustion and callers must
// stop paging. On error the internal offset is unchanged, so the call is
// safely retryable.
//
// The offset advances by the number of posts returned, not the number of
// raw hits: batched resolution may legitimately return fewer records than
// requested when posts have been deleted.
func (e *Engine) Next(ctx context.Context) ([]bluesky.PostView, error) {
	hits, err := e.client.SearchPosts(ctx, e.query, e.offset)
	if err != nil {
		return nil, e.pageError(err)
	}
	if len(hits) == 0 {
		return []bluesky.PostView{}, nil
	}

	uris := make([]string, len(hits))
	for i := range hits {
		uris[i] = hits[i].URI()
	}

	posts := make([]bluesky.PostView, 0, len(uris))
	for start := 0; start < len(uris); start += bluesky.MaxBatchURIs {
		end := min(start+bluesky.MaxBatchURIs, len(uris))
		batch, err := e.client.GetPosts(ctx, uris[start:end])
		if err != nil {
			return nil, e.pageError(err)
		}
		posts = append(posts, batch...)
	}

	if dropped := len(hits) - len(posts); dropped > 0 {
		e.logger.Debug("some hits did not resolve", "query", e.query, "dropped", dropped)
	}

	e.offset += len(posts)
	slices.Reverse(posts)
	return posts, nil
}

// Offset returns the current pagination offset.
func (e *Engine) Offset() int {
	return e.offset
}

func (e *Engine) pageError(err error) error {
	return fmt.Errorf("could not load posts for query %q at offset %d: %w", e.query, e.offset, err)
}
