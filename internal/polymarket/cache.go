package polymarket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/iter"

	"github.com/polystatics/polystatics/internal/logger"
	"github.com/polystatics/polystatics/internal/models"
)

// cacheKey is the logical query signature.
type cacheKey struct {
	limit     int
	order     string
	ascending bool
}

func (k cacheKey) String() string {
	return fmt.Sprintf("markets_%d_%s_%t", k.limit, k.order, k.ascending)
}

// cacheEntry is the last successful result for a key. Entries are replaced
// wholesale on success and expire by TTL comparison at read time.
type cacheEntry struct {
	markets   []models.Market
	fetchedAt time.Time
}

// pageResult carries either the markets of one page or the error that page hit.
type pageResult struct {
	offset  int
	markets []models.Market
	err     error
}

// GetMarkets returns up to limit open markets ordered by sortField.
//
// Results younger than the cache TTL are served from memory. Limits above the
// page size are fetched as concurrent pages; a failed page contributes nothing
// and does not abort the others. When the fetch fails outright the previous
// result for the same query is returned, or an empty slice if there is none.
// GetMarkets never returns an error. The returned slice is shared with the
// cache and must not be modified.
func (c *Client) GetMarkets(ctx context.Context, limit int, sortField string, ascending bool) []models.Market {
	if limit <= 0 {
		return []models.Market{}
	}

	key := cacheKey{limit: limit, order: sortField, ascending: ascending}
	if entry, ok := c.lookup(key); ok && c.now().Sub(entry.fetchedAt) < c.cacheTTL {
		logger.Debug("Using in-memory cache for key %s", key)
		c.metrics.RecordCacheHit()
		return entry.markets
	}
	c.metrics.RecordCacheMiss()

	// Concurrent callers asking for the same key share one upstream fetch.
	// The fetch is bound to the client, not to whichever caller started it.
	ch := c.group.DoChan(key.String(), func() (interface{}, error) {
		return c.refresh(c.baseCtx, key), nil
	})
	select {
	case res := <-ch:
		return res.Val.([]models.Market)
	case <-ctx.Done():
		logger.Debug("Caller for %s gave up waiting: %v", key, ctx.Err())
		return c.fallback(key)
	}
}

func (c *Client) refresh(ctx context.Context, key cacheKey) []models.Market {
	startedAt := c.now()

	markets, err := c.fetch(ctx, key)
	if err != nil {
		logger.Error("Market fetch failed for %s: %v", key, err)
		return c.fallback(key)
	}

	c.mu.Lock()
	c.cache[key] = cacheEntry{markets: markets, fetchedAt: startedAt}
	c.mu.Unlock()

	return markets
}

// fallback returns the last cached result for key regardless of age, or an
// empty slice.
func (c *Client) fallback(key cacheKey) []models.Market {
	if entry, ok := c.lookup(key); ok {
		logger.Warn("Returning stale cache for %s (age %v)", key, c.now().Sub(entry.fetchedAt))
		c.metrics.RecordStaleServe()
		return entry.markets
	}
	return []models.Market{}
}

func (c *Client) lookup(key cacheKey) (cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[key]
	return entry, ok
}

func (c *Client) fetch(ctx context.Context, key cacheKey) ([]models.Market, error) {
	if key.limit <= c.pageSize {
		markets, err := c.fetchPage(ctx, pageRequest{limit: key.limit, offset: 0, order: key.order, ascending: key.ascending})
		c.metrics.RecordPage(err)
		return markets, err
	}
	return c.fetchPages(ctx, key)
}

// planPages splits [0, limit) into non-overlapping ranges of at most pageSize.
func planPages(key cacheKey, pageSize int) []pageRequest {
	pages := make([]pageRequest, 0, (key.limit+pageSize-1)/pageSize)
	for offset := 0; offset < key.limit; offset += pageSize {
		pages = append(pages, pageRequest{
			limit:     min(pageSize, key.limit-offset),
			offset:    offset,
			order:     key.order,
			ascending: key.ascending,
		})
	}
	return pages
}

// fetchPages requests every page concurrently and folds the successful ones.
// It fails only when no page succeeded.
func (c *Client) fetchPages(ctx context.Context, key cacheKey) ([]models.Market, error) {
	pages := planPages(key, c.pageSize)
	logger.Debug("Fetching %d markets in %d parallel pages", key.limit, len(pages))

	mapper := iter.Mapper[pageRequest, pageResult]{MaxGoroutines: len(pages)}
	results := mapper.Map(pages, func(p *pageRequest) pageResult {
		markets, err := c.fetchPage(ctx, *p)
		return pageResult{offset: p.offset, markets: markets, err: err}
	})

	var (
		markets []models.Market
		errs    []error
	)
	for _, res := range results {
		c.metrics.RecordPage(res.err)
		if res.err != nil {
			logger.Warn("Page fetch failed at offset %d: %v", res.offset, res.err)
			errs = append(errs, res.err)
			continue
		}
		markets = append(markets, res.markets...)
	}

	if len(errs) == len(results) {
		return nil, fmt.Errorf("all %d pages failed: %w", len(results), errors.Join(errs...))
	}
	if len(errs) > 0 {
		logger.Warn("Partial fetch for %s: %d/%d pages failed, %d markets assembled", key, len(errs), len(results), len(markets))
	}
	if markets == nil {
		markets = []models.Market{}
	}
	return markets, nil
}
