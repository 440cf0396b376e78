// Package polymarket fetches markets from the Polymarket Gamma API and serves
// repeated identical queries from a short-lived in-memory cache.
package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/polystatics/polystatics/internal/logger"
	"github.com/polystatics/polystatics/internal/metrics"
	"github.com/polystatics/polystatics/internal/models"
)

// MaxPageSize is the largest limit the Gamma API honours in one request.
const MaxPageSize = 500

// ClientConfig holds tuning parameters for the HTTP client and cache.
type ClientConfig struct {
	Timeout             time.Duration
	PageSize            int
	CacheTTL            time.Duration
	MaxRetries          int
	RetryDelayBase      time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	Metrics             *metrics.Metrics
}

// Client provides access to the Polymarket Gamma API.
// It is safe for concurrent use; the monitor and the read API share one Client.
type Client struct {
	gammaAPIURL    string
	httpClient     *http.Client
	pageSize       int
	maxRetries     int
	retryDelayBase time.Duration
	cacheTTL       time.Duration
	metrics        *metrics.Metrics
	now            func() time.Time

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry
	group singleflight.Group

	// Shared fetches run on baseCtx so one caller's cancellation cannot
	// fail a fetch other callers are waiting on. Close cancels it.
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewClient creates a new Polymarket client. Zero config values fall back to
// a 10s timeout, 500-record pages, a 2s cache TTL and a single attempt per page.
func NewClient(gammaAPIURL string, cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.PageSize <= 0 || cfg.PageSize > MaxPageSize {
		cfg.PageSize = MaxPageSize
	}
	if cfg.CacheTTL < 0 {
		cfg.CacheTTL = 0
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = 200 * time.Millisecond
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.MaxIdleConns > 0 {
		transport.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.MaxIdleConnsPerHost > 0 {
		transport.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	}
	if cfg.IdleConnTimeout > 0 {
		transport.IdleConnTimeout = cfg.IdleConnTimeout
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Client{
		gammaAPIURL: gammaAPIURL,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		pageSize:       cfg.PageSize,
		maxRetries:     cfg.MaxRetries,
		retryDelayBase: cfg.RetryDelayBase,
		cacheTTL:       cfg.CacheTTL,
		metrics:        cfg.Metrics,
		now:            time.Now,
		cache:          make(map[cacheKey]cacheEntry),
		baseCtx:        baseCtx,
		cancel:         cancel,
	}
}

// Close aborts in-flight fetches and releases idle upstream connections.
func (c *Client) Close() {
	c.cancel()
	c.httpClient.CloseIdleConnections()
}

// pageRequest is one offset range of a paginated query.
type pageRequest struct {
	limit     int
	offset    int
	order     string
	ascending bool
}

// fetchPage retrieves and parses a single page. Records that fail to parse are dropped.
func (c *Client) fetchPage(ctx context.Context, p pageRequest) ([]models.Market, error) {
	u, err := url.Parse(c.gammaAPIURL + "/markets")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	q := u.Query()
	q.Set("limit", strconv.Itoa(p.limit))
	q.Set("offset", strconv.Itoa(p.offset))
	q.Set("order", p.order)
	q.Set("ascending", strconv.FormatBool(p.ascending))
	q.Set("closed", "false")
	u.RawQuery = q.Encode()

	body, err := c.doRequest(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch markets (offset %d): %w", p.offset, err)
	}

	// Response is array directly, not wrapped
	var records []json.RawMessage
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("failed to decode markets (offset %d): %w", p.offset, err)
	}

	markets := make([]models.Market, 0, len(records))
	dropped := 0
	for _, raw := range records {
		market, err := parseMarket(raw)
		if err != nil {
			dropped++
			continue
		}
		markets = append(markets, market)
	}
	if dropped > 0 {
		logger.Debug("Dropped %d unparseable records at offset %d", dropped, p.offset)
		c.metrics.RecordDroppedRecords(dropped)
	}

	return markets, nil
}

// errStatus reports a non-2xx upstream response.
type errStatus struct {
	code int
}

func (e errStatus) Error() string {
	return fmt.Sprintf("unexpected status: %d", e.code)
}

// doRequest performs a GET with linear-backoff retry on transport and 5xx errors
// and returns the response body.
func (c *Client) doRequest(ctx context.Context, urlStr string) ([]byte, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelayBase * time.Duration(i)):
			}
		}

		body, err := c.get(ctx, urlStr)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var se errStatus
		if errors.As(err, &se) && se.code < 500 {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	if c.maxRetries == 1 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) get(ctx context.Context, urlStr string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, errStatus{code: resp.StatusCode}
	}

	return io.ReadAll(resp.Body)
}
