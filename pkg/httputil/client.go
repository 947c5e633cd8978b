// Package httputil provides the shared HTTP plumbing for package index
// clients: a client with response caching against a pluggable backend,
// and retry with exponential backoff for transient failures.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/matzehuels/wheelhouse/pkg/cache"
	"github.com/matzehuels/wheelhouse/pkg/observability"
)

const httpTimeout = 30 * time.Second

var (
	// ErrNotFound is returned when a package or resource doesn't exist in the index.
	ErrNotFound = errors.New("resource not found")

	// ErrNetwork is returned for HTTP failures (timeouts, connection errors, 5xx responses).
	ErrNetwork = errors.New("network error")
)

// Client provides shared HTTP functionality for index clients.
// It handles response caching, retry logic, and common request headers.
// Safe for concurrent use.
type Client struct {
	http    *http.Client
	cache   cache.Cache
	ttl     time.Duration
	prefix  string
	headers map[string]string
}

// NewClient creates a Client caching responses in backend under the
// given key prefix with the given TTL. Pass a [cache.NullCache] to
// disable caching, and nil headers if no defaults are needed.
func NewClient(backend cache.Cache, prefix string, ttl time.Duration, headers map[string]string) *Client {
	return &Client{
		http:    &http.Client{Timeout: httpTimeout},
		cache:   backend,
		ttl:     ttl,
		prefix:  prefix,
		headers: headers,
	}
}

// Cached retrieves a JSON value from the cache or executes fetch and
// caches the result. If refresh is true the cache is bypassed and fetch
// always runs. fetch populates v; on success v is stored.
func (c *Client) Cached(ctx context.Context, key string, refresh bool, v any, fetch func() error) error {
	key = c.prefix + key
	if !refresh {
		if data, hit, _ := c.cache.Get(ctx, key); hit {
			if json.Unmarshal(data, v) == nil {
				observability.Cache().OnCacheHit(ctx, c.prefix)
				return nil
			}
			_ = c.cache.Delete(ctx, key)
		}
	}
	observability.Cache().OnCacheMiss(ctx, c.prefix)
	if err := RetryWithBackoff(ctx, fetch); err != nil {
		return err
	}
	if data, err := json.Marshal(v); err == nil {
		_ = c.cache.Set(ctx, key, data, c.ttl)
		observability.Cache().OnCacheSet(ctx, c.prefix, len(data))
	}
	return nil
}

// GetJSON performs an HTTP GET request and JSON-decodes the response into v.
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string, v any) error {
	body, err := c.Do(ctx, url, headers)
	if err != nil {
		return err
	}
	defer body.Close()
	return json.NewDecoder(body).Decode(v)
}

// GetBytes performs an HTTP GET request and returns the response body.
func (c *Client) GetBytes(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	body, err := c.Do(ctx, url, headers)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

// Download streams an HTTP GET response into w. Used for artifact
// downloads where the body must not be buffered in memory.
func (c *Client) Download(ctx context.Context, url string, w io.Writer) error {
	body, err := c.Do(ctx, url, nil)
	if err != nil {
		return err
	}
	defer body.Close()
	if _, err := io.Copy(w, body); err != nil {
		return &RetryableError{Err: fmt.Errorf("%w: %v", ErrNetwork, err)}
	}
	return nil
}

// Do performs a GET with the client's default headers merged with the
// request-specific ones. The caller must close the returned body.
func (c *Client) Do(ctx context.Context, url string, headers map[string]string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	observability.HTTP().OnRequest(ctx, http.MethodGet, url)
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		observability.HTTP().OnError(ctx, http.MethodGet, url, err)
		return nil, &RetryableError{Err: fmt.Errorf("%w: %v", ErrNetwork, err)}
	}

	if err := checkStatus(resp.StatusCode); err != nil {
		resp.Body.Close()
		observability.HTTP().OnError(ctx, http.MethodGet, url, err)
		return nil, err
	}
	observability.HTTP().OnResponse(ctx, http.MethodGet, url, time.Since(start))
	return resp.Body, nil
}

func checkStatus(code int) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code >= 500 || code == http.StatusTooManyRequests:
		return &RetryableError{Err: fmt.Errorf("%w: status %d", ErrNetwork, code)}
	default:
		return fmt.Errorf("%w: status %d", ErrNetwork, code)
	}
}
