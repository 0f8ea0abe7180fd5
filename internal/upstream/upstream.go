// Package upstream fetches JSON documents from the API whose responses
// apicache stores.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 10 << 20
)

// ErrNotJSON is returned when a response body is not a JSON document.
var ErrNotJSON = errors.New("upstream response is not JSON")

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.StatusCode)
}

// Client issues GET requests against an optional base URL.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	header  http.Header
	logger  zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout bounds each request. Zero disables the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.header.Add(key, value)
	}
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a Client. baseURL may be empty, in which case only absolute
// URLs can be fetched.
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		http:    &http.Client{},
		timeout: defaultTimeout,
		header:  http.Header{"Accept": []string{"application/json"}},
		logger:  zerolog.Nop(),
	}
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parsing upstream URL %q: %w", baseURL, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("upstream URL %q must be http or https", baseURL)
		}
		c.base = u
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// HasBase reports whether a base URL is configured.
func (c *Client) HasBase() bool {
	return c.base != nil
}

// Resolve joins path and query onto the base URL. Query keys are encoded in
// sorted order so equal requests resolve to equal URLs.
func (c *Client) Resolve(path string, query url.Values) (string, error) {
	if c.base == nil {
		return "", errors.New("no upstream base URL configured")
	}
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// Get fetches rawURL and returns its body, which must be JSON.
func (c *Client) Get(ctx context.Context, rawURL string) (json.RawMessage, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", rawURL, err)
	}
	for k, v := range c.header {
		req.Header[k] = v
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("url", rawURL).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("upstream request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rawURL, err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: %s", ErrNotJSON, rawURL)
	}
	return json.RawMessage(body), nil
}
