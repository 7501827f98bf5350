// Package remote fetches the item catalog and item images over HTTP.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	platformerrors "github.com/jmgilman/go/errors"

	"github.com/jmgilman/go/catalog/internal/logging"
	"github.com/jmgilman/go/catalog/internal/model"
)

const (
	// DefaultTimeout bounds a whole request including reading the body.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxImageBytes caps the size of a downloaded image.
	DefaultMaxImageBytes int64 = 10 << 20
	// maxDocumentBytes caps the size of a catalog document.
	maxDocumentBytes int64 = 32 << 20
)

// Client talks to the catalog host. It is safe for concurrent use.
type Client struct {
	http          *http.Client
	endpoints     map[model.Selector]Endpoint
	maxImageBytes int64
	logger        *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for all requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the request timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.http = &http.Client{Timeout: timeout}
		}
	}
}

// WithBaseURL serves the default endpoints from baseURL.
func WithBaseURL(baseURL string) Option {
	return WithEndpoints(DefaultEndpoints(baseURL)...)
}

// WithEndpoints replaces the endpoint catalog.
func WithEndpoints(endpoints ...Endpoint) Option {
	return func(c *Client) {
		c.endpoints = make(map[model.Selector]Endpoint, len(endpoints))
		for _, ep := range endpoints {
			c.endpoints[ep.Selector] = ep
		}
	}
}

// WithMaxImageBytes caps the size of downloaded images.
func WithMaxImageBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxImageBytes = n
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client for the default catalog host.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:          &http.Client{Timeout: DefaultTimeout},
		maxImageBytes: DefaultMaxImageBytes,
		logger:        logging.NewNopLogger(),
	}
	WithBaseURL(DefaultBaseURL)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the endpoint registered for selector.
func (c *Client) Endpoint(selector model.Selector) (Endpoint, bool) {
	ep, ok := c.endpoints[selector]
	return ep, ok
}

type document struct {
	Recipes *[]model.Item `json:"recipes"`
}

// FetchItems downloads the item list for selector and applies the endpoint's
// validity policy.
func (c *Client) FetchItems(ctx context.Context, selector model.Selector) ([]model.Item, error) {
	logger := c.logger.WithOperation(logging.OpFetchItems).WithSelector(selector.String())
	start := time.Now()

	ep, ok := c.endpoints[selector]
	if !ok {
		return nil, fmt.Errorf("%w: unknown selector %q", ErrInvalidURL, selector)
	}

	body, err := c.get(ctx, ep.URL, "application/json", maxDocumentBytes)
	if err != nil {
		logging.LogCacheOperation(ctx, logger, logging.OpFetchItems, time.Since(start), false, 0, err)
		return nil, err
	}

	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeFailed, err)
	}
	if doc.Recipes == nil {
		return nil, fmt.Errorf("%w: missing recipes field", ErrDecodeFailed)
	}

	items := make([]model.Item, 0, len(*doc.Recipes))
	for _, item := range *doc.Recipes {
		if err := item.Validate(); err != nil {
			if ep.Strict {
				return nil, invalidItem(err)
			}
			logger.Debug(ctx, "dropping invalid item", "error", err)
			continue
		}
		items = append(items, item)
	}

	logging.LogCacheOperation(ctx, logger, logging.OpFetchItems, time.Since(start), true, int64(len(body)), nil)
	return items, nil
}

// Fetch downloads the bytes behind an image URL.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	return c.get(ctx, rawURL, "image/*", c.maxImageBytes)
}

func (c *Client) get(ctx context.Context, rawURL, accept string, limit int64) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not an http(s) URL", ErrInvalidURL, rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	req.Header.Set("Accept", accept)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusCodeError{Code: resp.StatusCode, URL: u.Redacted()}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, platformerrors.Wrap(err, platformerrors.CodeNetwork, "failed to read response body"))
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: response from %s exceeds %d bytes", ErrInvalidResponse, u.Redacted(), limit)
	}

	return body, nil
}
