// Package feed fetches raw vehicle-position payloads from the TriMet web service.
package feed

import (
	"compress/gzip"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/trimet-twin/pipeline/internal/config"
)

// TransportError reports that the feed could not be reached or answered
// with something other than 200 OK.
type TransportError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("feed %s returned status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("feed %s unreachable: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client issues one GET per call against a fixed endpoint
type Client struct {
	baseURL        string
	appID          string
	userAgent      string
	acceptEncoding string
	client         *http.Client
}

// NewClient creates a feed client from configuration
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:        cfg.FeedURL,
		appID:          cfg.AppID,
		userAgent:      cfg.UserAgent,
		acceptEncoding: cfg.AcceptEncoding,
		client: &http.Client{
			Timeout: cfg.FeedTimeout,
		},
	}
}

// Fetch performs a single request and returns the decoded response body.
// There is no retry; the caller decides what a failure means for its cycle.
func (c *Client) Fetch(ctx context.Context) ([]byte, error) {
	req, err := c.buildRequest(ctx)
	if err != nil {
		return nil, &TransportError{URL: c.baseURL, Err: err}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{URL: c.baseURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the keep-alive connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &TransportError{URL: c.baseURL, StatusCode: resp.StatusCode}
	}

	body, err := c.decodeBody(resp)
	if err != nil {
		return nil, &TransportError{URL: c.baseURL, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	return body, nil
}

// Timeout returns the per-request timeout
func (c *Client) Timeout() time.Duration {
	return c.client.Timeout
}

func (c *Client) buildRequest(ctx context.Context) (*http.Request, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed url: %w", err)
	}
	q := u.Query()
	q.Set("appID", c.appID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Encoding", c.acceptEncoding)
	req.Header.Set("Connection", "keep-alive")
	return req, nil
}

// decodeBody reads the body, undoing any content encoding. Setting
// Accept-Encoding by hand turns off net/http's transparent gzip handling.
func (c *Client) decodeBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	case "deflate":
		zr, err := zlib.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", resp.Header.Get("Content-Encoding"))
	}

	return io.ReadAll(r)
}
