// Package caldav provides the CalDAV HTTP transport and ICS generation used
// to mirror bookings into staff calendars.
package caldav

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// MethodReport is the WebDAV REPORT method used for calendar queries.
const MethodReport = "REPORT"

// ErrEnvelope is returned when a multistatus response body cannot be read
// as a calendar-query result.
var ErrEnvelope = errors.New("malformed multistatus envelope")

// maxBodyBytes bounds how much of a REPORT response is read.
const maxBodyBytes = 16 << 20

// ClientConfig configures the CalDAV client.
type ClientConfig struct {
	// Timeout for individual requests (default: 30s).
	Timeout time.Duration

	// RateLimit in requests per second across all staff (default: 5).
	RateLimit float64

	// RateBurst maximum burst size (default: 2).
	RateBurst int

	// UserAgent string (default: "booking-sync/1.0").
	UserAgent string

	// Transport allows injecting a custom HTTP transport (for tests/stubs).
	Transport http.RoundTripper
}

// Response is the outcome of a calendar query.
type Response struct {
	StatusCode int
	Body       []byte
}

// IsSuccess returns true if the status code is 2xx.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// PutResponse is the outcome of writing one calendar object.
type PutResponse struct {
	StatusCode int
	ETag       string
}

// IsSuccess returns true if the status code is 2xx.
func (r *PutResponse) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client is a rate-limited CalDAV client.
type Client struct {
	config      ClientConfig
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// NewClient creates a new CalDAV client with the given configuration.
func NewClient(config ClientConfig) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit <= 0 {
		config.RateLimit = 5
	}
	if config.RateBurst <= 0 {
		config.RateBurst = 2
	}
	if config.UserAgent == "" {
		config.UserAgent = "booking-sync/1.0"
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: config.Transport,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst),
	}
}

// Report executes a calendar-query REPORT against a calendar collection.
// Network failures are returned as errors; HTTP error statuses are returned
// in the response for the caller to classify.
func (c *Client) Report(ctx context.Context, url, queryXML, user, pass string) (*Response, error) {
	resp, err := c.do(ctx, MethodReport, url, []byte(queryXML), user, pass, map[string]string{
		"Content-Type": "application/xml; charset=utf-8",
		"Depth":        "1",
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading report response: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

// Put creates or replaces one calendar object.
func (c *Client) Put(ctx context.Context, eventURL, icsBody, user, pass string) (*PutResponse, error) {
	resp, err := c.do(ctx, http.MethodPut, eventURL, []byte(icsBody), user, pass, map[string]string{
		"Content-Type": "text/calendar; charset=utf-8",
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	return &PutResponse{StatusCode: resp.StatusCode, ETag: resp.Header.Get("ETag")}, nil
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, user, pass string, headers map[string]string) (*http.Response, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if user != "" || pass != "" {
		req.SetBasicAuth(user, pass)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	return resp, nil
}
