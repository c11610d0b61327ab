package fetchhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/sony/gobreaker"
)

const userAgent = "ope-protec/1.0"

// Options controls retry behaviour for a Client.
type Options struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultOptions matches the repository-wide defaults: two retries with a
// linear backoff starting at 700ms.
func DefaultOptions() Options {
	return Options{
		MaxRetries: 2,
		BaseDelay:  700 * time.Millisecond,
	}
}

var (
	errNoHTTPClient = errors.New("http client not configured")
	errCircuitOpen  = errors.New("circuit breaker open")
)

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// Client executes idempotent GET requests against a single upstream with
// bounded retries and a circuit breaker. Only transient transport errors and
// retryable HTTP statuses (429, 5xx) are retried; everything else fails on
// the first attempt.
type Client struct {
	httpClient *http.Client
	opts       Options
	circuit    *gobreaker.CircuitBreaker
}

// New creates a Client sharing the given http.Client. The name identifies the
// upstream in circuit breaker state transitions.
func New(httpClient *http.Client, name string, opts Options) *Client {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultOptions().BaseDelay
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	return &Client{
		httpClient: httpClient,
		opts:       opts,
		circuit:    cb,
	}
}

// Get fetches the URL and returns the response body.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	body, _, err := c.do(ctx, url, headers)
	return body, err
}

// GetWithHeaders fetches the URL and additionally returns the response
// headers, for adapters that harvest cookies from them.
func (c *Client) GetWithHeaders(ctx context.Context, url string, headers map[string]string) ([]byte, http.Header, error) {
	return c.do(ctx, url, headers)
}

// GetJSON fetches the URL and decodes the body into out.
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string, out any) error {
	body, err := c.Get(ctx, url, headers)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// GetText fetches the URL and returns the body as a string.
func (c *Client) GetText(ctx context.Context, url string) (string, error) {
	body, err := c.Get(ctx, url, nil)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

type fetchResult struct {
	body   []byte
	header http.Header
}

func (c *Client) do(ctx context.Context, url string, headers map[string]string) ([]byte, http.Header, error) {
	if c.httpClient == nil {
		return nil, nil, errNoHTTPClient
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}

		result, err := c.circuit.Execute(func() (interface{}, error) {
			return c.attempt(ctx, url, headers)
		})
		if err == nil {
			res, ok := result.(*fetchResult)
			if !ok {
				return nil, nil, fmt.Errorf("unexpected result type from circuit breaker")
			}
			return res.body, res.header, nil
		}

		// If the circuit is open, propagate immediately.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, nil, fmt.Errorf("%w: %v", errCircuitOpen, err)
		}

		lastErr = err
		if attempt >= c.opts.MaxRetries || !Retryable(err) {
			return nil, nil, lastErr
		}

		// Linear backoff: delay grows with the attempt number.
		delay := c.opts.BaseDelay * time.Duration(attempt+1)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) attempt(ctx context.Context, url string, headers map[string]string) (*fetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: url}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &fetchResult{body: body, header: resp.Header}, nil
}

// Retryable classifies an error as a transient transport failure worth
// retrying: timeouts, connection reset/refused, remote disconnects, and the
// HTTP statuses 429/500/502/503/504. DNS failures and other 4xx statuses are
// final.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	// The server closed the connection mid-response.
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}

	return false
}
