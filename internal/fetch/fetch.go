// Package fetch is the crawl-side HTTP client: JSON GETs with a retry
// ladder, Retry-After honoring, and a shell fallback for sandboxes with a
// broken in-process resolver.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"tubecrawl/internal/domain/consts"
	"tubecrawl/internal/utils/logging"

	"github.com/araddon/dateparse"
)

const apiBase = "/api/v1/"

// Client fetches JSON from crawled hosts. Safe for concurrent use; the
// protocol that succeeded for a host is remembered for its later pages.
type Client struct {
	http       *http.Client
	timeout    time.Duration
	maxRetries int
	preferred  string

	schemes sync.Map // host -> "https" | "http"
}

// New returns a client with the given per-request timeout, retry budget,
// and preferred scheme ("https" unless the whitelist source says otherwise).
func New(timeout time.Duration, maxRetries int, preferredScheme string) *Client {
	if preferredScheme == "" {
		preferredScheme = "https"
	}

	dialer := &net.Dialer{Timeout: timeout}
	transport := &http.Transport{
		// IPv4 first; many federated hosts publish broken AAAA records.
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if network == "tcp" {
				if conn, err := dialer.DialContext(ctx, "tcp4", addr); err == nil {
					return conn, nil
				}
			}
			return dialer.DialContext(ctx, network, addr)
		},
		MaxIdleConnsPerHost: 4,
	}

	return &Client{
		http:       &http.Client{Transport: transport, Timeout: timeout},
		timeout:    timeout,
		maxRetries: maxRetries,
		preferred:  preferredScheme,
		schemes:    sync.Map{},
	}
}

// JSON fetches a fully qualified URL with the client's whole retry budget.
func (c *Client) JSON(ctx context.Context, rawURL string) (any, error) {
	return c.fetchJSON(ctx, rawURL, c.maxRetries)
}

// HostJSON fetches an API endpoint from a host, trying the preferred
// protocol first and the alternate with half the retry budget. The winning
// scheme is returned and reused for the host's later requests.
func (c *Client) HostJSON(ctx context.Context, host, endpoint string) (body any, scheme string, err error) {
	if s, ok := c.schemes.Load(host); ok {
		scheme = s.(string)
		body, err = c.fetchJSON(ctx, scheme+"://"+host+apiBase+endpoint, c.maxRetries)
		return body, scheme, err
	}

	first := c.preferred
	alt := "http"
	if first == "http" {
		alt = "https"
	}

	body, err = c.fetchJSON(ctx, first+"://"+host+apiBase+endpoint, c.maxRetries)
	if err == nil {
		c.schemes.Store(host, first)
		return body, first, nil
	}
	if ctx.Err() != nil || errors.Is(err, ErrNoNetwork) {
		return nil, first, err
	}

	// An HTTP-level failure proves the host answers over this protocol;
	// only connection-level failures warrant trying the alternate.
	var httpErr *HTTPError
	if errors.As(err, &httpErr) || errors.Is(err, ErrInvalidJSON) {
		c.schemes.Store(host, first)
		return nil, first, err
	}

	logging.D(1, "Host %q failed over %s (%v), retrying over %s", host, first, err, alt)
	body, altErr := c.fetchJSON(ctx, alt+"://"+host+apiBase+endpoint, c.maxRetries/2)
	if altErr == nil {
		c.schemes.Store(host, alt)
		return body, alt, nil
	}
	return nil, alt, altErr
}

func (c *Client) fetchJSON(ctx context.Context, rawURL string, maxRetries int) (any, error) {
	backoff := consts.BackoffStart
	retries := 0

	for {
		body, status, header, err := c.do(ctx, rawURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			if isNoNetwork(err) {
				return c.shellFallback(ctx, rawURL, err)
			}
			// Other transport faults (per-request timeouts, TLS failures,
			// resets) ride the same ladder as 5xx.
			if retries >= maxRetries {
				return nil, err
			}
			logging.D(1, "Transport fault for %q (%v), retry %d/%d after %s", rawURL, err, retries+1, maxRetries, backoff)
			if err := sleepCtx(ctx, backoff); err != nil {
				return nil, err
			}
			backoff = nextBackoff(backoff)
			retries++
			continue
		}

		switch {
		case status == http.StatusTooManyRequests:
			delay := retryAfter(header)
			if delay < backoff {
				delay = backoff
			}
			logging.D(1, "HTTP 429 from %q, sleeping %s", rawURL, delay)
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
			backoff = nextBackoff(backoff)
			// Retry-After retries never consume the budget.
			continue

		case status >= 500:
			if retries >= maxRetries {
				return nil, &HTTPError{StatusCode: status}
			}
			logging.D(1, "HTTP %d from %q, retry %d/%d after %s", status, rawURL, retries+1, maxRetries, backoff)
			if err := sleepCtx(ctx, backoff); err != nil {
				return nil, err
			}
			backoff = nextBackoff(backoff)
			retries++
			continue

		case status < 200 || status >= 300:
			return nil, &HTTPError{StatusCode: status}
		}

		return decodeJSON(body)
	}
}

func (c *Client) do(ctx context.Context, rawURL string) (body []byte, status int, header http.Header, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("failed to build request for %q: %w", rawURL, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, nil, err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logging.E("Failed to close response body for %q: %v", rawURL, closeErr)
		}
	}()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, nil, err
	}
	return buf, resp.StatusCode, resp.Header, nil
}

// shellFallback re-issues the request through curl; its stdout is treated as
// a 200 body. Keeps the crawler alive where the in-process resolver is
// broken.
func (c *Client) shellFallback(ctx context.Context, rawURL string, cause error) (any, error) {
	logging.W("Transport failure for %q (%v), falling back to shell client", rawURL, cause)

	maxTime := strconv.FormatInt(int64(c.timeout/time.Second)+1, 10)
	cmd := exec.CommandContext(ctx, "curl", "-sS", "--max-time", maxTime,
		"-H", "Accept: application/json", rawURL)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("shell fallback for %q failed (%v): %w", rawURL, err, ErrNoNetwork)
	}
	return decodeJSON(out)
}

func decodeJSON(body []byte) (any, error) {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return decoded, nil
}

func retryAfter(header http.Header) time.Duration {
	v := strings.TrimSpace(header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := dateparse.ParseAny(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > consts.BackoffCap {
		next = consts.BackoffCap
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
