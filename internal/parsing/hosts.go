// Package parsing handles host lists and the tolerant decoding of upstream
// API entries.
package parsing

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"tubecrawl/internal/utils/logging"

	"golang.org/x/net/idna"
)

// NormalizeHost reduces a raw host string to a normalized bare hostname:
// lowercase, no scheme, no path, no port, no leading or trailing dots.
// Unicode hostnames are mapped to their ASCII (punycode) form.
func NormalizeHost(raw string) (string, error) {
	h := strings.ToLower(strings.TrimSpace(raw))
	if h == "" {
		return "", fmt.Errorf("empty host")
	}

	if strings.Contains(h, "://") {
		u, err := url.Parse(h)
		if err != nil {
			return "", fmt.Errorf("host %q is not parseable: %w", raw, err)
		}
		h = u.Hostname()
	} else {
		if i := strings.IndexByte(h, '/'); i >= 0 {
			h = h[:i]
		}
		if i := strings.IndexByte(h, '@'); i >= 0 {
			h = h[i+1:]
		}
		if i := strings.IndexByte(h, ':'); i >= 0 {
			h = h[:i]
		}
	}

	h = strings.Trim(h, ".")
	if h == "" {
		return "", fmt.Errorf("host %q normalizes to empty", raw)
	}

	ascii, err := idna.Lookup.ToASCII(h)
	if err != nil {
		// Registration rules are stricter than what federated hosts use
		// in the wild, keep the lowercase form when mapping fails.
		return h, nil
	}
	return ascii, nil
}

// PreferredScheme returns the protocol to try first for crawled hosts. It is
// https unless the whitelist source itself is a plain http URL.
func PreferredScheme(src string) string {
	if strings.HasPrefix(strings.ToLower(src), "http://") {
		return "http"
	}
	return "https"
}

// LoadHosts reads a host list from a file path or an http(s) URL. One host
// per line, '#' starts a comment line. Hosts are normalized and deduplicated
// with input order preserved.
func LoadHosts(ctx context.Context, src string, timeout time.Duration) ([]string, error) {
	r, err := openHostSource(ctx, src, timeout)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := r.Close(); err != nil {
			logging.E("Failed to close host source %q: %v", src, err)
		}
	}()

	seen := make(map[string]struct{})
	var hosts []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		h, err := NormalizeHost(line)
		if err != nil {
			logging.W("Skipping host line %q: %v", line, err)
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		hosts = append(hosts, h)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read host list %q: %w", src, err)
	}
	return hosts, nil
}

func openHostSource(ctx context.Context, src string, timeout time.Duration) (io.ReadCloser, error) {
	lower := strings.ToLower(src)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		f, err := os.Open(src)
		if err != nil {
			return nil, fmt.Errorf("failed to open host list %q: %w", src, err)
		}
		return f, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build host list request: %w", err)
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch host list %q: %w", src, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("host list %q returned HTTP %d", src, resp.StatusCode)
	}
	return resp.Body, nil
}

// LoadExcludeSet reads an exclude file into a normalized lookup set. An
// empty path yields an empty set.
func LoadExcludeSet(ctx context.Context, path string, timeout time.Duration) (map[string]struct{}, error) {
	excluded := make(map[string]struct{})
	if path == "" {
		return excluded, nil
	}
	hosts, err := LoadHosts(ctx, path, timeout)
	if err != nil {
		return nil, err
	}
	for _, h := range hosts {
		excluded[h] = struct{}{}
	}
	return excluded, nil
}

// FilterHosts drops hosts present in the exclude set. Both sides are
// normalized, so the comparison is effectively case-insensitive.
func FilterHosts(hosts []string, excluded map[string]struct{}) []string {
	if len(excluded) == 0 {
		return hosts
	}
	kept := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if _, drop := excluded[strings.ToLower(h)]; drop {
			continue
		}
		kept = append(kept, h)
	}
	return kept
}
