package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// TestRetryAfterHonored tests that a 429 sleeps at least the advertised
// delay and succeeds without consuming the retry budget.
func TestRetryAfterHonored(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	// Zero retry budget: only the quota-free 429 path can reach success.
	c := New(5*time.Second, 0, "http")

	started := time.Now()
	body, err := c.JSON(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("JSON failed: %v", err)
	}
	if elapsed := time.Since(started); elapsed < 3*time.Second {
		t.Errorf("expected a sleep of at least 3s, slept %s", elapsed)
	}
	if calls.Load() != 2 {
		t.Errorf("expected exactly 2 requests, got %d", calls.Load())
	}

	m, ok := body.(map[string]any)
	if !ok || m["ok"] != true {
		t.Errorf("unexpected body: %v", body)
	}
}

// TestServerErrorConsumesBudget tests that 5xx responses retry until the
// budget is exhausted, then surface the last status.
func TestServerErrorConsumesBudget(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(5*time.Second, 1, "http")

	_, err := c.JSON(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected an error")
	}
	code, ok := StatusCode(err)
	if !ok || code != http.StatusBadGateway {
		t.Errorf("expected HTTP 502, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected initial try plus 1 retry, got %d requests", calls.Load())
	}
}

// TestTransportFaultConsumesBudget tests that a per-request timeout is
// retried like a 5xx instead of surfacing on the first attempt.
func TestTransportFaultConsumesBudget(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			time.Sleep(600 * time.Millisecond)
			return
		}
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	c := New(200*time.Millisecond, 1, "http")

	started := time.Now()
	body, err := c.JSON(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("JSON failed after a transient timeout: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected the timed-out try plus 1 retry, got %d requests", calls.Load())
	}
	if elapsed := time.Since(started); elapsed < time.Second {
		t.Errorf("expected a backoff sleep before the retry, slept %s", elapsed)
	}

	m, ok := body.(map[string]any)
	if !ok || m["ok"] != true {
		t.Errorf("unexpected body: %v", body)
	}
}

// TestTransportFaultExhaustsBudget tests that a host that keeps timing out
// surfaces the fault once the budget runs out.
func TestTransportFaultExhaustsBudget(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(600 * time.Millisecond)
	}))
	defer srv.Close()

	c := New(200*time.Millisecond, 1, "http")

	_, err := c.JSON(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !IsTimeout(err) {
		t.Errorf("expected a timeout fault, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected initial try plus 1 retry, got %d requests", calls.Load())
	}
}

// TestClientErrorTerminal tests that a non-429 4xx fails immediately.
func TestClientErrorTerminal(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(5*time.Second, 3, "http")

	_, err := c.JSON(context.Background(), srv.URL)
	if !IsNotFound(err) {
		t.Fatalf("expected a 404 fault, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("4xx should not retry, got %d requests", calls.Load())
	}
	if !strings.Contains(err.Error(), "HTTP 404") {
		t.Errorf("fault message should name the status, got %q", err.Error())
	}
}

// TestInvalidJSONTerminal tests that an undecodable body fails immediately.
func TestInvalidJSONTerminal(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	c := New(5*time.Second, 3, "http")

	_, err := c.JSON(context.Background(), srv.URL)
	if !errors.Is(err, ErrInvalidJSON) {
		t.Fatalf("expected invalid JSON fault, got %v", err)
	}
}

// TestHostJSONRemembersScheme tests that the winning protocol is reused.
func TestHostJSONRemembersScheme(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	c := New(5*time.Second, 0, "http")

	_, scheme, err := c.HostJSON(context.Background(), host, "video-channels?start=0&count=1")
	if err != nil {
		t.Fatalf("HostJSON failed: %v", err)
	}
	if scheme != "http" {
		t.Errorf("expected http, got %q", scheme)
	}

	if _, ok := c.schemes.Load(host); !ok {
		t.Error("winning scheme was not remembered")
	}

	if _, _, err := c.HostJSON(context.Background(), host, "video-channels?start=0&count=1"); err != nil {
		t.Fatalf("second HostJSON failed: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 requests, got %d", calls.Load())
	}
}

// TestHostJSONKeepsSchemeOnHTTPFault tests that an HTTP-level failure over
// the preferred protocol is surfaced as-is instead of masking it with an
// alternate-protocol attempt.
func TestHostJSONKeepsSchemeOnHTTPFault(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	c := New(5*time.Second, 3, "http")

	_, _, err := c.HostJSON(context.Background(), host, "videos/nope")
	if !IsNotFound(err) {
		t.Fatalf("expected the 404 fault, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("a 404 proves the protocol works, expected 1 request, got %d", calls.Load())
	}

	s, ok := c.schemes.Load(host)
	if !ok || s != "http" {
		t.Errorf("answering scheme was not remembered, got (%v, %v)", s, ok)
	}
}

// TestFaultClassifiers tests the terminal-fault helpers on message text.
func TestFaultClassifiers(t *testing.T) {
	t.Parallel()

	if !IsCertExpired(errors.New("x509: certificate has expired or is not yet valid")) {
		t.Error("expired certificate message not detected")
	}
	if !IsCertExpired(errors.New("CERT_HAS_EXPIRED")) {
		t.Error("CERT_HAS_EXPIRED code not detected")
	}
	if !IsTLS(errors.New("tls: handshake failure")) {
		t.Error("TLS message not detected")
	}
	if !IsTimeout(errors.New("context deadline exceeded")) {
		t.Error("timeout message not detected")
	}
	if !IsTimeout(context.DeadlineExceeded) {
		t.Error("deadline sentinel not detected")
	}
	if IsTLS(nil) || IsTimeout(nil) || IsCertExpired(nil) {
		t.Error("nil error misclassified")
	}
}
