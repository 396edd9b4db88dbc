package crawl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"tubecrawl/internal/domain/consts"
	"tubecrawl/internal/fetch"
)

func writePage(t *testing.T, w http.ResponseWriter, total int, entries []map[string]any) {
	t.Helper()
	body, err := json.Marshal(map[string]any{"total": total, "data": entries})
	if err != nil {
		t.Errorf("failed to encode page: %v", err)
		return
	}
	_, _ = w.Write(body)
}

func localChannelEntry(i int) map[string]any {
	return map[string]any{
		"id":          i,
		"name":        fmt.Sprintf("chan_%d", i),
		"displayName": fmt.Sprintf("Channel %d", i),
		"videosCount": 3,
	}
}

// TestRunChannelsWalk tests a paginated channel walk with the origin filter
// dropping federated mirror rows.
func TestRunChannelsWalk(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/video-channels" {
			http.NotFound(w, r)
			return
		}
		start, _ := strconv.Atoi(r.URL.Query().Get("start"))
		switch start {
		case 0:
			entries := make([]map[string]any, 0, 50)
			for i := 0; i < 48; i++ {
				entries = append(entries, localChannelEntry(i))
			}
			// Mirrored remote channels must not be stored for this host.
			entries = append(entries,
				map[string]any{"id": 9000, "name": "mirror_0", "host": "elsewhere.example"},
				map[string]any{"id": 9001, "name": "mirror_1", "host": "elsewhere.example"},
			)
			writePage(t, w, 60, entries)
		case 50:
			entries := make([]map[string]any, 0, 10)
			for i := 50; i < 60; i++ {
				entries = append(entries, localChannelEntry(i))
			}
			writePage(t, w, 60, entries)
		default:
			writePage(t, w, 60, nil)
		}
	}))
	defer srv.Close()
	host := serverHost(t, srv.URL)

	s := newCrawlStore(t)
	if err := s.HostStore().EnsureHost(host); err != nil {
		t.Fatalf("EnsureHost failed: %v", err)
	}

	cfg := ChannelConfig{
		Concurrency:     2,
		Timeout:         5 * time.Second,
		PreferredScheme: "http",
	}
	if err := RunChannels(context.Background(), s, cfg); err != nil {
		t.Fatalf("RunChannels failed: %v", err)
	}

	db := s.ChannelStore().GetDB()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM channels WHERE instance_domain = ?", host).Scan(&n); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 58 {
		t.Errorf("stored %d channels, want 58", n)
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM channels WHERE channel_name LIKE 'mirror_%'").Scan(&n); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 0 {
		t.Errorf("%d mirrored remote channels were stored", n)
	}

	var status string
	var lastStart int
	row := db.QueryRow("SELECT status, last_start FROM channel_crawl_progress WHERE host = ?", host)
	if err := row.Scan(&status, &lastStart); err != nil {
		t.Fatalf("failed to read progress: %v", err)
	}
	if status != consts.StatusDone || lastStart != 0 {
		t.Errorf("progress = (%q, %d), want (done, 0)", status, lastStart)
	}

	for _, key := range []string{
		stageChannels + consts.StateStartedAtSuffix,
		stageChannels + consts.StateFinishedAtSuffix,
	} {
		if _, ok, err := s.StateStore().GetState(key); err != nil {
			t.Fatalf("failed to read %q: %v", key, err)
		} else if !ok {
			t.Errorf("run marker %q was not written", key)
		}
	}
}

// TestRunChannelsResume tests that an in-progress host restarts at its saved
// offset instead of page zero.
func TestRunChannelsResume(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		starts []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		starts = append(starts, r.URL.Query().Get("start"))
		mu.Unlock()

		entries := []map[string]any{localChannelEntry(50)}
		writePage(t, w, 51, entries)
	}))
	defer srv.Close()
	host := serverHost(t, srv.URL)

	s := newCrawlStore(t)
	if err := s.HostStore().EnsureHost(host); err != nil {
		t.Fatalf("EnsureHost failed: %v", err)
	}
	if err := s.ChannelStore().UpdateChannelProgress(host, consts.StatusInProgress, 50); err != nil {
		t.Fatalf("failed to seed progress: %v", err)
	}

	cfg := ChannelConfig{
		Concurrency:     1,
		Timeout:         5 * time.Second,
		Resume:          true,
		PreferredScheme: "http",
	}
	if err := RunChannels(context.Background(), s, cfg); err != nil {
		t.Fatalf("RunChannels failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(starts) != 1 || starts[0] != "50" {
		t.Errorf("requested offsets = %v, want [50]", starts)
	}
}

// TestRunChannelsHostFault tests that a failing host is marked and skipped
// without failing the run.
func TestRunChannelsHostFault(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	host := serverHost(t, srv.URL)

	s := newCrawlStore(t)
	if err := s.HostStore().EnsureHost(host); err != nil {
		t.Fatalf("EnsureHost failed: %v", err)
	}

	cfg := ChannelConfig{
		Concurrency:     1,
		Timeout:         5 * time.Second,
		PreferredScheme: "http",
	}
	if err := RunChannels(context.Background(), s, cfg); err != nil {
		t.Fatalf("a per-host fault should not fail the run: %v", err)
	}

	db := s.HostStore().GetDB()
	var lastErr, source string
	row := db.QueryRow("SELECT last_error, last_error_source FROM instances WHERE host = ?", host)
	if err := row.Scan(&lastErr, &source); err != nil {
		t.Fatalf("failed to read host error: %v", err)
	}
	if lastErr != "HTTP 500" || source != consts.ErrSourceChannels {
		t.Errorf("host error = (%q, %q), want (HTTP 500, channels)", lastErr, source)
	}

	var status string
	row = db.QueryRow("SELECT status FROM channel_crawl_progress WHERE host = ?", host)
	if err := row.Scan(&status); err != nil {
		t.Fatalf("failed to read progress: %v", err)
	}
	if status != consts.StatusError {
		t.Errorf("progress status = %q, want error", status)
	}
}

// TestRunChannelsNoNetworkAborts tests that an unreachable network stops the
// run without flipping the in-flight progress row or marking the host.
func TestRunChannelsNoNetworkAborts(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	host := serverHost(t, srv.URL)
	// Closing the server frees the port, so connections are refused.
	srv.Close()

	s := newCrawlStore(t)
	if err := s.HostStore().EnsureHost(host); err != nil {
		t.Fatalf("EnsureHost failed: %v", err)
	}

	cfg := ChannelConfig{
		Concurrency:     1,
		Timeout:         2 * time.Second,
		PreferredScheme: "http",
	}
	err := RunChannels(context.Background(), s, cfg)
	if !errors.Is(err, fetch.ErrNoNetwork) {
		t.Fatalf("expected a no-network abort, got %v", err)
	}

	db := s.HostStore().GetDB()
	var status string
	row := db.QueryRow("SELECT status FROM channel_crawl_progress WHERE host = ?", host)
	if err := row.Scan(&status); err != nil {
		t.Fatalf("failed to read progress: %v", err)
	}
	if status != consts.StatusInProgress {
		t.Errorf("progress status = %q, want the in-flight row left as in_progress", status)
	}

	var lastErr any
	if err := db.QueryRow("SELECT last_error FROM instances WHERE host = ?", host).Scan(&lastErr); err != nil {
		t.Fatalf("failed to read host error: %v", err)
	}
	if lastErr != nil {
		t.Errorf("host was marked with %v, want no error recorded", lastErr)
	}

	if _, ok, err := s.StateStore().GetState(stageChannels + consts.StateFinishedAtSuffix); err != nil {
		t.Fatalf("failed to read run marker: %v", err)
	} else if ok {
		t.Error("an aborted run wrote its finished marker")
	}
}

// TestRunChannelsBudget tests that max_channels caps stored rows.
func TestRunChannelsBudget(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entries := make([]map[string]any, 0, 50)
		for i := 0; i < 50; i++ {
			entries = append(entries, localChannelEntry(i))
		}
		writePage(t, w, 200, entries)
	}))
	defer srv.Close()
	host := serverHost(t, srv.URL)

	s := newCrawlStore(t)
	if err := s.HostStore().EnsureHost(host); err != nil {
		t.Fatalf("EnsureHost failed: %v", err)
	}

	cfg := ChannelConfig{
		Concurrency:     1,
		Timeout:         5 * time.Second,
		MaxChannels:     30,
		PreferredScheme: "http",
	}
	if err := RunChannels(context.Background(), s, cfg); err != nil {
		t.Fatalf("RunChannels failed: %v", err)
	}

	var n int
	if err := s.ChannelStore().GetDB().QueryRow("SELECT COUNT(*) FROM channels").Scan(&n); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 30 {
		t.Errorf("stored %d channels, want the 30 the budget allows", n)
	}
}
