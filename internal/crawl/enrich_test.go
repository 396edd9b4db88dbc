package crawl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"tubecrawl/internal/contracts"
	"tubecrawl/internal/models"
)

func seedVideo(t *testing.T, s contracts.Store, host, id string) {
	t.Helper()
	v := &models.Video{
		ID:          id,
		Host:        host,
		ChannelID:   "7",
		ChannelName: "science_vids",
		Title:       "Video " + id,
	}
	if _, err := s.VideoStore().UpsertVideos([]*models.Video{v}); err != nil {
		t.Fatalf("failed to seed video %q: %v", id, err)
	}
}

// TestRunEnrichTagsAndComments tests both detail-page enrichment modes.
func TestRunEnrichTagsAndComments(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/videos/a1" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"uuid": "a1", "tags": ["go", "sqlite"], "comments": 5}`))
	}))
	defer srv.Close()
	host := serverHost(t, srv.URL)

	s := newCrawlStore(t)
	seedVideo(t, s, host, "a1")

	base := EnrichConfig{
		Concurrency:     1,
		Timeout:         5 * time.Second,
		HostDelay:       time.Millisecond,
		PreferredScheme: "http",
	}

	tagsCfg := base
	tagsCfg.Mode = ModeTags
	if err := RunEnrich(context.Background(), s, tagsCfg); err != nil {
		t.Fatalf("RunEnrich(tags) failed: %v", err)
	}

	pending, err := s.VideoStore().ListVideosForTags(false)
	if err != nil {
		t.Fatalf("ListVideosForTags failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("%d videos still pending tags after the run", len(pending))
	}
	tagged, err := s.VideoStore().ListVideosForTags(true)
	if err != nil {
		t.Fatalf("ListVideosForTags(update) failed: %v", err)
	}
	if len(tagged) != 1 || tagged[0].TagsJSON == nil || *tagged[0].TagsJSON != `["go","sqlite"]` {
		t.Fatalf("unexpected tagged videos: %+v", tagged)
	}

	commentsCfg := base
	commentsCfg.Mode = ModeComments
	commentsCfg.Resume = true
	if err := RunEnrich(context.Background(), s, commentsCfg); err != nil {
		t.Fatalf("RunEnrich(comments) failed: %v", err)
	}

	var n int64
	row := s.VideoStore().GetDB().QueryRow("SELECT comments_count FROM videos WHERE video_id = 'a1'")
	if err := row.Scan(&n); err != nil {
		t.Fatalf("failed to read comments count: %v", err)
	}
	if n != 5 {
		t.Errorf("comments_count = %d, want 5", n)
	}
}

// TestRunEnrichInvalidation tests that a 404 detail page invalidates the
// video permanently and later passes skip it.
func TestRunEnrichInvalidation(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()
	host := serverHost(t, srv.URL)

	s := newCrawlStore(t)
	seedVideo(t, s, host, "gone")

	cfg := EnrichConfig{
		Mode:            ModeTags,
		Concurrency:     1,
		Timeout:         5 * time.Second,
		HostDelay:       time.Millisecond,
		PreferredScheme: "http",
	}
	if err := RunEnrich(context.Background(), s, cfg); err != nil {
		t.Fatalf("RunEnrich failed: %v", err)
	}

	var reason string
	var tags any
	row := s.VideoStore().GetDB().QueryRow("SELECT invalid_reason, tags_json FROM videos WHERE video_id = 'gone'")
	if err := row.Scan(&reason, &tags); err != nil {
		t.Fatalf("failed to read video: %v", err)
	}
	if reason != "not_found" {
		t.Errorf("invalid_reason = %q, want not_found", reason)
	}
	if tags != nil {
		t.Errorf("tags_json should stay unset, got %v", tags)
	}

	// Invalidation is terminal: the next pass must not refetch.
	before := calls.Load()
	if err := RunEnrich(context.Background(), s, cfg); err != nil {
		t.Fatalf("second RunEnrich failed: %v", err)
	}
	if calls.Load() != before {
		t.Errorf("invalidated video was refetched (%d -> %d calls)", before, calls.Load())
	}
}

// TestRunEnrichRetryableError tests that non-terminal faults bump the error
// counter without invalidating the row.
func TestRunEnrichRetryableError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	host := serverHost(t, srv.URL)

	s := newCrawlStore(t)
	seedVideo(t, s, host, "flaky")

	cfg := EnrichConfig{
		Mode:            ModeTags,
		Concurrency:     1,
		Timeout:         5 * time.Second,
		HostDelay:       time.Millisecond,
		PreferredScheme: "http",
	}
	if err := RunEnrich(context.Background(), s, cfg); err != nil {
		t.Fatalf("RunEnrich failed: %v", err)
	}

	var lastErr string
	var errCount int64
	var reason any
	row := s.VideoStore().GetDB().QueryRow("SELECT last_error, error_count, invalid_reason FROM videos WHERE video_id = 'flaky'")
	if err := row.Scan(&lastErr, &errCount, &reason); err != nil {
		t.Fatalf("failed to read video: %v", err)
	}
	if lastErr != "HTTP 500" || errCount != 1 {
		t.Errorf("error fields = (%q, %d), want (HTTP 500, 1)", lastErr, errCount)
	}
	if reason != nil {
		t.Errorf("retryable fault must not invalidate, got reason %v", reason)
	}
}
