package crawl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tubecrawl/internal/domain/consts"
	"tubecrawl/internal/fetch"
)

// TestRunFederationRegisterOnly tests the mode without expansion or graph
// collection: the whitelist is registered and nothing is walked.
func TestRunFederationRegisterOnly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	whitelist := filepath.Join(dir, "whitelist.txt")
	if err := os.WriteFile(whitelist, []byte("a.example\nb.example\nc.example\n"), 0o644); err != nil {
		t.Fatalf("failed to write whitelist: %v", err)
	}
	exclude := filepath.Join(dir, "exclude.txt")
	if err := os.WriteFile(exclude, []byte("c.example\n"), 0o644); err != nil {
		t.Fatalf("failed to write exclude file: %v", err)
	}

	s := newCrawlStore(t)
	cfg := FederationConfig{
		WhitelistSrc: whitelist,
		ExcludeFile:  exclude,
		Concurrency:  2,
		Timeout:      time.Second,
		MaxErrors:    3,
	}

	if err := RunFederation(context.Background(), s, cfg); err != nil {
		t.Fatalf("RunFederation failed: %v", err)
	}

	hosts, err := s.HostStore().ListHosts()
	if err != nil {
		t.Fatalf("ListHosts failed: %v", err)
	}
	if len(hosts) != 2 || hosts[0] != "a.example" || hosts[1] != "b.example" {
		t.Errorf("registered hosts = %v, want [a.example b.example]", hosts)
	}

	if _, ok, err := s.HostStore().ClaimNextHost(); err != nil {
		t.Fatalf("ClaimNextHost failed: %v", err)
	} else if ok {
		t.Error("register-only run should leave the queue empty")
	}

	if v, ok, err := s.StateStore().GetState(consts.StateWhitelistCount); err != nil || !ok || v != "2" {
		t.Errorf("whitelist_count = (%q, %v, %v), want 2", v, ok, err)
	}
	if _, ok, err := s.StateStore().GetState(consts.StateFinishedAt); err != nil || !ok {
		t.Errorf("finished_at missing (ok=%v, err=%v)", ok, err)
	}
}

// TestRunFederationEmptyWhitelist tests that an all-excluded whitelist fails.
func TestRunFederationEmptyWhitelist(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	whitelist := filepath.Join(dir, "whitelist.txt")
	if err := os.WriteFile(whitelist, []byte("a.example\n"), 0o644); err != nil {
		t.Fatalf("failed to write whitelist: %v", err)
	}
	exclude := filepath.Join(dir, "exclude.txt")
	if err := os.WriteFile(exclude, []byte("a.example\n"), 0o644); err != nil {
		t.Fatalf("failed to write exclude file: %v", err)
	}

	s := newCrawlStore(t)
	err := RunFederation(context.Background(), s, FederationConfig{
		WhitelistSrc: whitelist,
		ExcludeFile:  exclude,
		Timeout:      time.Second,
	})
	if err == nil {
		t.Fatal("expected an error for an empty whitelist")
	}
}

// TestWalkFederationHostDiscovery tests expansion and edge collection from
// one host's follow pages, including exclusion of discovered targets.
func TestWalkFederationHostDiscovery(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/server/following":
			_, _ = w.Write([]byte(`{"total": 2, "data": [
				{"following": {"host": "b.example"}},
				{"following": {"host": "c.example"}}
			]}`))
		case "/api/v1/server/followers":
			_, _ = w.Write([]byte(`{"total": 1, "data": [
				{"follower": {"host": "d.example"}}
			]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	host := serverHost(t, srv.URL)

	s := newCrawlStore(t)
	hs := s.HostStore()
	if err := hs.EnsureHost(host); err != nil {
		t.Fatalf("EnsureHost failed: %v", err)
	}

	client := fetch.New(5*time.Second, 0, "http")
	cfg := FederationConfig{Expand: true, CollectGraph: true, MaxErrors: 3}
	inScope := map[string]struct{}{host: {}}
	excluded := map[string]struct{}{"c.example": {}}

	if err := walkFederationHost(context.Background(), hs, client, cfg, inScope, excluded, host); err != nil {
		t.Fatalf("walkFederationHost failed: %v", err)
	}

	hosts, err := hs.ListHosts()
	if err != nil {
		t.Fatalf("ListHosts failed: %v", err)
	}
	registered := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		registered[h] = struct{}{}
	}
	for _, want := range []string{host, "b.example", "d.example"} {
		if _, ok := registered[want]; !ok {
			t.Errorf("host %q not registered", want)
		}
	}
	if _, ok := registered["c.example"]; ok {
		t.Error("excluded host c.example was registered")
	}

	// Discovered hosts land on the queue.
	claimed := make(map[string]struct{})
	for {
		h, ok, err := hs.ClaimNextHost()
		if err != nil {
			t.Fatalf("ClaimNextHost failed: %v", err)
		}
		if !ok {
			break
		}
		claimed[h] = struct{}{}
	}
	if _, ok := claimed["b.example"]; !ok {
		t.Error("b.example was not enqueued")
	}
	if _, ok := claimed["d.example"]; !ok {
		t.Error("d.example was not enqueued")
	}
	if _, ok := claimed["c.example"]; ok {
		t.Error("excluded host c.example was enqueued")
	}

	edges, err := hs.ListEdges()
	if err != nil {
		t.Fatalf("ListEdges failed: %v", err)
	}
	type pair struct{ src, dst string }
	got := make(map[pair]struct{}, len(edges))
	for _, e := range edges {
		got[pair{e.Source, e.Target}] = struct{}{}
	}
	if _, ok := got[pair{host, "b.example"}]; !ok {
		t.Errorf("missing following edge, got %v", edges)
	}
	if _, ok := got[pair{"d.example", host}]; !ok {
		t.Errorf("missing follower edge (direction flipped), got %v", edges)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 edges, got %v", edges)
	}
}

// TestFederationWorkerMarksPermanentFailure tests that a host failing past
// max_errors ends in the error state without blocking the worker.
func TestFederationWorkerMarksPermanentFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	host := serverHost(t, srv.URL)

	s := newCrawlStore(t)
	hs := s.HostStore()
	if err := hs.EnsureHost(host); err != nil {
		t.Fatalf("EnsureHost failed: %v", err)
	}
	if err := hs.EnqueueHost(host, 0); err != nil {
		t.Fatalf("EnqueueHost failed: %v", err)
	}

	client := fetch.New(5*time.Second, 0, "http")
	cfg := FederationConfig{Expand: true, MaxErrors: 1}

	if err := federationWorker(context.Background(), hs, client, cfg, map[string]struct{}{host: {}}, nil); err != nil {
		t.Fatalf("federationWorker failed: %v", err)
	}

	count, err := hs.GetHostErrorCount(host)
	if err != nil {
		t.Fatalf("GetHostErrorCount failed: %v", err)
	}
	if count != 1 {
		t.Errorf("error count = %d, want 1", count)
	}

	var status string
	row := hs.GetDB().QueryRow("SELECT status FROM instance_crawl_progress WHERE host = ?", host)
	if err := row.Scan(&status); err != nil {
		t.Fatalf("failed to read progress: %v", err)
	}
	if status != consts.StatusError {
		t.Errorf("progress status = %q, want error", status)
	}
}
