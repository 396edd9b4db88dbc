package parsing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// TestNormalizeHost tests hostname normalization.
func TestNormalizeHost(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "Video.Example.ORG", want: "video.example.org"},
		{in: "  a.example \n", want: "a.example"},
		{in: "https://a.example/videos/watch/x", want: "a.example"},
		{in: "http://a.example:443", want: "a.example"},
		{in: "a.example:9000", want: "a.example"},
		{in: "a.example/some/path", want: "a.example"},
		{in: ".a.example.", want: "a.example"},
		{in: "user@a.example", want: "a.example"},
		{in: "", wantErr: true},
		{in: "   ", wantErr: true},
		{in: "https://", wantErr: true},
	}

	for _, tc := range cases {
		got, err := NormalizeHost(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("NormalizeHost(%q) expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeHost(%q) unexpected error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizeHost(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// TestPreferredScheme tests scheme selection from the whitelist source.
func TestPreferredScheme(t *testing.T) {
	t.Parallel()

	if got := PreferredScheme("http://lists.example/hosts.txt"); got != "http" {
		t.Errorf("expected http, got %q", got)
	}
	if got := PreferredScheme("https://lists.example/hosts.txt"); got != "https" {
		t.Errorf("expected https, got %q", got)
	}
	if got := PreferredScheme("/tmp/hosts.txt"); got != "https" {
		t.Errorf("expected https for file source, got %q", got)
	}
}

// TestLoadHostsFile tests loading a host list from a file.
func TestLoadHostsFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "hosts.txt")
	content := "# comment\na.example\n\nB.Example\nhttps://c.example/path\na.example\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write host list: %v", err)
	}

	hosts, err := LoadHosts(context.Background(), path, time.Second)
	if err != nil {
		t.Fatalf("LoadHosts failed: %v", err)
	}

	want := []string{"a.example", "b.example", "c.example"}
	if !reflect.DeepEqual(hosts, want) {
		t.Errorf("LoadHosts = %v, want %v", hosts, want)
	}
}

// TestLoadHostsURL tests loading a host list over HTTP.
func TestLoadHostsURL(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("a.example\nb.example\n"))
	}))
	defer srv.Close()

	hosts, err := LoadHosts(context.Background(), srv.URL, time.Second)
	if err != nil {
		t.Fatalf("LoadHosts failed: %v", err)
	}
	want := []string{"a.example", "b.example"}
	if !reflect.DeepEqual(hosts, want) {
		t.Errorf("LoadHosts = %v, want %v", hosts, want)
	}
}

// TestFilterHosts tests exclusion filtering.
func TestFilterHosts(t *testing.T) {
	t.Parallel()

	hosts := []string{"a.example", "b.example", "c.example"}
	excluded := map[string]struct{}{"b.example": {}}

	got := FilterHosts(hosts, excluded)
	want := []string{"a.example", "c.example"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FilterHosts = %v, want %v", got, want)
	}

	if got := FilterHosts(hosts, nil); !reflect.DeepEqual(got, hosts) {
		t.Errorf("FilterHosts with empty exclude = %v, want %v", got, hosts)
	}
}
