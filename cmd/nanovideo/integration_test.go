// Integration test: drives the full stack in-process with a local origin
// server. Direct file URLs bypass the external tool, so this runs anywhere.
package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/nanovideo/nanovideo/internal/api"
	"github.com/nanovideo/nanovideo/internal/cache"
	"github.com/nanovideo/nanovideo/internal/config"
	"github.com/nanovideo/nanovideo/internal/fetch"
	"github.com/nanovideo/nanovideo/internal/ytdlp"
)

func TestIntegration_directDownloadAndCache(t *testing.T) {
	payload := []byte("fake-mp4-bytes-0123456789")
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sample.mp4" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Write(payload)
	}))
	defer origin.Close()

	cfg := &config.Config{
		DefaultFormat: "best",
		APIKeys:       []string{"itest-key"},
		InfoCacheTTL:  time.Minute,
	}
	ix := &cache.Index{Dir: t.TempDir()}
	if err := ix.EnsureDir(); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	tool := ytdlp.New("yt-dlp-not-installed-anywhere")
	coord := fetch.New(ix, tool, fetch.Options{MaxConcurrent: 2, Timeout: 30 * time.Second})
	srv := api.New(cfg, ix, coord, tool, nil, nil)
	app := httptest.NewServer(srv.Echo())
	defer app.Close()

	mediaURL := origin.URL + "/sample.mp4"
	get := func() (*http.Response, error) {
		req, _ := http.NewRequest(http.MethodGet, app.URL+"/download?url="+url.QueryEscape(mediaURL), nil)
		req.Header.Set("X-API-Key", "itest-key")
		return http.DefaultClient.Do(req)
	}

	resp, err := get()
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	body := readAll(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download status %d: %s", resp.StatusCode, body)
	}
	if string(body) != string(payload) {
		t.Fatalf("body mismatch: got %q want %q", body, payload)
	}

	// Kill the origin: the second request must come from the cache.
	origin.Close()
	resp, err = get()
	if err != nil {
		t.Fatalf("cached download: %v", err)
	}
	body = readAll(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cached status %d: %s", resp.StatusCode, body)
	}
	if string(body) != string(payload) {
		t.Fatalf("cached body mismatch: got %q want %q", body, payload)
	}

	entries, err := ix.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("want 1 cached entry, got %d", len(entries))
	}
	if entries[0].Size != int64(len(payload)) {
		t.Fatalf("cached size %d, want %d", entries[0].Size, len(payload))
	}
}

func TestIntegration_envLoaded(t *testing.T) {
	err := config.LoadEnvFile(".env")
	if err != nil {
		t.Fatalf("LoadEnvFile(.env): %v", err)
	}
	if _, err := config.Load(""); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func readAll(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return b
}
