package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8000", c.Addr())
	assert.Equal(t, "downloads", c.DownloadsDir)
	assert.Equal(t, "yt-dlp", c.YtdlpPath)
	assert.Equal(t, "best", c.DefaultFormat)
	assert.Equal(t, 4, c.MaxConcurrentFetches)
	assert.Equal(t, 30*time.Minute, c.FetchTimeout)
	assert.Equal(t, filepath.Join("downloads", ".nanovideo-history.db"), c.HistoryPath)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DOWNLOADS_DIR", "/tmp/dl")
	t.Setenv("API_KEYS", "k1,k2")
	t.Setenv("PORT", "9001")
	t.Setenv("NANOVIDEO_MAX_CONCURRENT_FETCHES", "2")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/dl", c.DownloadsDir)
	assert.Equal(t, []string{"k1", "k2"}, c.APIKeys)
	assert.Equal(t, "0.0.0.0:9001", c.Addr())
	assert.Equal(t, 2, c.MaxConcurrentFetches)
}

func TestHasAPIKey(t *testing.T) {
	c := &Config{APIKeys: []string{"alpha", "beta"}}
	assert.True(t, c.HasAPIKey("alpha"))
	assert.False(t, c.HasAPIKey("gamma"))
	assert.False(t, c.HasAPIKey(""))
	// An accidental empty entry (API_KEYS="a,,b") must not authorise "".
	c = &Config{APIKeys: []string{""}}
	assert.False(t, c.HasAPIKey(""))
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(p, []byte(
		"# comment\n"+
			"export DOWNLOADS_DIR=/srv/media\n"+
			"API_KEYS=\"secret\"\n"+
			"\n"+
			"garbage-line\n"), 0o644))

	t.Setenv("DOWNLOADS_DIR", "preset") // existing env wins
	os.Unsetenv("API_KEYS")
	t.Cleanup(func() { os.Unsetenv("API_KEYS") })

	require.NoError(t, LoadEnvFile(p))
	assert.Equal(t, "preset", os.Getenv("DOWNLOADS_DIR"))
	assert.Equal(t, "secret", os.Getenv("API_KEYS"))

	assert.NoError(t, LoadEnvFile(filepath.Join(dir, "missing.env")))
}
