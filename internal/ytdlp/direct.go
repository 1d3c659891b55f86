package ytdlp

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/cavaliercoder/grab"
	"github.com/pkg/errors"

	"github.com/nanovideo/nanovideo/internal/httpclient"
)

// directExts are URL path suffixes treated as plain media files: no
// extraction needed, plain HTTP GET suffices. Playlist formats (m3u8, mpd)
// are deliberately absent; those go through the tool.
var directExts = map[string]bool{
	".mp4": true, ".m4v": true, ".webm": true, ".mkv": true,
	".mov": true, ".avi": true, ".ts": true,
	".mp3": true, ".m4a": true, ".aac": true, ".flac": true,
	".wav": true, ".ogg": true, ".opus": true,
}

// IsDirect reports whether url points straight at a media file.
func IsDirect(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return directExts[strings.ToLower(path.Ext(u.Path))]
}

// fetchDirect downloads a direct media URL to dest. The per-host semaphore
// keeps a burst of cache misses against one CDN civil.
func fetchDirect(ctx context.Context, rawURL, dest string) error {
	release := httpclient.GlobalHostSem.Acquire(rawURL)
	defer release()

	client := grab.NewClient()
	client.UserAgent = "NanoVideo/1.0"
	client.HTTPClient = httpclient.WithoutTimeout()

	req, err := grab.NewRequest(dest, rawURL)
	if err != nil {
		return errors.Wrap(err, "direct download request")
	}
	// dest is a fresh partial path owned by this fetch; never resume
	// whatever a previous crashed process may have left there.
	req.NoResume = true
	req = req.WithContext(ctx)

	resp := client.Do(req)
	if err := resp.Err(); err != nil {
		return errors.Wrap(err, "direct download")
	}
	return nil
}

// contentLength probes a direct URL with HEAD. Best effort; returns -1 when
// the origin does not say.
func contentLength(ctx context.Context, rawURL string) int64 {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return -1
	}
	resp, err := httpclient.Default().Do(req)
	if err != nil {
		return -1
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return -1
	}
	return resp.ContentLength
}
