// Package ytdlp adapts the external yt-dlp tool: metadata-only extraction
// and fetch-to-path downloads, both as blocking calls bounded by the
// caller's context. URLs that already point at a plain media file skip the
// tool and are fetched directly over HTTP.
package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/nanovideo/nanovideo/internal/safeurl"
)

// stderrTailLines caps how much tool stderr is carried into error messages.
const stderrTailLines = 5

// Client invokes the external extractor. Zero value is unusable; use New.
type Client struct {
	// Path is the tool binary, resolved via PATH when not absolute.
	Path string
}

func New(path string) *Client {
	if path == "" {
		path = "yt-dlp"
	}
	return &Client{Path: path}
}

// Available reports whether the tool binary can be found. Used by /health.
func (c *Client) Available() bool {
	_, err := exec.LookPath(c.Path)
	return err == nil
}

// Metadata extracts metadata for url without downloading. Direct media URLs
// are described from the URL alone; everything else runs the tool with -J.
func (c *Client) Metadata(ctx context.Context, url string) (*Metadata, error) {
	if _, err := safeurl.ParseAbsolute(url); err != nil {
		return nil, errors.Wrap(err, "metadata")
	}
	if IsDirect(url) {
		m := directMetadata(url)
		if size := contentLength(ctx, url); size > 0 {
			m.Formats = []Format{{FormatID: "direct", Ext: m.Ext, Filesize: float64(size)}}
		}
		return m, nil
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Path, metadataArgs(url)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, toolError("extract metadata", err, ctx, &stderr)
	}

	var m Metadata
	if err := json.Unmarshal(stdout.Bytes(), &m); err != nil {
		return nil, errors.Wrap(err, "parse extractor output")
	}
	if m.Ext == "" {
		m.Ext = "mp4"
	}
	return &m, nil
}

// Fetch downloads url in the requested format to exactly dest. The file at
// dest is complete when Fetch returns nil; on error the caller owns cleanup
// of whatever was partially written.
func (c *Client) Fetch(ctx context.Context, url, format, dest string) error {
	if _, err := safeurl.ParseAbsolute(url); err != nil {
		return errors.Wrap(err, "fetch")
	}
	if IsDirect(url) {
		log.WithFields(log.Fields{"url": safeurl.Redact(url), "dest": dest}).
			Debug("ytdlp: direct download, tool bypassed")
		return fetchDirect(ctx, url, dest)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Path, fetchArgs(url, format, dest)...)
	cmd.Stderr = &stderr
	log.WithFields(log.Fields{"url": safeurl.Redact(url), "format": format, "dest": dest}).
		Debug("ytdlp: invoking tool")
	if err := cmd.Run(); err != nil {
		return toolError("download", err, ctx, &stderr)
	}
	return nil
}

// metadataArgs builds the argv for a metadata-only run.
func metadataArgs(url string) []string {
	return []string{
		"-J",
		"--no-playlist",
		"--no-warnings",
		url,
	}
}

// fetchArgs builds the argv for a download run. --no-part matters: the tool
// must write dest itself, not a sibling ".part" file that would confuse the
// cache directory's partial-file convention.
func fetchArgs(url, format, dest string) []string {
	if format == "" {
		format = "best"
	}
	return []string{
		"-f", format,
		"--no-playlist",
		"--no-part",
		"--no-mtime",
		"-q", "--no-warnings", "--no-progress",
		"-o", dest,
		url,
	}
}

// toolError wraps a tool failure with the tail of its stderr so the reason
// reaches clients verbatim. Context expiry is surfaced as such.
func toolError(op string, err error, ctx context.Context, stderr *bytes.Buffer) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Wrapf(ctxErr, "%s timed out", op)
	}
	tail := stderrTail(stderr.String())
	if tail == "" {
		return errors.Wrapf(err, "%s", op)
	}
	return errors.Wrapf(err, "%s: %s", op, tail)
}

func stderrTail(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > stderrTailLines {
		lines = lines[len(lines)-stderrTailLines:]
	}
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return strings.TrimSpace(strings.Join(lines, "; "))
}
