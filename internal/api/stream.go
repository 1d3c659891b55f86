package api

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/nanovideo/nanovideo/internal/cache"
	"github.com/nanovideo/nanovideo/internal/metrics"
)

// ErrStreamingFailed marks an entry that vanished or shrank while being
// served. By then headers are gone; the copy just stops short.
var ErrStreamingFailed = errors.New("streaming failed")

const streamBufSize = 256 * 1024

// streamEntry serves one cached file without buffering it whole. Supports a
// single byte range; multi-range requests get the full body.
func (s *Server) streamEntry(c echo.Context, entry cache.Entry, filename string) error {
	f, err := os.Open(entry.Path)
	if err != nil {
		if os.IsNotExist(err) {
			// Evicted between lookup and open.
			return jsonError(c, errors.Wrap(cache.ErrNotFound, entry.Name))
		}
		return jsonError(c, errors.Wrap(ErrStreamingFailed, err.Error()))
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return jsonError(c, errors.Wrap(ErrStreamingFailed, err.Error()))
	}
	size := st.Size()

	h := c.Response().Header()
	h.Set(echo.HeaderContentType, contentType(entry.Name))
	h.Set("Accept-Ranges", "bytes")
	h.Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))

	length := size
	status := http.StatusOK
	if rng := c.Request().Header.Get("Range"); rng != "" {
		start, end, ok := parseRange(rng, size)
		if !ok {
			h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			return c.NoContent(http.StatusRequestedRangeNotSatisfiable)
		}
		if start > 0 || end < size-1 {
			length = end - start + 1
			status = http.StatusPartialContent
			h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
			if _, err := f.Seek(start, io.SeekStart); err != nil {
				return jsonError(c, errors.Wrap(ErrStreamingFailed, err.Error()))
			}
		}
	}
	h.Set(echo.HeaderContentLength, strconv.FormatInt(length, 10))
	c.Response().WriteHeader(status)

	n, err := copyBody(c.Response(), io.LimitReader(f, length), length)
	metrics.BytesServed.Add(float64(n))
	if err != nil {
		fields := log.Fields{"file": entry.Name, "sent": n, "want": length}
		if isClientGone(err) {
			log.WithFields(fields).Debug("api: client disconnected mid-stream")
			return nil
		}
		metrics.StreamFailures.Inc()
		log.WithFields(fields).WithError(err).Error("api: stream aborted")
		return nil // headers already sent, nothing more to report
	}
	return nil
}

// copyBody copies in bounded chunks and treats a short read as corruption:
// the entry shrank or vanished underneath us.
func copyBody(w io.Writer, r io.Reader, want int64) (int64, error) {
	buf := make([]byte, streamBufSize)
	n, err := io.CopyBuffer(w, r, buf)
	if err != nil {
		return n, err
	}
	if n < want {
		return n, errors.Wrapf(ErrStreamingFailed, "short read: %d of %d bytes", n, want)
	}
	return n, nil
}

// parseRange handles the single-range form "bytes=start-end". Suffix ranges
// ("bytes=-500") are supported; multiple ranges are not.
func parseRange(spec string, size int64) (start, end int64, ok bool) {
	if !strings.HasPrefix(spec, "bytes=") || strings.Contains(spec, ",") {
		return 0, 0, false
	}
	lo, hi, found := strings.Cut(strings.TrimPrefix(spec, "bytes="), "-")
	if !found {
		return 0, 0, false
	}
	if lo == "" {
		// Suffix: last hi bytes.
		n, err := strconv.ParseInt(hi, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, true
	}
	start, err := strconv.ParseInt(lo, 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, false
	}
	end = size - 1
	if hi != "" {
		end, err = strconv.ParseInt(hi, 10, 64)
		if err != nil || end < start {
			return 0, 0, false
		}
		if end > size-1 {
			end = size - 1
		}
	}
	return start, end, true
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func isClientGone(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "client disconnected") ||
		errors.Is(err, io.ErrClosedPipe)
}
