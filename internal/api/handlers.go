package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/nanovideo/nanovideo/internal/cache"
	"github.com/nanovideo/nanovideo/internal/fetch"
	"github.com/nanovideo/nanovideo/internal/history"
	"github.com/nanovideo/nanovideo/internal/safeurl"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type urlRequest struct {
	URL string `json:"url" form:"url" query:"url"`
}

func (s *Server) handleIndex(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"message": "Welcome to the NanoVideo API!"})
}

func (s *Server) handleHealth(c echo.Context) error {
	count, bytes, err := s.index.TotalSize()
	if err != nil {
		count, bytes = 0, 0
	}
	writable := s.index.Writable() == nil
	status := "ok"
	if !writable {
		status = "degraded"
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":              status,
		"uptime_seconds":      int64(time.Since(s.started).Seconds()),
		"cache_dir":           s.index.Dir,
		"cache_writable":      writable,
		"extractor_available": s.toolCheck(),
		"files":               count,
		"bytes":               bytes,
		"fetches_in_flight":   s.coord.InFlight(),
	})
}

func (s *Server) handleInfo(c echo.Context) error {
	var req urlRequest
	if err := c.Bind(&req); err != nil || req.URL == "" {
		return jsonError(c, errors.Wrap(cache.ErrInvalidInput, "missing url"))
	}
	if !safeurl.IsHTTPOrHTTPS(req.URL) {
		return jsonError(c, errors.Wrapf(cache.ErrInvalidInput, "url %q", safeurl.Redact(req.URL)))
	}

	if item := s.infoCache.Get(req.URL); item != nil {
		return c.JSON(http.StatusOK, item.Value())
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), metadataTimeout)
	defer cancel()
	meta, err := s.extractor.Metadata(ctx, req.URL)
	if err != nil {
		return jsonError(c, errors.Wrapf(fetch.ErrExtractionFailed, "%v", err))
	}
	s.infoCache.Set(req.URL, meta, ttlcache.DefaultTTL)
	return c.JSON(http.StatusOK, meta)
}

func (s *Server) handleDownload(c echo.Context) error {
	res, err := s.download(c)
	if err != nil {
		return jsonError(c, err)
	}
	filename := res.Entry.Name
	if res.Meta != nil {
		filename = res.Meta.SafeFilename()
	}
	return s.streamEntry(c, res.Entry, filename)
}

// handleShare runs the same cached download but answers with JSON instead
// of the file body, for callers that only want the cache populated.
func (s *Server) handleShare(c echo.Context) error {
	res, err := s.download(c)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"message": "Download complete.",
		"file":    res.Entry.Name,
		"size":    res.Entry.Size,
	})
}

func (s *Server) download(c echo.Context) (*fetch.Result, error) {
	var req urlRequest
	if err := c.Bind(&req); err != nil {
		return nil, errors.Wrap(cache.ErrInvalidInput, "missing url")
	}
	if req.URL == "" {
		// POST with the url in the query string; the binder only reads the
		// query on GET.
		req.URL = c.QueryParam("url")
	}
	if req.URL == "" {
		return nil, errors.Wrap(cache.ErrInvalidInput, "missing url")
	}
	format := c.QueryParam("format")
	if format == "" {
		format = c.FormValue("format")
	}
	if format == "" {
		format = s.cfg.DefaultFormat
	}
	return s.coord.Download(c.Request().Context(), req.URL, format)
}

type fileInfo struct {
	Name     string          `json:"name"`
	Size     int64           `json:"size"`
	Modified time.Time       `json:"modified"`
	Path     string          `json:"path"`
	Origin   *history.Record `json:"origin,omitempty"`
}

func (s *Server) handleFiles(c echo.Context) error {
	entries, err := s.index.List()
	if err != nil {
		return jsonError(c, errors.Wrap(fetch.ErrStorage, err.Error()))
	}
	var origins map[string]history.Record
	if s.hist != nil {
		if origins, err = s.hist.ForFilenames(); err != nil {
			log.WithError(err).Warn("api: history unavailable for /files")
			origins = nil
		}
	}
	files := make([]fileInfo, 0, len(entries))
	for _, e := range entries {
		fi := fileInfo{Name: e.Name, Size: e.Size, Modified: e.ModTime, Path: "/files/" + e.Name}
		if rec, ok := origins[e.Name]; ok {
			r := rec
			fi.Origin = &r
		}
		files = append(files, fi)
	}
	return c.JSON(http.StatusOK, map[string]any{"files": files})
}

// handleHistory lists recent completed downloads from the ledger, newest
// first. Empty when the ledger is disabled.
func (s *Server) handleHistory(c echo.Context) error {
	recs := []history.Record{}
	if s.hist != nil {
		limit, _ := strconv.Atoi(c.QueryParam("limit"))
		got, err := s.hist.Recent(limit)
		if err != nil {
			return jsonError(c, errors.Wrap(fetch.ErrStorage, err.Error()))
		}
		if got != nil {
			recs = got
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"downloads": recs})
}

func (s *Server) handleFileByName(c echo.Context) error {
	entry, err := s.index.LookupName(c.Param("filename"))
	if err != nil {
		return jsonError(c, err)
	}
	return s.streamEntry(c, entry, entry.Name)
}

// jsonError maps the error taxonomy to stable HTTP codes. Streaming errors
// never reach here; they abort mid-body.
func jsonError(c echo.Context, err error) error {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, cache.ErrInvalidInput):
		status, code = http.StatusBadRequest, "invalid_input"
	case errors.Is(err, cache.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, fetch.ErrExtractionFailed):
		status, code = http.StatusBadGateway, "extraction_failed"
	case errors.Is(err, fetch.ErrStorage):
		status, code = http.StatusInternalServerError, "storage_error"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status, code = http.StatusGatewayTimeout, "timeout"
	}
	return c.JSON(status, errorBody{Error: err.Error(), Code: code})
}
