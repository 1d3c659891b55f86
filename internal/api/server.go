// Package api is the HTTP surface: routing, key auth, CORS, and the
// streaming responder that serves cached media without buffering it.
package api

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/nanovideo/nanovideo/internal/cache"
	"github.com/nanovideo/nanovideo/internal/config"
	"github.com/nanovideo/nanovideo/internal/fetch"
	"github.com/nanovideo/nanovideo/internal/history"
	"github.com/nanovideo/nanovideo/internal/ytdlp"
)

// metadataTimeout bounds a metadata-only extractor run. Much shorter than a
// download: no media bytes move.
const metadataTimeout = 2 * time.Minute

// Server wires the handlers to the coordinator, index and ledger.
type Server struct {
	cfg       *config.Config
	index     *cache.Index
	coord     *fetch.Coordinator
	extractor fetch.Extractor
	hist      *history.Store // may be nil
	toolCheck func() bool
	infoCache *ttlcache.Cache[string, *ytdlp.Metadata]
	started   time.Time
}

// New builds a Server. hist may be nil (ledger disabled); toolCheck reports
// extractor availability for /health and may be nil.
func New(cfg *config.Config, ix *cache.Index, coord *fetch.Coordinator, extractor fetch.Extractor, hist *history.Store, toolCheck func() bool) *Server {
	if toolCheck == nil {
		toolCheck = func() bool { return true }
	}
	ic := ttlcache.New(ttlcache.WithTTL[string, *ytdlp.Metadata](cfg.InfoCacheTTL))
	go ic.Start()
	return &Server{
		cfg:       cfg,
		index:     ix,
		coord:     coord,
		extractor: extractor,
		hist:      hist,
		toolCheck: toolCheck,
		infoCache: ic,
		started:   time.Now(),
	}
}

// Close stops the info cache janitor. Call once, on shutdown.
func (s *Server) Close() {
	s.infoCache.Stop()
}

// Echo returns the configured router, ready to serve.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(requestLogger())
	e.Use(middleware.Recover())
	e.Use(corsMiddleware(s.cfg.AllowedHosts))
	e.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		Skipper:   openEndpoint,
		KeyLookup: "query:api_key,header:X-API-Key",
		Validator: func(key string, c echo.Context) (bool, error) {
			return s.cfg.HasAPIKey(key), nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			// Missing and invalid keys look the same to callers.
			return c.JSON(401, errorBody{Error: "Unauthorized.", Code: "unauthorized"})
		},
	}))

	e.GET("/", s.handleIndex, brotliJSON())
	e.GET("/health", s.handleHealth, brotliJSON())
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.POST("/info", s.handleInfo, brotliJSON())
	e.GET("/download", s.handleDownload)
	e.POST("/download", s.handleDownload)
	e.GET("/share", s.handleShare, brotliJSON())
	e.POST("/share", s.handleShare, brotliJSON())
	e.GET("/files", s.handleFiles, brotliJSON())
	e.GET("/files/:filename", s.handleFileByName)
	e.GET("/history", s.handleHistory, brotliJSON())
	return e
}

// openEndpoint marks routes reachable without an API key.
func openEndpoint(c echo.Context) bool {
	switch c.Path() {
	case "/", "/health", "/metrics":
		return true
	}
	return false
}

func corsMiddleware(allowed []string) echo.MiddlewareFunc {
	origins := allowed
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{echo.GET, echo.POST, echo.OPTIONS},
		AllowHeaders: []string{echo.HeaderContentType, "X-API-Key"},
	})
}

// requestLogger logs one line per request with the fields that matter for a
// download service: route, status, bytes out, duration.
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			log.WithFields(log.Fields{
				"method":  c.Request().Method,
				"path":    c.Request().URL.Path,
				"status":  c.Response().Status,
				"bytes":   c.Response().Size,
				"elapsed": time.Since(start).Round(time.Millisecond),
				"remote":  c.RealIP(),
			}).Info("api: request")
			return nil
		}
	}
}
