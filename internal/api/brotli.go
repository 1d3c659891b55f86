package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/labstack/echo/v4"
)

// brotliJSON compresses small JSON responses when the client advertises br
// support. Media bodies never go through this; compressing media is wasted
// CPU, so the middleware is attached per route.
func brotliJSON() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !acceptsBrotli(c.Request().Header.Get(echo.HeaderAcceptEncoding)) {
				return next(c)
			}
			res := c.Response()
			res.Header().Set(echo.HeaderContentEncoding, "br")
			res.Header().Add(echo.HeaderVary, echo.HeaderAcceptEncoding)

			bw := brotli.NewWriterLevel(res.Writer, brotli.DefaultCompression)
			brw := &brotliResponseWriter{ResponseWriter: res.Writer, bw: bw}
			res.Writer = brw
			defer func() {
				if !brw.wrote {
					// Nothing written (204 etc); undo the encoding header.
					res.Header().Del(echo.HeaderContentEncoding)
				}
				bw.Close()
			}()
			return next(c)
		}
	}
}

func acceptsBrotli(accept string) bool {
	for _, enc := range strings.Split(accept, ",") {
		if strings.TrimSpace(strings.SplitN(enc, ";", 2)[0]) == "br" {
			return true
		}
	}
	return false
}

type brotliResponseWriter struct {
	http.ResponseWriter
	bw    *brotli.Writer
	wrote bool
}

func (w *brotliResponseWriter) WriteHeader(code int) {
	// Length of the compressed body is unknown up front.
	w.Header().Del(echo.HeaderContentLength)
	w.ResponseWriter.WriteHeader(code)
}

func (w *brotliResponseWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.bw.Write(b)
}

func (w *brotliResponseWriter) Flush() {
	w.bw.Flush()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

var _ io.Writer = (*brotliResponseWriter)(nil)
