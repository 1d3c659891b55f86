package safeurl

import (
	"net/url"
	"strings"
)

// IsHTTPOrHTTPS returns true if u is a valid absolute URL with scheme http or https.
// Used to reject file://, ftp://, and other schemes that could lead to SSRF or local file access.
func IsHTTPOrHTTPS(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	s := strings.ToLower(parsed.Scheme)
	return (s == "http" || s == "https") && parsed.Host != ""
}

// ParseAbsolute parses u and requires an http(s) scheme and a host.
// Everything that feeds the cache key goes through here first.
func ParseAbsolute(u string) (*url.URL, error) {
	parsed, err := url.Parse(u)
	if err != nil {
		return nil, err
	}
	s := strings.ToLower(parsed.Scheme)
	if (s != "http" && s != "https") || parsed.Host == "" {
		return nil, &url.Error{Op: "parse", URL: u, Err: errNotAbsoluteHTTP}
	}
	return parsed, nil
}

type notAbsoluteHTTPError struct{}

func (notAbsoluteHTTPError) Error() string { return "not an absolute http(s) URL" }

var errNotAbsoluteHTTP notAbsoluteHTTPError

// Redact strips the query string for logging. Media URLs routinely carry
// signed tokens in the query; those must not end up in log output.
func Redact(u string) string {
	if i := strings.Index(u, "?"); i >= 0 {
		return u[:i] + "?[redacted]"
	}
	return u
}
