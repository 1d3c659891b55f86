package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/nanovideo/nanovideo/internal/safeurl"
)

// ErrInvalidInput is returned for URLs that are not well-formed absolute
// http(s) URLs, before any slot is created or I/O happens.
var ErrInvalidInput = errors.New("invalid input")

// keyHexLen is the number of hex characters kept from the URL hash.
// 16 chars = 64 bits, plenty for a single-host cache directory.
const keyHexLen = 16

// DeriveKey maps (url, format) to the on-disk filename stem. Pure: the same
// pair always yields the same key, across restarts. The key contains only
// lowercase hex so it is always safe as a path segment.
func DeriveKey(rawURL, format string) (string, error) {
	u, err := safeurl.ParseAbsolute(rawURL)
	if err != nil {
		return "", errors.Wrapf(ErrInvalidInput, "url %q: %v", safeurl.Redact(rawURL), err)
	}
	sum := sha256.Sum256([]byte(NormalizeURL(u) + "\x00" + format))
	return hex.EncodeToString(sum[:])[:keyHexLen], nil
}

// NormalizeURL renders u with lowercase scheme and host, no fragment, and no
// bare trailing slash. Deliberately minimal: query strings are preserved
// verbatim (order included), so URLs differing only in parameter order cache
// twice rather than risk serving the wrong content. Tracking-parameter
// stripping is a caller concern.
func NormalizeURL(u *url.URL) string {
	c := *u
	c.Scheme = strings.ToLower(c.Scheme)
	c.Host = strings.ToLower(c.Host)
	c.Fragment = ""
	c.RawFragment = ""
	if c.Path == "/" && c.RawQuery == "" {
		c.Path = ""
	}
	return c.String()
}

// SanitizeExt reduces an extractor-reported extension to a safe filename
// suffix: lowercase alphanumerics, at most 8 chars, "bin" when nothing
// usable remains.
func SanitizeExt(ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	var b strings.Builder
	for _, r := range ext {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
		if b.Len() == 8 {
			break
		}
	}
	// "partial" is reserved for in-progress files; an extractor-reported
	// extension must never collide with it.
	if b.Len() == 0 || b.String() == "partial" {
		return "bin"
	}
	return b.String()
}
