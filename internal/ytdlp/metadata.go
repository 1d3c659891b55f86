package ytdlp

import (
	"path"
	"strings"
	"unicode/utf8"

	"github.com/nanovideo/nanovideo/internal/cache"
	"github.com/nanovideo/nanovideo/internal/safeurl"
)

// Metadata is the subset of the extractor's JSON dump the service cares
// about. Formats are passed through for /info consumers picking a quality.
type Metadata struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Ext      string   `json:"ext"`
	Duration float64  `json:"duration"`
	Uploader string   `json:"uploader,omitempty"`
	WebURL   string   `json:"webpage_url,omitempty"`
	Formats  []Format `json:"formats,omitempty"`
}

// Format is one downloadable rendition reported by the tool.
type Format struct {
	FormatID   string  `json:"format_id"`
	Ext        string  `json:"ext"`
	Resolution string  `json:"resolution,omitempty"`
	Note       string  `json:"format_note,omitempty"`
	Filesize   float64 `json:"filesize,omitempty"`
	VCodec     string  `json:"vcodec,omitempty"`
	ACodec     string  `json:"acodec,omitempty"`
}

// SafeFilename returns "<title>.<ext>" with characters unsafe for a
// Content-Disposition filename replaced. Falls back to the ID, then "media".
func (m *Metadata) SafeFilename() string {
	title := m.Title
	if title == "" {
		title = m.ID
	}
	if title == "" {
		title = "media"
	}
	var b strings.Builder
	for _, r := range title {
		switch {
		case r == '"' || r == '\\' || r == '/' || r < 0x20:
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	name := strings.TrimSpace(b.String())
	if len(name) > 120 {
		// Cut on a rune boundary so the header never carries invalid UTF-8.
		cut := 120
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut]
	}
	return name + "." + cache.SanitizeExt(m.Ext)
}

// directMetadata builds Metadata for a URL that already points at a media
// file, without touching the network: title from the last path segment, ext
// from its suffix.
func directMetadata(rawURL string) *Metadata {
	ext := "bin"
	title := "media"
	if u, err := safeurl.ParseAbsolute(rawURL); err == nil {
		base := path.Base(u.Path)
		if e := strings.TrimPrefix(path.Ext(base), "."); e != "" {
			ext = e
			title = strings.TrimSuffix(base, path.Ext(base))
		} else if base != "." && base != "/" {
			title = base
		}
	}
	return &Metadata{Title: title, Ext: cache.SanitizeExt(ext)}
}
