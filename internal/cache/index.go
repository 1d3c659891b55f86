package cache

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when no complete entry exists for a key or name.
var ErrNotFound = errors.New("not found")

// partialSuffix marks files still being written by an in-flight fetch.
// The index never exposes them; a rename drops the suffix on completion.
const partialSuffix = ".partial"

// Entry is a complete, servable file in the cache directory.
type Entry struct {
	Key     string    `json:"key"`
	Name    string    `json:"name"`
	Path    string    `json:"-"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modified"`
}

// Index answers lookups against the cache directory. The filesystem is the
// source of truth; nothing is kept in memory, so the index can never go
// stale and is trivially safe to call while a leader writes to a partial
// path with a different name.
type Index struct {
	Dir string
}

// EnsureDir creates the cache directory if needed and verifies it is
// writable by creating and removing a probe file. Startup is expected to
// treat any error as fatal.
func (ix *Index) EnsureDir() error {
	if err := os.MkdirAll(ix.Dir, 0o755); err != nil {
		return errors.Wrap(err, "create cache dir")
	}
	return ix.Writable()
}

// Writable probes that the cache directory currently accepts writes.
func (ix *Index) Writable() error {
	f, err := os.CreateTemp(ix.Dir, ".probe-*")
	if err != nil {
		return errors.Wrap(err, "cache dir not writable")
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// Lookup returns the complete entry for key, if one exists. The extension is
// not part of the key, so this scans for "<key>.<ext>"; partial and hidden
// files never match.
func (ix *Index) Lookup(key string) (Entry, bool, error) {
	if key == "" {
		return Entry{}, false, nil
	}
	des, err := os.ReadDir(ix.Dir)
	if err != nil {
		return Entry{}, false, errors.Wrap(err, "read cache dir")
	}
	for _, de := range des {
		name := de.Name()
		if !visible(name) || stem(name) != key {
			continue
		}
		e, err := ix.entryFor(name)
		if err != nil {
			return Entry{}, false, err
		}
		return e, true, nil
	}
	return Entry{}, false, nil
}

// LookupName returns the complete entry with exactly the given filename.
// Rejects anything that is not a plain visible filename in the cache dir,
// which also kills path traversal attempts from the /files/:filename route.
func (ix *Index) LookupName(name string) (Entry, error) {
	if name == "" || name != filepath.Base(name) || !visible(name) {
		return Entry{}, errors.Wrapf(ErrNotFound, "file %q", name)
	}
	e, err := ix.entryFor(name)
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return Entry{}, errors.Wrapf(ErrNotFound, "file %q", name)
		}
		return Entry{}, err
	}
	return e, nil
}

// List enumerates all complete entries, sorted by name. Partial files and
// dotfiles (history db, probe files) are skipped.
func (ix *Index) List() ([]Entry, error) {
	des, err := os.ReadDir(ix.Dir)
	if err != nil {
		return nil, errors.Wrap(err, "read cache dir")
	}
	entries := make([]Entry, 0, len(des))
	for _, de := range des {
		name := de.Name()
		if de.IsDir() || !visible(name) {
			continue
		}
		e, err := ix.entryFor(name)
		if err != nil {
			// Raced with a concurrent delete; skip rather than fail the listing.
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// TotalSize sums the sizes of all complete entries (for /health).
func (ix *Index) TotalSize() (count int, bytes int64, err error) {
	entries, err := ix.List()
	if err != nil {
		return 0, 0, err
	}
	for _, e := range entries {
		bytes += e.Size
	}
	return len(entries), bytes, nil
}

// FinalPath returns the servable path for key with the given extension.
func (ix *Index) FinalPath(key, ext string) string {
	return filepath.Join(ix.Dir, key+"."+SanitizeExt(ext))
}

// PartialPath returns the in-progress path for key. One per key: single
// flight guarantees at most one writer, so no extra uniqueness is needed.
func (ix *Index) PartialPath(key string) string {
	return filepath.Join(ix.Dir, key+partialSuffix)
}

func (ix *Index) entryFor(name string) (Entry, error) {
	p := filepath.Join(ix.Dir, name)
	fi, err := os.Stat(p)
	if err != nil {
		return Entry{}, errors.Wrap(err, "stat cache entry")
	}
	if fi.IsDir() {
		return Entry{}, errors.Wrapf(ErrNotFound, "file %q", name)
	}
	return Entry{
		Key:     stem(name),
		Name:    name,
		Path:    p,
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
	}, nil
}

func visible(name string) bool {
	return !strings.HasPrefix(name, ".") && !strings.HasSuffix(name, partialSuffix)
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
