//go:build !linux
// +build !linux

package cachefs

import (
	"github.com/pkg/errors"

	"github.com/nanovideo/nanovideo/internal/cache"
)

// Mount is unavailable off Linux; the cache mount depends on go-fuse.
func Mount(dir string, ix *cache.Index) (Server, error) {
	return nil, errors.New("cache mount is only supported on linux builds")
}
