//go:build linux
// +build linux

package cachefs

import (
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/nanovideo/nanovideo/internal/cache"
)

// Mount mounts a read-only view of the cache at dir. The caller serves the
// mount with server.Wait and unmounts with server.Unmount.
func Mount(dir string, ix *cache.Index) (Server, error) {
	to := entryAttrTimeout
	opts := &fs.Options{
		EntryTimeout: &to,
		AttrTimeout:  &to,
		MountOptions: fuse.MountOptions{
			FsName: "nanovideo",
			Name:   "nanovideo",
		},
	}
	srv, err := fs.Mount(dir, &Root{Index: ix}, opts)
	if err != nil {
		return nil, err
	}
	return srv, nil
}
