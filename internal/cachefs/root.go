//go:build linux
// +build linux

// Package cachefs exposes the download cache as a flat read-only FUSE
// directory, so media players can browse completed downloads like local
// files. Partial and hidden files never appear.
package cachefs

import (
	"context"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/pkg/errors"

	"github.com/nanovideo/nanovideo/internal/cache"
)

const entryAttrTimeout = 1 * time.Second

// Root is the FUSE root node. Every readdir and lookup goes straight to the
// index, so new downloads show up without remounting.
type Root struct {
	fs.Inode
	Index *cache.Index
}

var _ fs.NodeGetattrer = (*Root)(nil)
var _ fs.NodeReaddirer = (*Root)(nil)
var _ fs.NodeLookuper = (*Root)(nil)

func (r *Root) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = fuse.S_IFDIR | 0755
	return 0
}

func (r *Root) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, err := r.Index.List()
	if err != nil {
		return nil, syscall.EIO
	}
	return &entryDirStream{entries: entries}, 0
}

func (r *Root) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	entry, err := r.Index.LookupName(name)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, syscall.ENOENT
		}
		return nil, syscall.EIO
	}
	node := &entryNode{entry: entry}
	ch := r.NewInode(ctx, node, fs.StableAttr{
		Mode: fuse.S_IFREG,
		Ino:  inoFromString(entry.Name),
	})
	out.Mode = fuse.S_IFREG | 0644
	out.Size = uint64(entry.Size)
	out.SetEntryTimeout(entryAttrTimeout)
	out.SetAttrTimeout(entryAttrTimeout)
	return ch, 0
}
