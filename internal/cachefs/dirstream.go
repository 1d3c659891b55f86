//go:build linux
// +build linux

package cachefs

import (
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/nanovideo/nanovideo/internal/cache"
)

type entryDirStream struct {
	entries []cache.Entry
	i       int
}

var _ fs.DirStream = (*entryDirStream)(nil)

func (s *entryDirStream) HasNext() bool {
	return s != nil && s.i < len(s.entries)
}

func (s *entryDirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if !s.HasNext() {
		return fuse.DirEntry{}, 0
	}
	e := &s.entries[s.i]
	s.i++
	return fuse.DirEntry{
		Name: e.Name,
		Ino:  inoFromString(e.Name),
		Mode: fuse.S_IFREG | 0644,
	}, 0
}

func (s *entryDirStream) Close() {}
