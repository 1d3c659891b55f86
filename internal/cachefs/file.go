//go:build linux
// +build linux

package cachefs

import (
	"context"
	"io"
	"os"
	"sync"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/nanovideo/nanovideo/internal/cache"
)

// entryNode is one completed cache file. Opens keep an FD so reads survive
// the entry being renamed away underneath us.
type entryNode struct {
	fs.Inode
	entry cache.Entry
}

var _ fs.NodeOpener = (*entryNode)(nil)
var _ fs.NodeGetattrer = (*entryNode)(nil)

func (n *entryNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = fuse.S_IFREG | 0644
	out.Size = uint64(n.entry.Size)
	out.SetTimes(nil, &n.entry.ModTime, nil)
	return 0
}

func (n *entryNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	f, err := os.Open(n.entry.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, syscall.ENOENT
		}
		return nil, 0, syscall.EIO
	}
	return &entryHandle{f: f}, fuse.FOPEN_KEEP_CACHE, 0
}

type entryHandle struct {
	mu sync.Mutex
	f  *os.File
}

var _ fs.FileReader = (*entryHandle)(nil)
var _ fs.FileReleaser = (*entryHandle)(nil)

func (h *entryHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.f == nil {
		return nil, syscall.EBADF
	}
	n, err := h.f.ReadAt(dest, off)
	if err != nil && err != io.EOF {
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *entryHandle) Release(ctx context.Context) syscall.Errno {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.f != nil {
		h.f.Close()
		h.f = nil
	}
	return 0
}
