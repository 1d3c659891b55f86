package cachefs

import (
	"hash/fnv"
)

// Server is the running mount, satisfied by the fuse server on Linux.
type Server interface {
	Wait()
	Unmount() error
}

// Stable inode numbers from entry names so the same cached file keeps the
// same inode across readdir calls.
func inoFromString(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte("nanovideo:" + s))
	return h.Sum64()
}
