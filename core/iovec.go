package core

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/searchktools/netcore/core/pools"
)

// iovecBytes aliases the memory an unix.Iovec describes as a []byte,
// without copying, so ring-produced vectors can be handed straight to
// unix.Readv/Writev.
func iovecBytes(v unix.Iovec) []byte {
	n := int(v.Len)
	if n == 0 || v.Base == nil {
		return nil
	}
	return unsafe.Slice(v.Base, n)
}

func discardBuf() []byte {
	return pools.GetBytes()
}

func releaseDiscardBuf(b []byte) {
	pools.PutBytes(b)
}
