// Package ring implements the dual-use circular byte buffer that backs
// both sides of a connection: the input ring accumulates bytes read off
// the socket until the request handler has framed a complete request
// out of it, and the output ring holds response bytes a short writev
// could not flush directly. The buffer always keeps one byte
// unavailable so the write and read cursors can disambiguate full from
// empty without a separate counter.
package ring

import (
	"golang.org/x/sys/unix"
)

// initialCapacity is the size a freshly allocated buffer starts at.
const initialCapacity = 4096

// growthFactor is how much capacity multiplies by on each grow.
const growthFactor = 8

// Grow and WriteBytes report no allocator-failure error: unlike the
// original's malloc-based circbuf_grow, Go's allocator panics rather
// than returning nil on exhaustion, so there is no failure state for
// these to surface.

// Buffer is a circular byte buffer with one byte permanently reserved
// to distinguish the full and empty states.
type Buffer struct {
	buf   []byte
	read  int
	write int
}

// New returns a Buffer with its backing array already allocated at the
// initial capacity, matching the original's eager circbuf_alloc.
func New() *Buffer {
	return &Buffer{buf: make([]byte, initialCapacity)}
}

// Reset clears both cursors. If the buffer has grown past its initial
// capacity it is shrunk back down, giving a connection that saw one
// large burst a chance to return its memory, as the original's
// circbuf_reset does.
func (b *Buffer) Reset() {
	b.read = 0
	b.write = 0
	if len(b.buf) > initialCapacity {
		b.buf = make([]byte, initialCapacity)
	}
}

// AvailableForWrite returns the number of bytes that can be written
// without overwriting unread data.
func (b *Buffer) AvailableForWrite() int {
	if b.write < b.read {
		return b.read - b.write - 1
	}
	return len(b.buf) - b.write + b.read - 1
}

// Len returns the number of unread bytes currently stored.
func (b *Buffer) Len() int {
	if b.write >= b.read {
		return b.write - b.read
	}
	return len(b.buf) - b.read + b.write
}

// Cap returns the current backing array size, exposed for tests.
func (b *Buffer) Cap() int { return len(b.buf) }

// Grow multiplies capacity by 8, linearizing existing content into the
// new array starting at index 0 and leaving the write cursor at the
// logical length.
func (b *Buffer) Grow() {
	newSize := len(b.buf) * growthFactor
	newBuf := make([]byte, newSize)

	var n int
	if b.write < b.read {
		n = copy(newBuf, b.buf[b.read:])
		n += copy(newBuf[n:], b.buf[:b.write])
	} else {
		n = copy(newBuf, b.buf[b.read:b.write])
	}

	b.buf = newBuf
	b.read = 0
	b.write = n
}

// growFor grows the buffer until at least n bytes are available to
// write, matching circbuf_write's while-loop growth behavior.
func (b *Buffer) growFor(n int) {
	for b.AvailableForWrite() < n {
		b.Grow()
	}
}

// SetupReadVectors returns iovecs describing the writable region,
// wrapping as one or two slices and always leaving the reserved slot
// out of the last vector.
func (b *Buffer) SetupReadVectors() []unix.Iovec {
	if b.write < b.read {
		return []unix.Iovec{ioVec(b.buf[b.write : b.read-1])}
	}

	tail := len(b.buf) - b.write - 1
	if b.read == 0 {
		return []unix.Iovec{ioVec(b.buf[b.write : b.write+tail])}
	}
	return []unix.Iovec{
		ioVec(b.buf[b.write : b.write+tail+1]),
		ioVec(b.buf[:b.read-1]),
	}
}

// SetupWriteVectors returns iovecs describing the readable region.
func (b *Buffer) SetupWriteVectors() []unix.Iovec {
	if b.write < b.read {
		return []unix.Iovec{
			ioVec(b.buf[b.read:]),
			ioVec(b.buf[:b.write]),
		}
	}
	return []unix.Iovec{ioVec(b.buf[b.read:b.write])}
}

func ioVec(p []byte) unix.Iovec {
	var v unix.Iovec
	if len(p) > 0 {
		v.SetLen(len(p))
		v.Base = &p[0]
	}
	return v
}

// AdvanceWrite moves the write cursor forward by n bytes, modulo
// capacity, after a readv call placed n bytes into the buffer.
func (b *Buffer) AdvanceWrite(n int) {
	b.write = (b.write + n) % len(b.buf)
}

// AdvanceRead moves the read cursor forward by n bytes, modulo
// capacity, after a writev call drained n bytes from the buffer. If the
// cursors meet, both reset to zero as a defragmentation hint.
func (b *Buffer) AdvanceRead(n int) {
	b.read = (b.read + n) % len(b.buf)
	if b.read == b.write {
		b.read = 0
		b.write = 0
	}
}

// WriteBytes copies p into the buffer, growing as needed.
func (b *Buffer) WriteBytes(p []byte) {
	if len(p) == 0 {
		return
	}
	b.growFor(len(p))

	if b.write < b.read {
		copy(b.buf[b.write:], p)
		b.write += len(p)
		return
	}

	end := len(b.buf) - b.write
	if end >= len(p) {
		copy(b.buf[b.write:], p)
		b.write = (b.write + len(p)) % len(b.buf)
		return
	}

	copy(b.buf[b.write:], p[:end])
	copy(b.buf, p[end:])
	b.write = len(p) - end
}

// Extracted is the result of ExtractToTerminator. Owned == false means
// Data aliases the ring's backing array and is only valid until the
// next mutating call on the Buffer; Owned == true means Data is a
// freshly allocated linear copy the caller now holds exclusively.
type Extracted struct {
	Data  []byte
	Owned bool
}

// ExtractToTerminator scans from read to write for the first byte equal
// to term. On the fast path (the terminator lies in the contiguous
// tail-side region before any wrap) it returns a slice aliasing the
// ring directly, with the terminator overwritten by a null byte, and
// advances read past it without copying. If the terminator is only
// found after the wrap boundary, it allocates a linear buffer holding
// tail-then-head content up to the terminator. Returns ok == false if
// no terminator is present in the unread region.
func (b *Buffer) ExtractToTerminator(term byte) (Extracted, bool) {
	var result Extracted
	found := false

	if b.write < b.read {
		if idx := indexByte(b.buf[b.read:], term); idx >= 0 {
			termPos := b.read + idx
			data := b.buf[b.read : termPos+1]
			b.buf[termPos] = 0
			result = Extracted{Data: data, Owned: false}
			b.read = termPos + 1
			found = true
		} else if idx := indexByte(b.buf[:b.write], term); idx >= 0 {
			startSize := idx + 1
			endSize := len(b.buf) - b.read
			out := make([]byte, startSize+endSize)
			copy(out, b.buf[b.read:])
			b.buf[idx] = 0
			copy(out[endSize:], b.buf[:startSize])
			result = Extracted{Data: out, Owned: true}
			b.read = startSize
			found = true
		}
	} else {
		if idx := indexByte(b.buf[b.read:b.write], term); idx >= 0 {
			termPos := b.read + idx
			data := b.buf[b.read : termPos+1]
			b.buf[termPos] = 0
			result = Extracted{Data: data, Owned: false}
			b.read = termPos + 1
			found = true
		}
	}

	if b.read == b.write {
		b.read = 0
		b.write = 0
	}

	return result, found
}

func indexByte(p []byte, c byte) int {
	for i, v := range p {
		if v == c {
			return i
		}
	}
	return -1
}
