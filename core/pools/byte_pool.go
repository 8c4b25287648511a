package pools

import "sync"

// discardBufSize is large enough to drain one datagram off the socket
// for the reserved, unimplemented UDP path — the pool's one consumer.
const discardBufSize = 2048

// BytePool recycles fixed-size byte slices via sync.Pool, avoiding a
// fresh allocation on every UDP discard read.
type BytePool struct {
	size int
	pool sync.Pool
}

// NewBytePool creates a byte pool whose buffers are all size bytes.
func NewBytePool(size int) *BytePool {
	return &BytePool{
		size: size,
		pool: sync.Pool{
			New: func() any {
				buf := make([]byte, size)
				return &buf
			},
		},
	}
}

// Get returns a buffer of the pool's fixed size.
func (bp *BytePool) Get() []byte {
	bufPtr := bp.pool.Get().(*[]byte)
	return (*bufPtr)[:bp.size]
}

// Put returns buf to the pool. Buffers whose capacity doesn't match
// the pool's size are left for the garbage collector instead.
func (bp *BytePool) Put(buf []byte) {
	if cap(buf) != bp.size {
		return
	}
	buf = buf[:bp.size]
	bp.pool.Put(&buf)
}

var globalDiscardPool = NewBytePool(discardBufSize)

// GetBytes returns a discard-sized buffer from the global pool.
func GetBytes() []byte {
	return globalDiscardPool.Get()
}

// PutBytes returns a buffer obtained from GetBytes to the global pool.
func PutBytes(buf []byte) {
	globalDiscardPool.Put(buf)
}
