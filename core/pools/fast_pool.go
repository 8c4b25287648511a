package pools

import "sync"

// FastPool is a zero-overhead object pool without statistics. Used for
// hot-path allocations where every nanosecond counts — the async
// command queue uses one to recycle *queue.Command values instead of
// allocating one per schedule-async call.
type FastPool struct {
	pool sync.Pool
}

// NewFastPool creates a fast pool without any overhead.
func NewFastPool(newFunc func() any) *FastPool {
	return &FastPool{
		pool: sync.Pool{
			New: newFunc,
		},
	}
}

// Get acquires an object from the pool.
func (fp *FastPool) Get() any {
	return fp.pool.Get()
}

// Put returns an object to the pool.
func (fp *FastPool) Put(obj any) {
	if obj != nil {
		fp.pool.Put(obj)
	}
}
