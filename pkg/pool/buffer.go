// Package pool caches copy buffers across the native engine's workers.
//
// sync.Pool drops idle items during garbage collection, so it suits
// short-lived buffers but not persistent resources.
package pool

import "sync"

// FixedBufferPool hands out byte slices of one size.
type FixedBufferPool struct {
	size int64
	pool sync.Pool
}

// NewFixedBufferPool returns a pool of size-byte buffers. It panics when
// size is not positive.
func NewFixedBufferPool(size int64) *FixedBufferPool {
	if size <= 0 {
		panic("buffer size must be positive")
	}
	return &FixedBufferPool{
		size: size,
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, int(size))
				return &b
			},
		},
	}
}

// Size returns the length of the buffers handed out by Get.
func (fp *FixedBufferPool) Size() int64 { return fp.size }

// Get returns a buffer of exactly Size bytes.
func (fp *FixedBufferPool) Get() *[]byte {
	return fp.pool.Get().(*[]byte)
}

// Put returns b to the pool. Buffers of a different capacity are dropped.
func (fp *FixedBufferPool) Put(b *[]byte) {
	if b == nil || int64(cap(*b)) != fp.size {
		return
	}
	*b = (*b)[:fp.size]
	fp.pool.Put(b)
}
