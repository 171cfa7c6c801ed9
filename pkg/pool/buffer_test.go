package pool

import (
	"sync"
	"testing"
)

func TestFixedBufferPool(t *testing.T) {
	fp := NewFixedBufferPool(4096)

	b := fp.Get()
	if len(*b) != 4096 {
		t.Fatalf("expected len 4096, got %d", len(*b))
	}

	// A resliced buffer comes back at full length.
	*b = (*b)[:10]
	fp.Put(b)
	b2 := fp.Get()
	if len(*b2) != 4096 {
		t.Errorf("expected len 4096 after reuse, got %d", len(*b2))
	}

	// Foreign buffers and nil are ignored.
	foreign := make([]byte, 100)
	fp.Put(&foreign)
	fp.Put(nil)
}

func TestFixedBufferPool_InvalidSize(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for zero size")
		}
	}()
	NewFixedBufferPool(0)
}

func TestFixedBufferPool_Concurrent(t *testing.T) {
	fp := NewFixedBufferPool(1024)
	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			b := fp.Get()
			(*b)[0] = 1
			fp.Put(b)
		})
	}
	wg.Wait()
}
