package bufferpool

// Allocator is the single hook into the memory domain backing a pool.
// Ordinary host memory is the default; device, pinned, or DMA-visible
// allocators satisfy the same interface.
type Allocator[T any] interface {
	Allocate(n int) ([]T, error)
	Free(buf []T) error
}

// HostAllocator backs slots with Go-managed memory.
type HostAllocator[T any] struct{}

func (HostAllocator[T]) Allocate(n int) ([]T, error) { return make([]T, n), nil }

func (HostAllocator[T]) Free([]T) error { return nil }
