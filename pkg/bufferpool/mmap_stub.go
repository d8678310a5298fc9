//go:build !linux

package bufferpool

// MmapAllocator falls back to host memory on platforms without mmap.
type MmapAllocator struct{}

func (MmapAllocator) Allocate(n int) ([]byte, error) { return make([]byte, n), nil }

func (MmapAllocator) Free([]byte) error { return nil }
