//go:build linux

package bufferpool

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// MmapAllocator backs byte slots with page-aligned anonymous mappings, the
// kind of memory DMA engines and pinned-transfer APIs expect.
type MmapAllocator struct{}

func (MmapAllocator) Allocate(n int) ([]byte, error) {
	pageSize := unix.Getpagesize()
	size := ((n + pageSize - 1) / pageSize) * pageSize
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	return buf[:n], nil
}

func (MmapAllocator) Free(buf []byte) error {
	if buf == nil {
		return nil
	}
	if err := unix.Munmap(buf[:cap(buf)]); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	return nil
}
