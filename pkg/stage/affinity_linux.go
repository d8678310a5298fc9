//go:build linux

package stage

import "golang.org/x/sys/unix"

// pinToCPU restricts the calling thread to a single processor. The caller
// must have locked the goroutine to its OS thread first.
func pinToCPU(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}
