//go:build !linux

package main

import "fmt"

// XDMA character devices only exist on Linux; other platforms must use the
// simulator.
func newDeviceDigitizer(path string, sampleRate float64) (Digitizer, error) {
	return nil, fmt.Errorf("device digitizer %s requires linux; use --sim", path)
}
