//go:build linux

package main

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// deviceDigitizer reads raw sample words from a character device: an XDMA
// card at /dev/xdma0_c2h_0, or any FIFO speaking the same format. The card
// streams continuously; arming and disarming is handled pipeline-side.
type deviceDigitizer struct {
	path       string
	sampleRate float64

	mu   sync.Mutex
	fd   int
	open bool
}

func newDeviceDigitizer(path string, sampleRate float64) (Digitizer, error) {
	return &deviceDigitizer{path: path, sampleRate: sampleRate, fd: -1}, nil
}

func (d *deviceDigitizer) Initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return nil
	}
	fd, err := unix.Open(d.path, unix.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("open device %s: %w", d.path, err)
	}
	// Max out the pipe buffer for throughput; harmless on non-pipe devices.
	const maxPipeSize = 1024 * 1024
	_, _ = unix.FcntlInt(uintptr(fd), unix.F_SETPIPE_SZ, maxPipeSize)
	d.fd = fd
	d.open = true
	return nil
}

func (d *deviceDigitizer) Start() error { return nil }

func (d *deviceDigitizer) Stop() error { return nil }

func (d *deviceDigitizer) SamplingFrequency() float64 { return d.sampleRate }

// AcquireUntil fills buf from the device, retrying short reads. Sample
// words are little-endian on the wire, matching the host.
func (d *deviceDigitizer) AcquireUntil(buf []Sample) (int, error) {
	d.mu.Lock()
	fd, open := d.fd, d.open
	d.mu.Unlock()
	if !open {
		return 0, fmt.Errorf("device %s not open", d.path)
	}
	if len(buf) == 0 {
		return 0, nil
	}

	raw := unsafe.Slice((*byte)(unsafe.Pointer(&buf[0])), len(buf)*2)
	total := 0
	zeroReads := 0
	for total < len(raw) {
		n, err := unix.Read(fd, raw[total:])
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return total / 2, fmt.Errorf("read %s: %w", d.path, err)
		}
		if n == 0 {
			// Writer end not ready yet; don't spin on an empty FIFO, and
			// give up on a short buffer after about a second so a stop
			// request can still get through.
			if zeroReads++; zeroReads > 1000 {
				return total / 2, nil
			}
			time.Sleep(time.Millisecond)
			continue
		}
		zeroReads = 0
		total += n
	}
	return total / 2, nil
}

func (d *deviceDigitizer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil
	}
	d.open = false
	fd := d.fd
	d.fd = -1
	return unix.Close(fd)
}
