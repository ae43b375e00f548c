//go:build !tinygo

package hal

import (
	"fmt"
	"os"
	"sync"
)

const (
	hostFlashDefaultPath      = "tigermeter.flash"
	hostFlashDefaultSizeBytes = 4 * 1024 * 1024
	hostFlashEraseBlockBytes  = 4096
)

// hostFlash keeps the image in memory with NOR rules and writes every
// program/erase through to a file so state survives emulated reboots.
type hostFlash struct {
	mu  sync.Mutex
	mem *MemFlash
	f   *os.File
}

// OpenHostFlash opens (or creates) a flash image file. An empty path gives a
// volatile flash.
func OpenHostFlash(path string) (Flash, error) {
	if path == "" {
		return NewMemFlash(hostFlashDefaultSizeBytes, hostFlashEraseBlockBytes), nil
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open flash image %q: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat flash image %q: %w", path, err)
	}

	size := uint32(hostFlashDefaultSizeBytes)
	if st.Size() > 0 {
		if st.Size() > int64(^uint32(0)) || st.Size()%hostFlashEraseBlockBytes != 0 {
			_ = f.Close()
			return nil, fmt.Errorf("flash image %q has invalid size %d: %w", path, st.Size(), os.ErrInvalid)
		}
		size = uint32(st.Size())
	}

	hf := &hostFlash{mem: NewMemFlash(size, hostFlashEraseBlockBytes), f: f}
	if st.Size() == 0 {
		if _, err := f.WriteAt(hf.mem.buf, 0); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("format flash image %q: %w", path, err)
		}
		return hf, nil
	}
	if _, err := f.ReadAt(hf.mem.buf, 0); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("load flash image %q: %w", path, err)
	}
	return hf, nil
}

func (f *hostFlash) SizeBytes() uint32       { return f.mem.SizeBytes() }
func (f *hostFlash) EraseBlockBytes() uint32 { return f.mem.EraseBlockBytes() }

func (f *hostFlash) ReadAt(p []byte, off uint32) (int, error) {
	return f.mem.ReadAt(p, off)
}

func (f *hostFlash) WriteAt(p []byte, off uint32) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.mem.WriteAt(p, off)
	if err != nil {
		return n, err
	}
	if err := f.sync(off, uint32(n)); err != nil {
		return 0, err
	}
	return n, nil
}

func (f *hostFlash) Erase(off, size uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.mem.Erase(off, size); err != nil {
		return err
	}
	return f.sync(off, size)
}

func (f *hostFlash) sync(off, n uint32) error {
	f.mem.mu.Lock()
	chunk := f.mem.buf[off : off+n]
	_, err := f.f.WriteAt(chunk, int64(off))
	f.mem.mu.Unlock()
	if err != nil {
		return fmt.Errorf("persist flash at %d: %w", off, err)
	}
	return f.f.Sync()
}

func (f *hostFlash) Close() error {
	return f.f.Close()
}
