//go:build tinygo && baremetal && (rp2040 || rp2350)

package hal

import (
	"errors"
	"fmt"
	"machine"
)

var errFlashRange = errors.New("flash: out of range")

// rp2Flash is the on-chip QSPI flash past the firmware image. Offsets are
// relative to machine.Flash, so the store and both update slots never
// overlap the running program.
type rp2Flash struct {
	size  uint32
	block uint32
}

func newRP2Flash() Flash {
	return rp2Flash{
		size:  clampU32(machine.Flash.Size()),
		block: clampU32(machine.Flash.EraseBlockSize()),
	}
}

func clampU32(v int64) uint32 {
	switch {
	case v <= 0:
		return 0
	case v > int64(^uint32(0)):
		return ^uint32(0)
	}
	return uint32(v)
}

func (f rp2Flash) SizeBytes() uint32       { return f.size }
func (f rp2Flash) EraseBlockBytes() uint32 { return f.block }

func (f rp2Flash) check(off, n uint32) error {
	if off > f.size || n > f.size-off {
		return fmt.Errorf("%w: off=%d len=%d size=%d", errFlashRange, off, n, f.size)
	}
	return nil
}

func (f rp2Flash) ReadAt(p []byte, off uint32) (int, error) {
	if err := f.check(off, uint32(len(p))); err != nil {
		return 0, err
	}
	n, err := machine.Flash.ReadAt(p, int64(off))
	if err != nil {
		return n, fmt.Errorf("flash read at %d: %w", off, err)
	}
	return n, nil
}

func (f rp2Flash) WriteAt(p []byte, off uint32) (int, error) {
	if err := f.check(off, uint32(len(p))); err != nil {
		return 0, err
	}
	n, err := machine.Flash.WriteAt(p, int64(off))
	if err != nil {
		return n, fmt.Errorf("flash write at %d: %w", off, err)
	}
	return n, nil
}

// Erase takes whole erase blocks only.
func (f rp2Flash) Erase(off, size uint32) error {
	if size == 0 {
		return nil
	}
	if f.block == 0 {
		return ErrNotImplemented
	}
	if off%f.block != 0 || size%f.block != 0 {
		return fmt.Errorf("flash erase off=%d size=%d: not block aligned", off, size)
	}
	if err := f.check(off, size); err != nil {
		return err
	}
	return machine.Flash.EraseBlocks(int64(off/f.block), int64(size/f.block))
}
