package hal

import (
	"fmt"
	"os"
)

// Region is a window [off, off+size) of a larger flash. Both bounds must be
// erase-block aligned.
type Region struct {
	f    Flash
	off  uint32
	size uint32
}

// NewRegion carves a sub-flash out of f.
func NewRegion(f Flash, off, size uint32) (*Region, error) {
	bs := f.EraseBlockBytes()
	if bs == 0 {
		return nil, ErrNotImplemented
	}
	if off%bs != 0 || size%bs != 0 || size == 0 {
		return nil, fmt.Errorf("flash region off=%d size=%d: %w", off, size, os.ErrInvalid)
	}
	if uint64(off)+uint64(size) > uint64(f.SizeBytes()) {
		return nil, fmt.Errorf("flash region off=%d size=%d exceeds %d: %w", off, size, f.SizeBytes(), os.ErrInvalid)
	}
	return &Region{f: f, off: off, size: size}, nil
}

func (r *Region) SizeBytes() uint32       { return r.size }
func (r *Region) EraseBlockBytes() uint32 { return r.f.EraseBlockBytes() }

func (r *Region) ReadAt(p []byte, off uint32) (int, error) {
	if off >= r.size {
		return 0, fmt.Errorf("region read at %d: %w", off, os.ErrInvalid)
	}
	if n := r.size - off; uint32(len(p)) > n {
		p = p[:n]
	}
	return r.f.ReadAt(p, r.off+off)
}

func (r *Region) WriteAt(p []byte, off uint32) (int, error) {
	if off >= r.size {
		return 0, fmt.Errorf("region write at %d: %w", off, os.ErrInvalid)
	}
	if n := r.size - off; uint32(len(p)) > n {
		p = p[:n]
	}
	return r.f.WriteAt(p, r.off+off)
}

func (r *Region) Erase(off, size uint32) error {
	if uint64(off)+uint64(size) > uint64(r.size) {
		return fmt.Errorf("region erase off=%d size=%d: %w", off, size, os.ErrInvalid)
	}
	return r.f.Erase(r.off+off, size)
}

// Layout splits a data flash into the credential store, the boot-slot
// marker and two equal firmware slots.
type Layout struct {
	Store  *Region
	Marker *Region
	SlotA  *Region
	SlotB  *Region
}

// StoreBytes is the space reserved for the key-value store.
const StoreBytes = 64 * 1024

// NewLayout partitions f. Slots take whatever is left, rounded down to the
// erase block.
func NewLayout(f Flash) (*Layout, error) {
	bs := f.EraseBlockBytes()
	if bs == 0 || f.SizeBytes() < StoreBytes+3*bs {
		return nil, ErrNotImplemented
	}
	store, err := NewRegion(f, 0, StoreBytes)
	if err != nil {
		return nil, err
	}
	marker, err := NewRegion(f, StoreBytes, bs)
	if err != nil {
		return nil, err
	}
	rest := f.SizeBytes() - StoreBytes - bs
	slot := (rest / 2) / bs * bs
	a, err := NewRegion(f, StoreBytes+bs, slot)
	if err != nil {
		return nil, err
	}
	b, err := NewRegion(f, StoreBytes+bs+slot, slot)
	if err != nil {
		return nil, err
	}
	return &Layout{Store: store, Marker: marker, SlotA: a, SlotB: b}, nil
}
