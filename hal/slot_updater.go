package hal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// Boot-slot marker records are appended to the marker block; the last valid
// record names the image the bootloader should start. A record is a single
// 16-byte program operation, which makes Commit atomic.
const (
	markerRecordBytes = 16
	markerMagic       = "TMS1"
)

var (
	ErrWriteIncomplete = errors.New("write incomplete")
	ErrUpdateClosed    = errors.New("update already finished")
)

// SlotUpdater implements Updater with two flash slots and a marker block.
type SlotUpdater struct {
	l *Layout
}

func NewSlotUpdater(l *Layout) *SlotUpdater {
	return &SlotUpdater{l: l}
}

// BootRecord describes the committed image.
type BootRecord struct {
	Slot int
	Size uint32
	CRC  uint32
}

// Active returns the last committed record. A blank marker means slot 0
// holds the factory image.
func (u *SlotUpdater) Active() (BootRecord, error) {
	rec, _, err := u.scan()
	return rec, err
}

func (u *SlotUpdater) slot(i int) *Region {
	if i == 1 {
		return u.l.SlotB
	}
	return u.l.SlotA
}

func (u *SlotUpdater) scan() (BootRecord, uint32, error) {
	var (
		rec BootRecord
		buf [markerRecordBytes]byte
		off uint32
	)
	m := u.l.Marker
	for off+markerRecordBytes <= m.SizeBytes() {
		if _, err := m.ReadAt(buf[:], off); err != nil {
			return rec, off, fmt.Errorf("read boot marker: %w", err)
		}
		if string(buf[:4]) != markerMagic {
			break
		}
		rec = BootRecord{
			Slot: int(buf[4] & 1),
			Size: binary.LittleEndian.Uint32(buf[8:12]),
			CRC:  binary.LittleEndian.Uint32(buf[12:16]),
		}
		off += markerRecordBytes
	}
	return rec, off, nil
}

func (u *SlotUpdater) Begin(size int64) (UpdateWriter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("begin update of %d bytes: %w", size, ErrNoSpace)
	}
	active, _, err := u.scan()
	if err != nil {
		return nil, err
	}
	target := 1 - active.Slot
	dst := u.slot(target)
	if uint64(size) > uint64(dst.SizeBytes()) {
		return nil, fmt.Errorf("image %d bytes, slot %d bytes: %w", size, dst.SizeBytes(), ErrNoSpace)
	}
	bs := dst.EraseBlockBytes()
	span := (uint32(size) + bs - 1) / bs * bs
	if err := dst.Erase(0, span); err != nil {
		return nil, fmt.Errorf("erase slot %d: %w", target, err)
	}
	return &slotWriter{u: u, slot: target, dst: dst, size: uint32(size)}, nil
}

type slotWriter struct {
	u       *SlotUpdater
	slot    int
	dst     *Region
	size    uint32
	written uint32
	crc     uint32
	done    bool
}

func (w *slotWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, ErrUpdateClosed
	}
	if uint64(w.written)+uint64(len(p)) > uint64(w.size) {
		return 0, fmt.Errorf("image overflows declared size %d: %w", w.size, io.ErrShortWrite)
	}
	n, err := w.dst.WriteAt(p, w.written)
	w.crc = crc32.Update(w.crc, crc32.IEEETable, p[:n])
	w.written += uint32(n)
	if err != nil {
		return n, fmt.Errorf("write slot %d at %d: %w", w.slot, w.written, err)
	}
	return n, nil
}

func (w *slotWriter) Commit() error {
	if w.done {
		return ErrUpdateClosed
	}
	w.done = true
	if w.written != w.size {
		return fmt.Errorf("%d of %d bytes: %w", w.written, w.size, ErrWriteIncomplete)
	}
	_, off, err := w.u.scan()
	if err != nil {
		return err
	}
	m := w.u.l.Marker
	if off+markerRecordBytes > m.SizeBytes() {
		if err := m.Erase(0, m.SizeBytes()); err != nil {
			return fmt.Errorf("compact boot marker: %w", err)
		}
		off = 0
	}
	var rec [markerRecordBytes]byte
	copy(rec[:4], markerMagic)
	rec[4] = byte(w.slot)
	binary.LittleEndian.PutUint32(rec[8:12], w.size)
	binary.LittleEndian.PutUint32(rec[12:16], w.crc)
	if _, err := m.WriteAt(rec[:], off); err != nil {
		return fmt.Errorf("write boot marker: %w", err)
	}
	return nil
}

func (w *slotWriter) Abort() error {
	w.done = true
	return nil
}
