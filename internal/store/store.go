// Package store is the namespaced persistent key-value store.
//
// Records are appended to a log in one of two flash banks. A write returns
// only after its record is programmed, and a record is valid only if its
// CRC matches, so each Put, Remove and ClearAll is all-or-nothing across a
// power loss. When a bank fills up, the live set is copied to the other
// bank and that bank's header (with a higher generation) is written last.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"tigermeter/hal"
)

// Namespace and keys used by the firmware.
const (
	Namespace = "tigermeter"

	KeySSID         = "ssid"
	KeyPassword     = "password"
	KeyDeviceID     = "deviceId"
	KeyDeviceSecret = "deviceSecret"
	KeyDisplayHash  = "displayHash"
	KeyDemoMode     = "demoMode"
)

var (
	ErrFull     = errors.New("store: flash full")
	ErrTooLarge = errors.New("store: record too large")
	ErrTooSmall = errors.New("store: flash region too small")
)

const (
	bankMagic  = "TMKV"
	headerSize = 16
)

// Log owns the flash region. Use Namespace to get a Store.
type Log struct {
	mu     sync.Mutex
	f      hal.Flash
	bank   uint32
	active uint32
	gen    uint32
	tail   uint32
	dirty  bool
	data   map[string]map[string]string
}

// Open loads the log from f, formatting it if no valid bank exists.
func Open(f hal.Flash) (*Log, error) {
	bs := f.EraseBlockBytes()
	if bs == 0 {
		return nil, ErrTooSmall
	}
	bank := (f.SizeBytes() / 2) / bs * bs
	if bank < bs || bank <= headerSize {
		return nil, ErrTooSmall
	}
	l := &Log{f: f, bank: bank, data: make(map[string]map[string]string)}

	best := -1
	for i := uint32(0); i < 2; i++ {
		gen, ok, err := l.readHeader(i)
		if err != nil {
			return nil, err
		}
		if ok && (best < 0 || gen > l.gen) {
			best, l.gen = int(i), gen
		}
	}
	if best < 0 {
		if err := l.format(); err != nil {
			return nil, err
		}
		return l, nil
	}
	l.active = uint32(best)
	if err := l.replay(); err != nil {
		return nil, err
	}
	if l.dirty {
		if err := l.compact(); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Namespace returns a view of the keys in ns.
func (l *Log) Namespace(ns string) *Store {
	return &Store{log: l, ns: ns}
}

func (l *Log) bankOff(i uint32) uint32 { return i * l.bank }

func (l *Log) readHeader(i uint32) (gen uint32, ok bool, err error) {
	var h [headerSize]byte
	if _, err := l.f.ReadAt(h[:], l.bankOff(i)); err != nil {
		return 0, false, fmt.Errorf("store: read header: %w", err)
	}
	if string(h[:4]) != bankMagic {
		return 0, false, nil
	}
	if crc16(h[:8]) != binary.BigEndian.Uint16(h[8:10]) {
		return 0, false, nil
	}
	return binary.LittleEndian.Uint32(h[4:8]), true, nil
}

func (l *Log) writeHeader(i, gen uint32) error {
	var h [headerSize]byte
	for j := range h {
		h[j] = 0xFF
	}
	copy(h[:4], bankMagic)
	binary.LittleEndian.PutUint32(h[4:8], gen)
	binary.BigEndian.PutUint16(h[8:10], crc16(h[:8]))
	if _, err := l.f.WriteAt(h[:], l.bankOff(i)); err != nil {
		return fmt.Errorf("store: write header: %w", err)
	}
	return nil
}

func (l *Log) format() error {
	if err := l.f.Erase(l.bankOff(0), l.bank); err != nil {
		return fmt.Errorf("store: format: %w", err)
	}
	if err := l.writeHeader(0, 1); err != nil {
		return err
	}
	l.active, l.gen, l.tail = 0, 1, headerSize
	return nil
}

func (l *Log) replay() error {
	buf := make([]byte, l.bank)
	if _, err := l.f.ReadAt(buf, l.bankOff(l.active)); err != nil {
		return fmt.Errorf("store: read bank: %w", err)
	}
	off := uint32(headerSize)
	for off < l.bank {
		r, n, err := decodeRecord(buf[off:])
		if errors.Is(err, errEndOfLog) {
			break
		}
		if err != nil {
			// Torn tail: the bytes are programmed, so the next append
			// cannot go there. Move the live set to the other bank.
			l.dirty = true
			break
		}
		l.apply(r)
		off += uint32(n)
	}
	l.tail = off
	return nil
}

func (l *Log) apply(r record) {
	switch r.Op {
	case opPut:
		m := l.data[r.Namespace]
		if m == nil {
			m = make(map[string]string)
			l.data[r.Namespace] = m
		}
		m[r.Key] = r.Value
	case opDel:
		delete(l.data[r.Namespace], r.Key)
	case opClear:
		delete(l.data, r.Namespace)
	}
}

func (l *Log) append(r record) error {
	frame, err := encodeRecord(r)
	if err != nil {
		return err
	}
	if l.dirty || l.tail+uint32(len(frame)) > l.bank {
		if err := l.compact(); err != nil {
			return err
		}
		if l.tail+uint32(len(frame)) > l.bank {
			return ErrFull
		}
	}
	if _, err := l.f.WriteAt(frame, l.bankOff(l.active)+l.tail); err != nil {
		l.dirty = true
		return fmt.Errorf("store: write: %w", err)
	}
	l.tail += uint32(len(frame))
	l.apply(r)
	return nil
}

// compact rewrites the live set into the inactive bank. The header goes
// last; until it is written the current bank stays authoritative.
func (l *Log) compact() error {
	next := 1 - l.active
	base := l.bankOff(next)
	if err := l.f.Erase(base, l.bank); err != nil {
		return fmt.Errorf("store: compact erase: %w", err)
	}

	off := uint32(headerSize)
	namespaces := make([]string, 0, len(l.data))
	for ns := range l.data {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)
	for _, ns := range namespaces {
		keys := make([]string, 0, len(l.data[ns]))
		for k := range l.data[ns] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			frame, err := encodeRecord(record{Op: opPut, Namespace: ns, Key: k, Value: l.data[ns][k]})
			if err != nil {
				return err
			}
			if off+uint32(len(frame)) > l.bank {
				return ErrFull
			}
			if _, err := l.f.WriteAt(frame, base+off); err != nil {
				return fmt.Errorf("store: compact write: %w", err)
			}
			off += uint32(len(frame))
		}
	}
	if err := l.writeHeader(next, l.gen+1); err != nil {
		return err
	}
	l.active, l.gen, l.tail, l.dirty = next, l.gen+1, off, false
	return nil
}

// Store is one namespace of the log. All methods are safe for concurrent use.
type Store struct {
	log *Log
	ns  string
}

// Get returns the value for key, or "" if absent.
func (s *Store) Get(key string) string {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()
	return s.log.data[s.ns][key]
}

// Has reports whether key is present.
func (s *Store) Has(key string) bool {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()
	_, ok := s.log.data[s.ns][key]
	return ok
}

// Put stores value under key. It is durable when Put returns.
func (s *Store) Put(key, value string) error {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()
	if cur, ok := s.log.data[s.ns][key]; ok && cur == value {
		return nil
	}
	return s.log.append(record{Op: opPut, Namespace: s.ns, Key: key, Value: value})
}

// Remove deletes key. Removing an absent key is not an error.
func (s *Store) Remove(key string) error {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()
	if _, ok := s.log.data[s.ns][key]; !ok {
		return nil
	}
	return s.log.append(record{Op: opDel, Namespace: s.ns, Key: key})
}

// ClearAll removes every key of the namespace with a single record.
func (s *Store) ClearAll() error {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()
	return s.log.append(record{Op: opClear, Namespace: s.ns})
}

// Keys lists the keys present, sorted.
func (s *Store) Keys() []string {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()
	keys := make([]string, 0, len(s.log.data[s.ns]))
	for k := range s.log.data[s.ns] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetBool reads a flag stored by PutBool.
func (s *Store) GetBool(key string) bool { return s.Get(key) == "true" }

func (s *Store) PutBool(key string, v bool) error {
	if v {
		return s.Put(key, "true")
	}
	return s.Put(key, "false")
}
