//go:build !baremetal

package hal

import (
	"sync"
	"time"
)

// Native geometry of the simulated SSD168x panel (portrait).
const (
	PanelNativeWidth  = 168
	PanelNativeHeight = 384
	panelRAMBytes     = PanelNativeWidth / 8 * PanelNativeHeight
)

// Refresh kinds reported by PanelSim.
const (
	RefreshFull    = 0xF4
	RefreshPartial = 0xDF
)

// PanelSim is a byte-level model of the panel controller. It decodes the SPI
// stream using the DC line, keeps both RAM banks and only updates the visible
// image on master activation (0x20).
type PanelSim struct {
	mu sync.Mutex

	dc   bool
	cmd  byte
	args []byte

	bankA  [panelRAMBytes]byte
	bankB  [panelRAMBytes]byte
	cursor int

	visible  [panelRAMBytes]byte
	update   byte
	border   byte
	lut      []byte
	sleeping bool

	full     int
	partial  int
	lastKind byte

	// Latency keeps BUSY high after each activation.
	Latency   time.Duration
	busyUntil time.Time

	onFrame []func()
}

func NewPanelSim() *PanelSim {
	s := &PanelSim{}
	for i := range s.visible {
		s.visible[i] = 0xFF
	}
	return s
}

// Port returns the wiring the panel driver talks to.
func (s *PanelSim) Port() PanelPort {
	return PanelPort{
		Bus:  s,
		CS:   simPin{set: func(bool) {}},
		DC:   simPin{set: s.setDC},
		RST:  simPin{set: s.setRST},
		Busy: simBusy{s: s},
	}
}

// OnFrame registers a callback run after every activation.
func (s *PanelSim) OnFrame(fn func()) {
	s.mu.Lock()
	s.onFrame = append(s.onFrame, fn)
	s.mu.Unlock()
}

func (s *PanelSim) setDC(level bool) {
	s.mu.Lock()
	s.dc = level
	s.mu.Unlock()
}

func (s *PanelSim) setRST(level bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !level {
		s.sleeping = false
		s.cursor = 0
	}
}

func (s *PanelSim) busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Now().Before(s.busyUntil)
}

// Transfer implements drivers.SPI.
func (s *PanelSim) Transfer(b byte) (byte, error) {
	s.feed(b)
	return 0, nil
}

// Tx implements drivers.SPI.
func (s *PanelSim) Tx(w, r []byte) error {
	for _, b := range w {
		s.feed(b)
	}
	for i := range r {
		r[i] = 0
	}
	return nil
}

func (s *PanelSim) feed(b byte) {
	var notify []func()

	s.mu.Lock()
	if s.sleeping {
		s.mu.Unlock()
		return
	}
	if !s.dc {
		s.finish()
		s.cmd = b
		s.args = s.args[:0]
		switch b {
		case 0x20:
			notify = s.activate()
		case 0x24, 0x26:
			s.cursor = 0
		}
		s.mu.Unlock()
		for _, fn := range notify {
			fn()
		}
		return
	}

	switch s.cmd {
	case 0x24:
		s.bankA[s.cursor] = b
		s.cursor = (s.cursor + 1) % panelRAMBytes
	case 0x26:
		s.bankB[s.cursor] = b
		s.cursor = (s.cursor + 1) % panelRAMBytes
	case 0x10:
		s.sleeping = b&0x01 != 0
	default:
		s.args = append(s.args, b)
	}
	s.mu.Unlock()
}

// finish applies the parameters of the previous command.
func (s *PanelSim) finish() {
	if len(s.args) == 0 {
		return
	}
	switch s.cmd {
	case 0x22:
		s.update = s.args[0]
	case 0x3C:
		s.border = s.args[0]
	case 0x32:
		s.lut = append(s.lut[:0], s.args...)
	}
}

func (s *PanelSim) activate() []func() {
	s.visible = s.bankA
	s.lastKind = s.update
	if s.update == RefreshFull {
		s.full++
	} else {
		s.partial++
	}
	if s.Latency > 0 {
		s.busyUntil = time.Now().Add(s.Latency)
	}
	return append([]func(){}, s.onFrame...)
}

// Visible returns the image currently on the glass in native layout.
func (s *PanelSim) Visible() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, panelRAMBytes)
	copy(out, s.visible[:])
	return out
}

// BaseFrame returns RAM bank B, the reference for partial refreshes.
func (s *PanelSim) BaseFrame() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, panelRAMBytes)
	copy(out, s.bankB[:])
	return out
}

// Counts returns the number of full and partial activations so far and the
// kind of the last one.
func (s *PanelSim) Counts() (full, partial int, last byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.full, s.partial, s.lastKind
}

// Asleep reports deep-sleep mode.
func (s *PanelSim) Asleep() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sleeping
}

// LandscapeBlack reports whether logical landscape pixel (x, y) is black on
// the glass.
func LandscapeBlack(native []byte, x, y int) bool {
	nx := PanelNativeWidth - 1 - y
	ny := x
	idx := ny*(PanelNativeWidth/8) + nx/8
	return native[idx]&(0x80>>uint(nx%8)) == 0
}

type simPin struct {
	set func(bool)
}

func (p simPin) High() { p.set(true) }
func (p simPin) Low()  { p.set(false) }

type simBusy struct {
	s *PanelSim
}

func (b simBusy) Get() bool { return b.s.busy() }
