// Package epd drives the 384x168 black/white e-paper panel (SSD168x-class
// controller) over 4-wire SPI.
//
// The controller RAM is 168 sources by 384 gates. The driver only ever sees
// that native portrait layout; rotation to landscape happens in gfx.
package epd

import (
	"errors"
	"fmt"
	"time"

	"tinygo.org/x/drivers"
)

const (
	Width      = 168
	Height     = 384
	BufferSize = Width / 8 * Height

	busyPoll   = 50 * time.Millisecond
	busySettle = 50 * time.Millisecond
	sleepHold  = 100 * time.Millisecond
)

// Display update control 2 activation bytes.
const (
	activateFull    = 0xF4
	activatePartial = 0xDF
)

// Controller commands.
const (
	cmdDriverOutput    = 0x01
	cmdGateVoltage     = 0x03
	cmdSourceVoltage   = 0x04
	cmdDeepSleep       = 0x10
	cmdDataEntry       = 0x11
	cmdSoftReset       = 0x12
	cmdTempSensor      = 0x18
	cmdActivate        = 0x20
	cmdUpdateControl2  = 0x22
	cmdWriteBlack      = 0x24
	cmdWriteRed        = 0x26
	cmdWriteVCOM       = 0x2C
	cmdWriteLUT        = 0x32
	cmdBorder          = 0x3C
	cmdEndOption       = 0x3F
	cmdRAMXRange       = 0x44
	cmdRAMYRange       = 0x45
	cmdRAMXCounter     = 0x4E
	cmdRAMYCounter     = 0x4F
	borderPartialValue = 0xC0
)

// Pin is a push-pull output line.
type Pin interface {
	High()
	Low()
}

// BusyPin reads the controller BUSY line; true means busy.
type BusyPin interface {
	Get() bool
}

// Config wires the driver to a bus. Sleep defaults to time.Sleep.
type Config struct {
	Bus   drivers.SPI
	CS    Pin
	DC    Pin
	RST   Pin
	Busy  BusyPin
	Sleep func(time.Duration)
}

// State is the refresh state of the panel in the current power cycle.
type State uint8

const (
	StateUninit State = iota
	StateReady
	StateCleared
	StateFullShown
	StateBaseSet
	StatePartialShown
	StateAsleep
)

func (s State) String() string {
	switch s {
	case StateUninit:
		return "uninit"
	case StateReady:
		return "ready"
	case StateCleared:
		return "cleared"
	case StateFullShown:
		return "full"
	case StateBaseSet:
		return "base"
	case StatePartialShown:
		return "partial"
	case StateAsleep:
		return "asleep"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

var (
	ErrNotReady   = errors.New("epd: panel not initialised")
	ErrNoBase     = errors.New("epd: partial refresh needs a base frame")
	ErrBufferSize = errors.New("epd: framebuffer size mismatch")
)

// Driver owns the panel. It is not safe for concurrent use.
type Driver struct {
	cfg      Config
	state    State
	partials int
	fill     [Width]byte
}

// New returns a driver in StateUninit. Call Init before anything else.
func New(cfg Config) *Driver {
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	cfg.CS.High()
	cfg.DC.High()
	cfg.RST.High()
	return &Driver{cfg: cfg}
}

func (d *Driver) State() State { return d.state }

// Partials is the number of partial refreshes since the last base frame.
func (d *Driver) Partials() int { return d.partials }

// NeedsBase reports whether the next refresh must be a base refresh: either
// no base frame exists yet or every partials have been shown on top of it.
func (d *Driver) NeedsBase(every int) bool {
	switch d.state {
	case StateBaseSet, StatePartialShown:
		return every > 0 && d.partials >= every
	default:
		return true
	}
}

// Init resets the controller and programs the panel geometry.
func (d *Driver) Init() error {
	d.reset()
	d.waitBusy()

	if err := d.cmd(cmdSoftReset); err != nil {
		return err
	}
	d.waitBusy()

	seq := []struct {
		cmd  byte
		data []byte
	}{
		{cmdBorder, []byte{0x01}},
		// Gate count = Height-1 (0x17F).
		{cmdDriverOutput, []byte{byte((Height - 1) & 0xFF), byte((Height - 1) >> 8), 0x00}},
		{cmdDataEntry, []byte{0x00}},
		{cmdRAMXRange, []byte{Width/8 - 1, 0x00}},
		{cmdRAMYRange, []byte{byte((Height - 1) & 0xFF), byte((Height - 1) >> 8), 0x00, 0x00}},
		{cmdBorder, []byte{0x05}},
		{cmdTempSensor, []byte{0x80}},
		{cmdRAMXCounter, []byte{Width/8 - 1}},
		{cmdRAMYCounter, []byte{byte((Height - 1) & 0xFF), byte((Height - 1) >> 8)}},
	}
	for _, s := range seq {
		if err := d.cmd(s.cmd, s.data...); err != nil {
			return err
		}
	}
	d.waitBusy()

	d.state = StateReady
	d.partials = 0
	return nil
}

// Clear whites the glass and zeroes the reference bank.
func (d *Driver) Clear() error {
	if err := d.ready(); err != nil {
		return err
	}
	if err := d.fillRAM(cmdWriteBlack, 0xFF); err != nil {
		return err
	}
	if err := d.fillRAM(cmdWriteRed, 0x00); err != nil {
		return err
	}
	if err := d.turnOn(); err != nil {
		return err
	}
	d.state = StateCleared
	return nil
}

// DisplayFull shows fb with a full waveform. The reference bank is zeroed,
// so partial refreshes are not allowed afterwards until DisplayBase.
func (d *Driver) DisplayFull(fb []byte) error {
	if err := d.showFull(fb); err != nil {
		return err
	}
	d.state = StateFullShown
	return nil
}

// DisplayBase shows fb like DisplayFull and then loads it into the
// reference bank so later partial refreshes diff against it.
func (d *Driver) DisplayBase(fb []byte) error {
	if err := d.showFull(fb); err != nil {
		return err
	}
	if err := d.writeRAM(cmdWriteRed, fb); err != nil {
		return err
	}
	d.state = StateBaseSet
	d.partials = 0
	return nil
}

// DisplayPartial writes fb to the black bank only and runs the partial
// waveform against the current base frame.
func (d *Driver) DisplayPartial(fb []byte) error {
	if err := d.ready(); err != nil {
		return err
	}
	if d.state != StateBaseSet && d.state != StatePartialShown {
		return ErrNoBase
	}
	if len(fb) != BufferSize {
		return ErrBufferSize
	}
	if err := d.writeRAM(cmdWriteBlack, fb); err != nil {
		return err
	}
	if err := d.cmd(cmdBorder, borderPartialValue); err != nil {
		return err
	}
	if err := d.cmd(cmdUpdateControl2, activatePartial); err != nil {
		return err
	}
	if err := d.cmd(cmdActivate); err != nil {
		return err
	}
	d.waitBusy()
	d.state = StatePartialShown
	d.partials++
	return nil
}

// Sleep puts the controller into deep sleep. Init is required to wake it.
func (d *Driver) Sleep() error {
	if d.state == StateUninit || d.state == StateAsleep {
		return nil
	}
	if err := d.cmd(cmdDeepSleep, 0x01); err != nil {
		return err
	}
	d.cfg.Sleep(sleepHold)
	d.state = StateAsleep
	d.partials = 0
	return nil
}

// LoadLUT programs a custom waveform table. The first 153 bytes are the
// waveform; the last six are EOPT, gate, source (3) and VCOM.
func (d *Driver) LoadLUT(lut []byte) error {
	if len(lut) < lutBytes {
		return fmt.Errorf("epd: LUT of %d bytes, want at least %d", len(lut), lutBytes)
	}
	if err := d.ready(); err != nil {
		return err
	}
	if err := d.cmd(cmdWriteLUT, lut[:lutWaveform]...); err != nil {
		return err
	}
	d.waitBusy()
	v := lut[len(lut)-6:]
	if err := d.cmd(cmdEndOption, v[0]); err != nil {
		return err
	}
	if err := d.cmd(cmdGateVoltage, v[1]); err != nil {
		return err
	}
	if err := d.cmd(cmdSourceVoltage, v[2], v[3], v[4]); err != nil {
		return err
	}
	return d.cmd(cmdWriteVCOM, v[5])
}

func (d *Driver) showFull(fb []byte) error {
	if err := d.ready(); err != nil {
		return err
	}
	if len(fb) != BufferSize {
		return ErrBufferSize
	}
	if err := d.writeRAM(cmdWriteBlack, fb); err != nil {
		return err
	}
	if err := d.fillRAM(cmdWriteRed, 0x00); err != nil {
		return err
	}
	return d.turnOn()
}

func (d *Driver) turnOn() error {
	if err := d.cmd(cmdUpdateControl2, activateFull); err != nil {
		return err
	}
	if err := d.cmd(cmdActivate); err != nil {
		return err
	}
	d.waitBusy()
	return nil
}

func (d *Driver) ready() error {
	if d.state == StateUninit || d.state == StateAsleep {
		return ErrNotReady
	}
	return nil
}

func (d *Driver) reset() {
	d.cfg.RST.High()
	d.cfg.Sleep(10 * time.Millisecond)
	d.cfg.RST.Low()
	d.cfg.Sleep(2 * time.Millisecond)
	d.cfg.RST.High()
	d.cfg.Sleep(10 * time.Millisecond)
}

// waitBusy blocks until BUSY drops. There is no timeout: a refresh cannot
// be interrupted and a wedged panel is left to the watchdog.
func (d *Driver) waitBusy() {
	for d.cfg.Busy.Get() {
		d.cfg.Sleep(busyPoll)
	}
	d.cfg.Sleep(busySettle)
}

func (d *Driver) cmd(cmd byte, data ...byte) error {
	d.cfg.CS.Low()
	d.cfg.DC.Low()
	err := d.cfg.Bus.Tx([]byte{cmd}, nil)
	d.cfg.DC.High()
	if err == nil && len(data) > 0 {
		err = d.cfg.Bus.Tx(data, nil)
	}
	d.cfg.CS.High()
	if err != nil {
		return fmt.Errorf("epd: cmd %#02x: %w", cmd, err)
	}
	return nil
}

func (d *Driver) writeRAM(cmd byte, src []byte) error {
	return d.cmd(cmd, src...)
}

func (d *Driver) fillRAM(cmd byte, v byte) error {
	for i := range d.fill {
		d.fill[i] = v
	}
	d.cfg.CS.Low()
	d.cfg.DC.Low()
	err := d.cfg.Bus.Tx([]byte{cmd}, nil)
	d.cfg.DC.High()
	for off := 0; err == nil && off < BufferSize; off += len(d.fill) {
		err = d.cfg.Bus.Tx(d.fill[:], nil)
	}
	d.cfg.CS.High()
	if err != nil {
		return fmt.Errorf("epd: fill %#02x: %w", cmd, err)
	}
	return nil
}
