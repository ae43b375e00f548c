package hal

import (
	"errors"
	"io"
	"time"

	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/netlink"
)

// Logger writes newline-delimited log lines.
type Logger interface {
	WriteLineString(s string)
	WriteLineBytes(b []byte)
}

// RGBLED is the common-anode status LED. Channel levels run from 0 (off) to
// 255 (full); implementations handle the active-low wiring.
type RGBLED interface {
	SetRGB(r, g, b uint8)
}

// Buzzer plays a square-wave tone and blocks for its duration.
type Buzzer interface {
	Tone(hz uint32, d time.Duration)
}

// OutPin is a push-pull output.
type OutPin interface {
	High()
	Low()
}

// InPin is a digital input.
type InPin interface {
	Get() bool
}

// PanelPort is the 4-wire SPI wiring of the e-paper panel.
type PanelPort struct {
	Bus  drivers.SPI
	CS   OutPin
	DC   OutPin
	RST  OutPin
	Busy InPin
}

var ErrNotImplemented = errors.New("not implemented")

// Flash provides raw access to non-volatile memory.
//
// It is intentionally low-level: addresses and erase blocks only.
type Flash interface {
	SizeBytes() uint32
	EraseBlockBytes() uint32
	ReadAt(p []byte, off uint32) (int, error)
	WriteAt(p []byte, off uint32) (int, error)
	Erase(off, size uint32) error
}

// Clock provides wall time (possibly unsynced), time since boot and a
// blocking delay.
type Clock interface {
	Now() time.Time
	Uptime() time.Duration
	Sleep(d time.Duration)
}

// Network is the Wi-Fi link. Connect/disconnect follow the TinyGo netlink
// contract; IP and RSSI report the current station link.
type Network interface {
	netlink.Netlinker
	IP() string
	RSSI() int
}

// Updater stages a new firmware image into the inactive slot.
type Updater interface {
	// Begin reserves size bytes; it fails with ErrNoSpace if the slot is smaller.
	Begin(size int64) (UpdateWriter, error)
}

// UpdateWriter receives the image. Nothing becomes bootable before Commit.
type UpdateWriter interface {
	io.Writer
	Commit() error
	Abort() error
}

var ErrNoSpace = errors.New("not enough space")

// System covers whole-device operations.
type System interface {
	// Reboot restarts the device. On host builds it restarts the firmware
	// loop from persisted state.
	Reboot()
	// Battery returns the charge in percent, or -1 when unknown.
	Battery() int
}

// HAL provides the only contact point between the firmware and the board.
type HAL interface {
	Logger() Logger
	LED() RGBLED
	Buzzer() Buzzer
	Panel() PanelPort
	Flash() Flash
	Clock() Clock
	Network() Network
	Updater() Updater
	System() System
}
