//go:build !tinygo

package hal

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// HostOptions configures the emulated board.
type HostOptions struct {
	// FlashPath is the flash image file; empty means volatile.
	FlashPath string
	// MAC overrides the emulated hardware address (aa:bb:cc:dd:ee:ff).
	MAC string
	// Log receives device log lines; defaults to stdout.
	Log io.Writer
	// Audible plays buzzer tones through the sound card.
	Audible bool
	// PanelLatency keeps BUSY asserted after each refresh.
	PanelLatency time.Duration
	// Panel replaces the simulated panel wiring, e.g. with a real panel on
	// spidev. The simulator then stays blank.
	Panel *PanelPort
}

type hostHAL struct {
	logger  *hostLogger
	led     *HostLED
	buzzer  *hostBuzzer
	panel   *PanelSim
	port    *PanelPort
	flash   Flash
	clock   *hostClock
	net     *hostNetwork
	updater Updater
	sys     *HostSystem
}

// Host is the emulated board with access to its simulated peripherals.
type Host interface {
	HAL
	PanelSim() *PanelSim
	HostLED() *HostLED
	HostSystem() *HostSystem
}

// New returns a host HAL with a volatile flash.
func New() HAL {
	h, err := NewHost(HostOptions{FlashPath: os.Getenv("TIGERMETER_FLASH_PATH")})
	if err != nil {
		h, _ = NewHost(HostOptions{})
	}
	return h
}

// NewHost builds the emulated board.
func NewHost(opts HostOptions) (Host, error) {
	w := opts.Log
	if w == nil {
		w = os.Stdout
	}
	logger := &hostLogger{w: w}

	flash, err := OpenHostFlash(opts.FlashPath)
	if err != nil {
		return nil, err
	}
	layout, err := NewLayout(flash)
	if err != nil {
		return nil, fmt.Errorf("partition flash: %w", err)
	}

	panel := NewPanelSim()
	panel.Latency = opts.PanelLatency

	return &hostHAL{
		logger:  logger,
		led:     &HostLED{logger: logger},
		buzzer:  newHostBuzzer(logger, opts.Audible),
		panel:   panel,
		port:    opts.Panel,
		flash:   flash,
		clock:   newHostClock(),
		net:     newHostNetwork(opts.MAC),
		updater: NewSlotUpdater(layout),
		sys:     &HostSystem{reboot: make(chan struct{}, 1), battery: -1},
	}, nil
}

func (h *hostHAL) Logger() Logger      { return h.logger }
func (h *hostHAL) LED() RGBLED         { return h.led }
func (h *hostHAL) Buzzer() Buzzer      { return h.buzzer }
func (h *hostHAL) Flash() Flash        { return h.flash }
func (h *hostHAL) Clock() Clock        { return h.clock }
func (h *hostHAL) Network() Network    { return h.net }
func (h *hostHAL) Updater() Updater    { return h.updater }
func (h *hostHAL) System() System      { return h.sys }
func (h *hostHAL) PanelSim() *PanelSim { return h.panel }
func (h *hostHAL) HostLED() *HostLED   { return h.led }

func (h *hostHAL) Panel() PanelPort {
	if h.port != nil {
		return *h.port
	}
	return h.panel.Port()
}

func (h *hostHAL) HostSystem() *HostSystem { return h.sys }

type hostLogger struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *hostLogger) WriteLineString(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, s)
}

func (l *hostLogger) WriteLineBytes(b []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Write(b)
	l.w.Write([]byte{'\n'})
}

// HostLED remembers the last colour for the window renderer.
type HostLED struct {
	mu      sync.Mutex
	r, g, b uint8
	logger  *hostLogger
}

func (l *HostLED) SetRGB(r, g, b uint8) {
	l.mu.Lock()
	changed := l.r != r || l.g != g || l.b != b
	l.r, l.g, l.b = r, g, b
	l.mu.Unlock()
	if changed {
		l.logger.WriteLineString(fmt.Sprintf("led: #%02x%02x%02x", r, g, b))
	}
}

// RGB returns the current colour.
func (l *HostLED) RGB() (r, g, b uint8) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r, l.g, l.b
}

// HostSystem turns Reboot into a signal for the host runner.
type HostSystem struct {
	reboot  chan struct{}
	battery int
}

func (s *HostSystem) Reboot() {
	select {
	case s.reboot <- struct{}{}:
	default:
	}
}

// Rebooted fires once per Reboot call.
func (s *HostSystem) Rebooted() <-chan struct{} { return s.reboot }

func (s *HostSystem) Battery() int { return s.battery }
