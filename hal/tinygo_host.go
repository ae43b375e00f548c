//go:build tinygo && !baremetal

package hal

import (
	"os"
	"strconv"
	"time"
)

const tinyGoHostFlashBytes = 1 << 20

type tinyGoHostHAL struct {
	logger  *tinyGoHostLogger
	led     *tinyGoHostLED
	panel   *PanelSim
	flash   Flash
	clock   *hostClock
	updater Updater
}

// New returns a TinyGo-on-host HAL implementation.
//
// This is used by `tinygo run` targets like linux/wasm where there is no MCU
// pin mapping: the panel is the byte-level simulator, flash is volatile and
// there is no Wi-Fi.
func New() HAL {
	l := &tinyGoHostLogger{}
	flash := NewMemFlash(tinyGoHostFlashBytes, 4096)
	h := &tinyGoHostHAL{
		logger:  l,
		led:     &tinyGoHostLED{logger: l},
		panel:   NewPanelSim(),
		flash:   flash,
		clock:   newHostClock(),
		updater: nullUpdater{},
	}
	if layout, err := NewLayout(flash); err == nil {
		h.updater = NewSlotUpdater(layout)
	}
	h.panel.OnFrame(func() {
		full, partial, _ := h.panel.Counts()
		l.WriteLineString("panel: frame full=" + strconv.Itoa(full) + " partial=" + strconv.Itoa(partial))
	})
	return h
}

func (h *tinyGoHostHAL) Logger() Logger   { return h.logger }
func (h *tinyGoHostHAL) LED() RGBLED      { return h.led }
func (h *tinyGoHostHAL) Buzzer() Buzzer   { return tinyGoHostBuzzer{logger: h.logger} }
func (h *tinyGoHostHAL) Panel() PanelPort { return h.panel.Port() }
func (h *tinyGoHostHAL) Flash() Flash     { return h.flash }
func (h *tinyGoHostHAL) Clock() Clock     { return h.clock }
func (h *tinyGoHostHAL) Network() Network { return nullNetwork{} }
func (h *tinyGoHostHAL) Updater() Updater { return h.updater }
func (h *tinyGoHostHAL) System() System   { return tinyGoHostSystem{} }

type tinyGoHostLogger struct{}

func (l *tinyGoHostLogger) WriteLineString(s string) {
	println(s)
}

func (l *tinyGoHostLogger) WriteLineBytes(b []byte) {
	println(string(b))
}

type tinyGoHostLED struct {
	r, g, b uint8
	logger  *tinyGoHostLogger
}

func (l *tinyGoHostLED) SetRGB(r, g, b uint8) {
	if l.r == r && l.g == g && l.b == b {
		return
	}
	l.r, l.g, l.b = r, g, b
	l.logger.WriteLineString("led: " + strconv.Itoa(int(r)) + "," + strconv.Itoa(int(g)) + "," + strconv.Itoa(int(b)))
}

type tinyGoHostBuzzer struct {
	logger *tinyGoHostLogger
}

func (b tinyGoHostBuzzer) Tone(hz uint32, d time.Duration) {
	b.logger.WriteLineString("buzzer: " + strconv.Itoa(int(hz)) + "Hz " + d.String())
	time.Sleep(d)
}

type tinyGoHostSystem struct{}

// Reboot ends the process; flash is volatile so nothing would survive it.
func (tinyGoHostSystem) Reboot()      { os.Exit(0) }
func (tinyGoHostSystem) Battery() int { return -1 }
