//go:build !tinygo

package epd

import (
	"bytes"
	"testing"
	"time"

	"tigermeter/hal"
)

func newSimDriver() (*Driver, *hal.PanelSim) {
	sim := hal.NewPanelSim()
	port := sim.Port()
	d := New(Config{
		Bus:   port.Bus,
		CS:    port.CS,
		DC:    port.DC,
		RST:   port.RST,
		Busy:  port.Busy,
		Sleep: func(time.Duration) {},
	})
	return d, sim
}

func TestDriverAgainstPanelSim(t *testing.T) {
	d, sim := newSimDriver()
	if err := d.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := d.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	base := bytes.Repeat([]byte{0xFF}, BufferSize)
	base[0] = 0x0F
	if err := d.DisplayBase(base); err != nil {
		t.Fatalf("DisplayBase: %v", err)
	}
	if !bytes.Equal(sim.Visible(), base) {
		t.Fatal("glass does not show the base frame")
	}
	if !bytes.Equal(sim.BaseFrame(), base) {
		t.Fatal("reference bank does not hold the base frame")
	}

	next := append([]byte(nil), base...)
	next[1] = 0x00
	if err := d.DisplayPartial(next); err != nil {
		t.Fatalf("DisplayPartial: %v", err)
	}
	if !bytes.Equal(sim.Visible(), next) {
		t.Fatal("glass does not show the partial frame")
	}

	full, partial, last := sim.Counts()
	if full != 2 || partial != 1 || last != hal.RefreshPartial {
		t.Fatalf("Counts() = %d, %d, %#x", full, partial, last)
	}

	if err := d.Sleep(); err != nil {
		t.Fatalf("Sleep: %v", err)
	}
	if !sim.Asleep() {
		t.Fatal("controller not in deep sleep")
	}
	if err := d.Init(); err != nil {
		t.Fatalf("re-Init: %v", err)
	}
	if sim.Asleep() {
		t.Fatal("reset did not wake the controller")
	}
}
