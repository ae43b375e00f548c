//go:build !tinygo

package hal

import "testing"

func sendCmd(p PanelPort, cmd byte, data ...byte) {
	p.DC.Low()
	p.Bus.Tx([]byte{cmd}, nil)
	p.DC.High()
	if len(data) > 0 {
		p.Bus.Tx(data, nil)
	}
}

func TestPanelSimShowsBankAOnActivation(t *testing.T) {
	sim := NewPanelSim()
	port := sim.Port()

	frame := make([]byte, panelRAMBytes)
	for i := range frame {
		frame[i] = 0xFF
	}
	frame[0] = 0x00

	sendCmd(port, 0x24, frame...)
	if sim.Visible()[0] != 0xFF {
		t.Fatal("glass changed before activation")
	}
	sendCmd(port, 0x22, RefreshFull)
	sendCmd(port, 0x20)

	if got := sim.Visible()[0]; got != 0x00 {
		t.Fatalf("visible[0] = %#x, want 0x00", got)
	}
	full, partial, last := sim.Counts()
	if full != 1 || partial != 0 || last != RefreshFull {
		t.Fatalf("Counts() = %d, %d, %#x", full, partial, last)
	}
}

func TestPanelSimSleepIgnoresTraffic(t *testing.T) {
	sim := NewPanelSim()
	port := sim.Port()

	sendCmd(port, 0x10, 0x01)
	if !sim.Asleep() {
		t.Fatal("expected deep sleep")
	}
	sendCmd(port, 0x22, RefreshFull)
	sendCmd(port, 0x20)
	if full, _, _ := sim.Counts(); full != 0 {
		t.Fatal("activation accepted while asleep")
	}

	port.RST.Low()
	port.RST.High()
	if sim.Asleep() {
		t.Fatal("reset did not wake the controller")
	}
}

func TestLandscapeBlackRotation(t *testing.T) {
	native := make([]byte, panelRAMBytes)
	for i := range native {
		native[i] = 0xFF
	}
	// Landscape (0,0) is native (167,0): last bit of row 0.
	native[20] &^= 0x01
	if !LandscapeBlack(native, 0, 0) {
		t.Fatal("landscape (0,0) not black")
	}
	if LandscapeBlack(native, 1, 0) {
		t.Fatal("landscape (1,0) unexpectedly black")
	}
}

func TestHostPanelOverride(t *testing.T) {
	ext := NewPanelSim()
	port := ext.Port()
	h, err := NewHost(HostOptions{Panel: &port})
	if err != nil {
		t.Fatal(err)
	}
	sendCmd(h.Panel(), 0x22, RefreshFull)
	sendCmd(h.Panel(), 0x20)

	if full, _, _ := ext.Counts(); full != 1 {
		t.Fatalf("external panel full refreshes = %d, want 1", full)
	}
	if full, _, _ := h.PanelSim().Counts(); full != 0 {
		t.Fatalf("simulated panel full refreshes = %d, want 0", full)
	}
}
