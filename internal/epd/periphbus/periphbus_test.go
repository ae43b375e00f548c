//go:build !tinygo

package periphbus

import (
	"bytes"
	"testing"
	"time"

	"periph.io/x/periph/conn"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpiotest"
	"periph.io/x/periph/conn/spi"

	"tigermeter/internal/epd"
)

// recordConn is an spi.Conn that keeps every write and the DC level it was
// clocked out with.
type recordConn struct {
	dc     *gpiotest.Pin
	writes [][]byte
	cmds   []bool
}

func (c *recordConn) String() string               { return "record" }
func (c *recordConn) Duplex() conn.Duplex          { return conn.Full }
func (c *recordConn) TxPackets([]spi.Packet) error { return nil }

func (c *recordConn) Tx(w, r []byte) error {
	c.writes = append(c.writes, append([]byte(nil), w...))
	if c.dc != nil {
		c.cmds = append(c.cmds, c.dc.Read() == gpio.Low)
	}
	for i := range r {
		r[i] = ^w[i]
	}
	return nil
}

func testBus() (*Bus, *recordConn, *gpiotest.Pin) {
	dc := &gpiotest.Pin{N: "GPIO25", Num: 25}
	rst := &gpiotest.Pin{N: "GPIO17", Num: 17}
	busy := &gpiotest.Pin{N: "GPIO24", Num: 24, L: gpio.Low}
	rc := &recordConn{dc: dc}
	return &Bus{conn: rc, cs: nopPin{}, dc: dc, rst: rst, busy: busy}, rc, rst
}

func TestTxChunksLongWrites(t *testing.T) {
	b, rc, _ := testBus()
	buf := bytes.Repeat([]byte{0xA5}, 2*maxChunk+100)
	if err := b.Tx(buf, nil); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	want := []int{maxChunk, maxChunk, 100}
	if len(rc.writes) != len(want) {
		t.Fatalf("writes = %d, want %d", len(rc.writes), len(want))
	}
	for i, n := range want {
		if len(rc.writes[i]) != n {
			t.Fatalf("write %d = %d bytes, want %d", i, len(rc.writes[i]), n)
		}
	}
}

func TestTxPadsShortRead(t *testing.T) {
	b, _, _ := testBus()
	r := make([]byte, 1)
	if err := b.Tx([]byte{0x0F, 0x01}, r); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	if r[0] != 0xF0 {
		t.Fatalf("r = %#x, want 0xf0", r[0])
	}
	got, err := b.Transfer(0x3C)
	if err != nil || got != 0xC3 {
		t.Fatalf("Transfer = %#x, %v", got, err)
	}
}

func TestConfigDrivesPanel(t *testing.T) {
	b, rc, rst := testBus()
	cfg := b.Config()
	cfg.Sleep = func(time.Duration) {}
	drv := epd.New(cfg)
	if err := drv.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if drv.State() != epd.StateReady {
		t.Fatalf("state = %v", drv.State())
	}
	if rst.L != gpio.High {
		t.Fatal("RST left asserted after reset")
	}
	if len(rc.writes) == 0 || !rc.cmds[0] || !bytes.Equal(rc.writes[0], []byte{0x12}) {
		t.Fatalf("first write = %x (cmd=%v), want soft reset", rc.writes[0], rc.cmds[0])
	}
	// Parameters follow with DC released.
	if rc.cmds[2] {
		t.Fatalf("write 2 %x clocked as a command", rc.writes[2])
	}
}
