//go:build !tinygo

// Package periphbus wires the panel driver to a Linux SBC through periph.io
// (spidev plus sysfs/memory-mapped GPIO).
package periphbus

import (
	"fmt"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"

	"tigermeter/internal/epd"
)

// Pins uses BCM numbering. CS < 0 leaves chip select to the spidev CE line.
type Pins struct {
	CS   int
	DC   int
	RST  int
	Busy int
}

// DefaultPins matches the usual Raspberry Pi e-paper HAT wiring.
var DefaultPins = Pins{CS: -1, DC: 25, RST: 17, Busy: 24}

// Bus is an open SPI connection plus control lines.
type Bus struct {
	port spi.PortCloser
	conn spi.Conn
	cs   epd.Pin
	dc   gpio.PinOut
	rst  gpio.PinOut
	busy gpio.PinIn
}

// Open initialises periph, opens the SPI port by name ("" selects the first
// one) and claims the GPIO lines.
func Open(portName string, pins Pins) (*Bus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periphbus: host init: %w", err)
	}
	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("periphbus: open spi %q: %w", portName, err)
	}
	conn, err := port.Connect(4*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("periphbus: connect spi: %w", err)
	}

	b := &Bus{port: port, conn: conn, cs: nopPin{}}
	out := func(num int, level gpio.Level) (gpio.PinOut, error) {
		p := gpioreg.ByName(fmt.Sprintf("GPIO%d", num))
		if p == nil {
			return nil, fmt.Errorf("periphbus: gpio %d not found", num)
		}
		if err := p.Out(level); err != nil {
			return nil, fmt.Errorf("periphbus: gpio %d out: %w", num, err)
		}
		return p, nil
	}

	if pins.CS >= 0 {
		cs, err := out(pins.CS, gpio.High)
		if err != nil {
			_ = port.Close()
			return nil, err
		}
		b.cs = outPin{cs}
	}
	if b.dc, err = out(pins.DC, gpio.High); err != nil {
		_ = port.Close()
		return nil, err
	}
	if b.rst, err = out(pins.RST, gpio.High); err != nil {
		_ = port.Close()
		return nil, err
	}
	busy := gpioreg.ByName(fmt.Sprintf("GPIO%d", pins.Busy))
	if busy == nil {
		_ = port.Close()
		return nil, fmt.Errorf("periphbus: gpio %d not found", pins.Busy)
	}
	if err := busy.In(gpio.PullDown, gpio.NoEdge); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("periphbus: gpio %d in: %w", pins.Busy, err)
	}
	b.busy = busy
	return b, nil
}

// Config returns a driver configuration over this bus.
func (b *Bus) Config() epd.Config {
	return epd.Config{
		Bus:   b,
		CS:    b.cs,
		DC:    outPin{b.dc},
		RST:   outPin{b.rst},
		Busy:  inPin{b.busy},
		Sleep: time.Sleep,
	}
}

func (b *Bus) Close() error { return b.port.Close() }

// Tx implements drivers.SPI.
func (b *Bus) Tx(w, r []byte) error {
	if r != nil && len(r) != len(w) {
		// spidev needs equal lengths for full duplex.
		rx := make([]byte, len(w))
		if err := b.conn.Tx(w, rx); err != nil {
			return err
		}
		copy(r, rx)
		return nil
	}
	if r != nil {
		return b.conn.Tx(w, r)
	}
	// spidev rejects transfers above its buffer size (4 KiB by default).
	for len(w) > 0 {
		n := len(w)
		if n > maxChunk {
			n = maxChunk
		}
		if err := b.conn.Tx(w[:n], nil); err != nil {
			return err
		}
		w = w[n:]
	}
	return nil
}

const maxChunk = 4096

// Transfer implements drivers.SPI.
func (b *Bus) Transfer(v byte) (byte, error) {
	var rx [1]byte
	if err := b.conn.Tx([]byte{v}, rx[:]); err != nil {
		return 0, err
	}
	return rx[0], nil
}

type outPin struct{ p gpio.PinOut }

func (o outPin) High() { _ = o.p.Out(gpio.High) }
func (o outPin) Low()  { _ = o.p.Out(gpio.Low) }

type inPin struct{ p gpio.PinIn }

func (i inPin) Get() bool { return i.p.Read() == gpio.High }

type nopPin struct{}

func (nopPin) High() {}
func (nopPin) Low()  {}
