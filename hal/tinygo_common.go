//go:build tinygo && baremetal

package hal

import (
	"machine"
	"time"
)

type tinyGoClock struct {
	boot time.Time
}

func newTinyGoClock() *tinyGoClock {
	return &tinyGoClock{boot: time.Now()}
}

// Now is the RTC time; it reads as 1970-based until the network sets it.
func (c *tinyGoClock) Now() time.Time        { return time.Now() }
func (c *tinyGoClock) Uptime() time.Duration { return time.Since(c.boot) }
func (c *tinyGoClock) Sleep(d time.Duration) { time.Sleep(d) }

type uartLogger struct {
	uart *machine.UART
}

func (l *uartLogger) WriteLineString(s string) {
	for i := 0; i < len(s); i++ {
		l.uart.WriteByte(s[i])
	}
	l.uart.WriteByte('\r')
	l.uart.WriteByte('\n')
}

func (l *uartLogger) WriteLineBytes(b []byte) {
	for i := 0; i < len(b); i++ {
		l.uart.WriteByte(b[i])
	}
	l.uart.WriteByte('\r')
	l.uart.WriteByte('\n')
}

type tinyGoSystem struct{}

func (tinyGoSystem) Reboot() { machine.CPUReset() }

// Battery sensing is not wired on this board revision.
func (tinyGoSystem) Battery() int { return -1 }

func outPin(p machine.Pin, level bool) machine.Pin {
	p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	p.Set(level)
	return p
}

func inPin(p machine.Pin) machine.Pin {
	p.Configure(machine.PinConfig{Mode: machine.PinInput})
	return p
}
