//go:build tinygo && baremetal && bootdebug

package app

import (
	"machine"
	"sync"
	"time"

	"tigermeter/hal"
)

var (
	bootDiagMu   sync.Mutex
	bootDiagStep string
	bootDiagOnce sync.Once
)

// bootStep records the wiring stage and, on the first call, starts a
// goroutine repeating it on the UART and USB CDC until the supervisor runs.
func bootStep(h hal.HAL, step string) {
	bootDiagMu.Lock()
	bootDiagStep = step
	bootDiagMu.Unlock()
	bootDiagOnce.Do(func() { go bootDiagLoop(h.Logger()) })
}

func bootDiagLoop(l hal.Logger) {
	for {
		bootDiagMu.Lock()
		step := bootDiagStep
		bootDiagMu.Unlock()
		if step == "running" {
			return
		}
		line := "bootdiag: " + step
		l.WriteLineString(line)

		// Catch early boot without a UART adapter.
		if usb := machine.USBCDC; usb != nil {
			_, _ = usb.Write([]byte(line + "\r\n"))
		}
		time.Sleep(250 * time.Millisecond)
	}
}
