//go:build !tinygo && !cgo

package hal

import (
	"fmt"
	"time"
)

// hostBuzzer only logs when no audio backend is available.
type hostBuzzer struct {
	logger *hostLogger
}

func newHostBuzzer(logger *hostLogger, audible bool) *hostBuzzer {
	_ = audible
	return &hostBuzzer{logger: logger}
}

func (b *hostBuzzer) Tone(hz uint32, d time.Duration) {
	b.logger.WriteLineString(fmt.Sprintf("buzzer: %d Hz %s", hz, d))
	time.Sleep(d)
}
