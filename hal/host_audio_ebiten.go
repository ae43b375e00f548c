//go:build !tinygo && cgo

package hal

import (
	"fmt"
	"sync"
	"time"

	"github.com/hajimehoshi/ebiten/v2/audio"
)

const hostAudioSampleRate = 44100

// hostBuzzer logs every tone and, when audible, renders it as a square wave
// through Ebiten's audio package.
type hostBuzzer struct {
	mu      sync.Mutex
	logger  *hostLogger
	audible bool
	ctx     *audio.Context
}

func newHostBuzzer(logger *hostLogger, audible bool) *hostBuzzer {
	return &hostBuzzer{logger: logger, audible: audible}
}

func (b *hostBuzzer) Tone(hz uint32, d time.Duration) {
	b.logger.WriteLineString(fmt.Sprintf("buzzer: %d Hz %s", hz, d))
	if !b.audible || hz == 0 || d <= 0 {
		time.Sleep(d)
		return
	}

	b.mu.Lock()
	if b.ctx == nil {
		b.ctx = audio.NewContext(hostAudioSampleRate)
	}
	ctx := b.ctx
	b.mu.Unlock()

	p := ctx.NewPlayerFromBytes(squareWave(hz, d))
	p.Play()
	time.Sleep(d)
	_ = p.Close()
}

// squareWave returns 16-bit little-endian stereo PCM.
func squareWave(hz uint32, d time.Duration) []byte {
	n := int(int64(hostAudioSampleRate) * int64(d) / int64(time.Second))
	half := hostAudioSampleRate / int(hz) / 2
	if half < 1 {
		half = 1
	}
	const amp = 6000
	out := make([]byte, n*4)
	for i := 0; i < n; i++ {
		s := int16(amp)
		if (i/half)%2 == 1 {
			s = -amp
		}
		j := i * 4
		out[j+0] = byte(s)
		out[j+1] = byte(s >> 8)
		out[j+2] = byte(s)
		out[j+3] = byte(s >> 8)
	}
	return out
}
