package device

import (
	"time"

	"tigermeter/hal"
	"tigermeter/internal/instruction"
)

// Beep tones.
func beepPositive(b hal.Buzzer) {
	b.Tone(600, 25*time.Millisecond)
	b.Tone(1400, 50*time.Millisecond)
}

func beepNegative(b hal.Buzzer) {
	b.Tone(1400, 25*time.Millisecond)
	b.Tone(600, 50*time.Millisecond)
}

const flashPeriod = 100 * time.Millisecond

// animator cycles the LED through the rainbow palette on its own
// goroutine. While it runs it is the only LED writer.
type animator struct {
	led  hal.RGBLED
	step time.Duration
	stop chan struct{}
	done chan struct{}
}

func (a *animator) running() bool { return a.stop != nil }

func (a *animator) start(level uint8) {
	a.halt()
	a.stop = make(chan struct{})
	a.done = make(chan struct{})
	go a.run(level, a.stop, a.done)
}

// halt stops the goroutine and waits until it no longer touches the LED.
func (a *animator) halt() {
	if a.stop == nil {
		return
	}
	close(a.stop)
	<-a.done
	a.stop, a.done = nil, nil
}

func (a *animator) run(level uint8, stop, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(a.step)
	defer t.Stop()
	for i := 0; ; i++ {
		c := instruction.RainbowCycle[i%len(instruction.RainbowCycle)].Scale(level)
		a.led.SetRGB(c.R, c.G, c.B)
		select {
		case <-stop:
			return
		case <-t.C:
		}
	}
}
