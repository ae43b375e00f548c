//go:build tinygo && baremetal

package hal

import (
	"machine"
	"time"

	"tinygo.org/x/drivers/tone"
)

type pwmDevice interface {
	Configure(config machine.PWMConfig) error
	Channel(pin machine.Pin) (uint8, error)
	SetPeriod(period uint64) error
	Top() uint32
	Set(channel uint8, value uint32)
}

func pwmForPin(pin machine.Pin) pwmDevice {
	slice, err := machine.PWMPeripheral(pin)
	if err != nil {
		return nil
	}
	switch slice {
	case 0:
		return machine.PWM0
	case 1:
		return machine.PWM1
	case 2:
		return machine.PWM2
	case 3:
		return machine.PWM3
	case 4:
		return machine.PWM4
	case 5:
		return machine.PWM5
	case 6:
		return machine.PWM6
	case 7:
		return machine.PWM7
	default:
		return nil
	}
}

// pwmBuzzer drives a passive buzzer with a square wave.
type pwmBuzzer struct {
	spk tone.Speaker
	ok  bool
}

func newPWMBuzzer(pin machine.Pin) *pwmBuzzer {
	pwm := pwmForPin(pin)
	if pwm == nil {
		return &pwmBuzzer{}
	}
	spk, err := tone.New(pwm, pin)
	if err != nil {
		return &pwmBuzzer{}
	}
	return &pwmBuzzer{spk: spk, ok: true}
}

func (b *pwmBuzzer) Tone(hz uint32, d time.Duration) {
	if !b.ok || hz == 0 {
		time.Sleep(d)
		return
	}
	b.spk.SetPeriod(uint64(1e9) / uint64(hz))
	time.Sleep(d)
	b.spk.Stop()
}

// ledPWMPeriod is ~1 kHz, well above visible flicker.
const ledPWMPeriod = 1e9 / 1000

type pwmChannel struct {
	pwm pwmDevice
	ch  uint8
}

func newPWMChannel(pin machine.Pin) pwmChannel {
	pwm := pwmForPin(pin)
	if pwm == nil {
		return pwmChannel{}
	}
	if err := pwm.Configure(machine.PWMConfig{Period: ledPWMPeriod}); err != nil {
		return pwmChannel{}
	}
	ch, err := pwm.Channel(pin)
	if err != nil {
		return pwmChannel{}
	}
	return pwmChannel{pwm: pwm, ch: ch}
}

// setActiveLow drives a common-anode cathode: level 0 keeps the pin high.
func (c pwmChannel) setActiveLow(level uint8) {
	if c.pwm == nil {
		return
	}
	top := c.pwm.Top()
	c.pwm.Set(c.ch, top-uint32(level)*top/255)
}

// pwmRGBLED is the common-anode RGB status LED.
type pwmRGBLED struct {
	r, g, b pwmChannel
}

func newPWMRGBLED(r, g, b machine.Pin) *pwmRGBLED {
	led := &pwmRGBLED{r: newPWMChannel(r), g: newPWMChannel(g), b: newPWMChannel(b)}
	led.SetRGB(0, 0, 0)
	return led
}

func (l *pwmRGBLED) SetRGB(r, g, b uint8) {
	l.r.setActiveLow(r)
	l.g.setActiveLow(g)
	l.b.setActiveLow(b)
}
