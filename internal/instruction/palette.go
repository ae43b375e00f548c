package instruction

// RGB is a logical LED color, 0..255 per channel.
type RGB struct {
	R, G, B uint8
}

// Off is the dark LED.
var Off = RGB{}

var palette = map[Color]RGB{
	ColorBlue:   {0, 0, 255},
	ColorGreen:  {0, 255, 0},
	ColorRed:    {255, 0, 0},
	ColorYellow: {255, 255, 0},
	ColorPurple: {255, 0, 255},
}

// RainbowCycle is the color sequence used for the rainbow tag and demo mode.
var RainbowCycle = []RGB{
	palette[ColorPurple],
	palette[ColorRed],
	palette[ColorGreen],
	palette[ColorYellow],
	palette[ColorBlue],
}

// RGB returns the base color for c. Rainbow has no single color and
// reports its first step.
func (c Color) RGB() RGB {
	if v, ok := palette[c]; ok {
		return v
	}
	return RainbowCycle[0]
}

// Animated reports whether the color is an animation rather than a level.
func (c Color) Animated() bool { return c == ColorRainbow }

// Level is the PWM scale for a brightness tag.
func (b Brightness) Level() uint8 {
	switch b {
	case BrightnessOff:
		return 0
	case BrightnessLow:
		return 32
	case BrightnessHigh:
		return 255
	default:
		return 110
	}
}

// Scale applies a brightness level to a color.
func (c RGB) Scale(level uint8) RGB {
	s := func(v uint8) uint8 { return uint8(uint16(v) * uint16(level) / 255) }
	return RGB{s(c.R), s(c.G), s(c.B)}
}

// LED returns the static LED output for the instruction.
func (in Instruction) LED() RGB {
	return in.LEDColor.RGB().Scale(in.LEDBrightness.Level())
}
