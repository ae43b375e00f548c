// Package render turns an instruction into a composed frame and the LED and
// buzzer side effects that go with it.
package render

import (
	"strings"
	"time"

	"github.com/ncruces/go-strftime"

	"tigermeter/internal/gfx"
	"tigermeter/internal/instruction"
)

// Layout of the landscape frame.
const (
	BandWidth   = 140
	RightX      = BandWidth
	RightWidth  = gfx.Width - BandWidth
	TopY        = 8
	MainCenterY = 60
	BottomGap   = 4
)

// DatePattern is the strftime pattern for the top line in date mode.
const DatePattern = "%H:%M %d %b"

// unsyncedBefore marks a wall clock that was never set from the network.
var unsyncedBefore = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// Effects are the one-shot and steady side effects of a compose.
type Effects struct {
	LED        instruction.RGB
	Rainbow    bool
	Beep       bool
	FlashCount int
}

// Compose draws in onto fb from scratch. now is the device wall clock and
// is only read in date mode. The result depends on nothing else.
func Compose(fb *gfx.Framebuffer, in instruction.Instruction, now time.Time) Effects {
	fb.Clear()

	fb.FillRect(0, 0, BandWidth, gfx.Height, true)
	if in.Symbol != "" {
		fb.SetFontSize(in.SymbolFontSize)
		y := (gfx.Height - fb.FontHeight()) / 2
		fb.DrawTextAligned(0, y, BandWidth, in.Symbol, gfx.AlignCenter, false)
	}

	top := in.TopLine
	if in.TopLineShowDate {
		// Admin tools keep sending the old topLine text in date mode.
		top = FormatDate(now, in.TimezoneOffset)
	}
	if top != "" {
		fb.SetFontSize(in.TopLineFontSize)
		fb.DrawTextAligned(RightX, TopY, RightWidth, top, align(in.TopLineAlign), true)
	}

	if in.MainText != "" {
		fb.SetFontSize(in.MainTextFontSize)
		y := MainCenterY - fb.FontHeight()/2
		fb.DrawTextAligned(RightX, y, RightWidth, in.MainText, align(in.MainTextAlign), true)
	}

	if in.BottomLine != "" {
		fb.SetFontSize(in.BottomLineFontSize)
		y := gfx.Height - fb.FontHeight() - BottomGap
		fb.DrawTextAligned(RightX, y, RightWidth, in.BottomLine, align(in.BottomLineAlign), true)
	}

	return Effects{
		LED:        in.LED(),
		Rainbow:    in.LEDColor.Animated() && in.LEDBrightness != instruction.BrightnessOff,
		Beep:       in.Beep,
		FlashCount: in.FlashCount,
	}
}

// FormatDate renders the date-mode top line: DatePattern with the month name
// upper-cased. offsetHours may be fractional.
func FormatDate(now time.Time, offsetHours float64) string {
	if now.Before(unsyncedBefore) {
		return "--:--"
	}
	local := now.UTC().Add(time.Duration(offsetHours * float64(time.Hour)))
	return strings.ToUpper(strftime.Format(DatePattern, local))
}

func align(a instruction.Align) gfx.Align {
	switch a {
	case instruction.AlignLeft:
		return gfx.AlignLeft
	case instruction.AlignRight:
		return gfx.AlignRight
	default:
		return gfx.AlignCenter
	}
}
