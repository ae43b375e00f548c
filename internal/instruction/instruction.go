// Package instruction holds the server-authored rendering record and the
// rules that normalise it on receipt.
package instruction

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Align is a text alignment tag.
type Align string

const (
	AlignLeft   Align = "left"
	AlignCenter Align = "center"
	AlignRight  Align = "right"
)

// Color is an LED palette tag.
type Color string

const (
	ColorBlue    Color = "blue"
	ColorGreen   Color = "green"
	ColorRed     Color = "red"
	ColorYellow  Color = "yellow"
	ColorPurple  Color = "purple"
	ColorRainbow Color = "rainbow"
)

// Brightness is an LED brightness tag.
type Brightness string

const (
	BrightnessOff  Brightness = "off"
	BrightnessLow  Brightness = "low"
	BrightnessMid  Brightness = "mid"
	BrightnessHigh Brightness = "high"
)

// Limits applied on receipt.
const (
	MinFontSize            = 10
	MaxFontSize            = 40
	MinRefreshInterval     = 5
	DefaultRefreshInterval = 30
	MinTimezoneOffset      = -12
	MaxTimezoneOffset      = 14
)

// Instruction is one atomic rendering record. Values are always normalised:
// Decode and Normalize guarantee font sizes in [MinFontSize, MaxFontSize],
// known alignment/palette tags and RefreshInterval >= MinRefreshInterval.
type Instruction struct {
	Symbol         string `json:"symbol"`
	SymbolFontSize int    `json:"symbolFontSize"`

	TopLine         string `json:"topLine"`
	TopLineFontSize int    `json:"topLineFontSize"`
	TopLineAlign    Align  `json:"topLineAlign"`
	TopLineShowDate bool   `json:"topLineShowDate"`

	MainText         string `json:"mainText"`
	MainTextFontSize int    `json:"mainTextFontSize"`
	MainTextAlign    Align  `json:"mainTextAlign"`

	BottomLine         string `json:"bottomLine"`
	BottomLineFontSize int    `json:"bottomLineFontSize"`
	BottomLineAlign    Align  `json:"bottomLineAlign"`

	LEDColor      Color      `json:"ledColor"`
	LEDBrightness Brightness `json:"ledBrightness"`

	Beep       bool `json:"beep,omitempty"`
	FlashCount int  `json:"flashCount,omitempty"`

	RefreshInterval int     `json:"refreshInterval"`
	TimezoneOffset  float64 `json:"timezoneOffset"`
}

// Default returns the record used for fields the server leaves out.
func Default() Instruction {
	return Instruction{
		SymbolFontSize:     24,
		TopLineFontSize:    16,
		TopLineAlign:       AlignCenter,
		MainTextFontSize:   32,
		MainTextAlign:      AlignCenter,
		BottomLineFontSize: 16,
		BottomLineAlign:    AlignCenter,
		LEDColor:           ColorGreen,
		LEDBrightness:      BrightnessMid,
		RefreshInterval:    DefaultRefreshInterval,
	}
}

// wire mirrors Instruction with optional fields so absent and zero differ.
// Numbers are decoded as floats: the server may send 24.0 for 24.
type wire struct {
	Symbol             *string  `json:"symbol"`
	SymbolFontSize     *float64 `json:"symbolFontSize"`
	TopLine            *string  `json:"topLine"`
	TopLineFontSize    *float64 `json:"topLineFontSize"`
	TopLineAlign       *string  `json:"topLineAlign"`
	TopLineShowDate    *bool    `json:"topLineShowDate"`
	MainText           *string  `json:"mainText"`
	MainTextFontSize   *float64 `json:"mainTextFontSize"`
	MainTextAlign      *string  `json:"mainTextAlign"`
	BottomLine         *string  `json:"bottomLine"`
	BottomLineFontSize *float64 `json:"bottomLineFontSize"`
	BottomLineAlign    *string  `json:"bottomLineAlign"`
	LEDColor           *string  `json:"ledColor"`
	LEDBrightness      *string  `json:"ledBrightness"`
	Beep               *bool    `json:"beep"`
	FlashCount         *float64 `json:"flashCount"`
	RefreshInterval    *float64 `json:"refreshInterval"`
	TimezoneOffset     *float64 `json:"timezoneOffset"`
}

// Decode parses a JSON instruction object, fills defaults and normalises it.
func Decode(raw []byte) (Instruction, error) {
	var w wire
	if err := json.Unmarshal(raw, &w); err != nil {
		return Instruction{}, fmt.Errorf("instruction: %w", err)
	}

	in := Default()
	str := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	num := func(dst *int, src *float64) {
		if src != nil && !math.IsNaN(*src) && !math.IsInf(*src, 0) {
			*dst = int(*src)
		}
	}

	str(&in.Symbol, w.Symbol)
	num(&in.SymbolFontSize, w.SymbolFontSize)
	str(&in.TopLine, w.TopLine)
	num(&in.TopLineFontSize, w.TopLineFontSize)
	if w.TopLineAlign != nil {
		in.TopLineAlign = Align(*w.TopLineAlign)
	}
	if w.TopLineShowDate != nil {
		in.TopLineShowDate = *w.TopLineShowDate
	}
	str(&in.MainText, w.MainText)
	num(&in.MainTextFontSize, w.MainTextFontSize)
	if w.MainTextAlign != nil {
		in.MainTextAlign = Align(*w.MainTextAlign)
	}
	str(&in.BottomLine, w.BottomLine)
	num(&in.BottomLineFontSize, w.BottomLineFontSize)
	if w.BottomLineAlign != nil {
		in.BottomLineAlign = Align(*w.BottomLineAlign)
	}
	if w.LEDColor != nil {
		in.LEDColor = Color(*w.LEDColor)
	}
	if w.LEDBrightness != nil {
		in.LEDBrightness = Brightness(*w.LEDBrightness)
	}
	if w.Beep != nil {
		in.Beep = *w.Beep
	}
	num(&in.FlashCount, w.FlashCount)
	num(&in.RefreshInterval, w.RefreshInterval)
	if w.TimezoneOffset != nil && !math.IsNaN(*w.TimezoneOffset) {
		in.TimezoneOffset = *w.TimezoneOffset
	}

	in.Normalize()
	return in, nil
}

// Normalize clamps every field into its accepted range. Unknown tags fall
// back to their defaults.
func (in *Instruction) Normalize() {
	in.SymbolFontSize = ClampFontSize(in.SymbolFontSize)
	in.TopLineFontSize = ClampFontSize(in.TopLineFontSize)
	in.MainTextFontSize = ClampFontSize(in.MainTextFontSize)
	in.BottomLineFontSize = ClampFontSize(in.BottomLineFontSize)

	in.TopLineAlign = normAlign(in.TopLineAlign)
	in.MainTextAlign = normAlign(in.MainTextAlign)
	in.BottomLineAlign = normAlign(in.BottomLineAlign)

	switch c := Color(strings.ToLower(string(in.LEDColor))); c {
	case ColorBlue, ColorGreen, ColorRed, ColorYellow, ColorPurple, ColorRainbow:
		in.LEDColor = c
	default:
		in.LEDColor = ColorGreen
	}
	switch b := Brightness(strings.ToLower(string(in.LEDBrightness))); b {
	case BrightnessOff, BrightnessLow, BrightnessMid, BrightnessHigh:
		in.LEDBrightness = b
	default:
		in.LEDBrightness = BrightnessMid
	}

	if in.FlashCount < 0 {
		in.FlashCount = 0
	}
	if in.RefreshInterval < MinRefreshInterval {
		in.RefreshInterval = MinRefreshInterval
	}
	if in.TimezoneOffset < MinTimezoneOffset {
		in.TimezoneOffset = MinTimezoneOffset
	}
	if in.TimezoneOffset > MaxTimezoneOffset {
		in.TimezoneOffset = MaxTimezoneOffset
	}
}

// ClampFontSize bounds a requested font size to [MinFontSize, MaxFontSize].
func ClampFontSize(px int) int {
	if px < MinFontSize {
		return MinFontSize
	}
	if px > MaxFontSize {
		return MaxFontSize
	}
	return px
}

func normAlign(a Align) Align {
	switch v := Align(strings.ToLower(string(a))); v {
	case AlignLeft, AlignRight, AlignCenter:
		return v
	default:
		return AlignCenter
	}
}

// WithoutOneShots returns a copy with beep and flash cleared.
func (in Instruction) WithoutOneShots() Instruction {
	in.Beep = false
	in.FlashCount = 0
	return in
}
