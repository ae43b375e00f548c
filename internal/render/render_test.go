package render

import (
	"bytes"
	"testing"
	"time"

	"tigermeter/internal/gfx"
	"tigermeter/internal/instruction"
)

func scenario() instruction.Instruction {
	in := instruction.Default()
	in.Symbol = "BTC"
	in.MainText = "$67,500"
	in.TopLine = "+2.4%"
	in.BottomLine = "1d"
	in.TimezoneOffset = 3
	return in
}

func inkIn(fb *gfx.Framebuffer, x, y, w, h int) int {
	n := 0
	for yy := y; yy < y+h; yy++ {
		for xx := x; xx < x+w; xx++ {
			if fb.Black(xx, yy) {
				n++
			}
		}
	}
	return n
}

func TestComposeLayout(t *testing.T) {
	fb := gfx.New()
	fx := Compose(fb, scenario(), time.Time{})

	band := inkIn(fb, 0, 0, BandWidth, gfx.Height)
	if band == BandWidth*gfx.Height {
		t.Fatal("symbol not drawn in the band")
	}
	if band < BandWidth*gfx.Height*3/4 {
		t.Fatalf("band mostly white (%d black pixels)", band)
	}
	if inkIn(fb, RightX, 0, RightWidth, 30) == 0 {
		t.Fatal("top line missing")
	}
	if inkIn(fb, RightX, 40, RightWidth, 40) == 0 {
		t.Fatal("main text missing")
	}
	if inkIn(fb, RightX, gfx.Height-30, RightWidth, 30) == 0 {
		t.Fatal("bottom line missing")
	}

	if fx.LED != (instruction.RGB{G: 110}) || fx.Beep || fx.FlashCount != 0 || fx.Rainbow {
		t.Fatalf("effects = %+v", fx)
	}
}

func TestComposeIsDeterministic(t *testing.T) {
	now := time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)
	in := scenario()
	in.TopLineShowDate = true

	a, b := gfx.New(), gfx.New()
	Compose(a, in, now)
	b.FillRect(200, 100, 50, 50, true)
	Compose(b, in, now)
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Fatal("same instruction and clock produced different frames")
	}

	Compose(b, in, now.Add(time.Minute))
	if bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Fatal("date mode ignored the clock")
	}
}

func TestDateModeIgnoresTopLineText(t *testing.T) {
	now := time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)
	withText := scenario()
	withText.TopLineShowDate = true
	withText.TopLine = "HH:MM DD MON"
	blank := withText
	blank.TopLine = ""

	a, b := gfx.New(), gfx.New()
	Compose(a, withText, now)
	Compose(b, blank, now)
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Fatal("stale topLine text leaked into date mode")
	}
}

func TestComposeAlignment(t *testing.T) {
	in := instruction.Default()
	in.MainText = "X"
	in.MainTextAlign = instruction.AlignLeft

	fb := gfx.New()
	Compose(fb, in, time.Time{})
	left := inkIn(fb, RightX, 0, RightWidth/2, gfx.Height)

	in.MainTextAlign = instruction.AlignRight
	Compose(fb, in, time.Time{})
	right := inkIn(fb, RightX+RightWidth/2, 0, RightWidth/2, gfx.Height)

	if left == 0 || right == 0 {
		t.Fatalf("left ink %d, right ink %d", left, right)
	}
}

func TestComposeEffects(t *testing.T) {
	in := instruction.Default()
	in.Beep = true
	in.FlashCount = 3
	in.LEDColor = instruction.ColorRainbow
	fx := Compose(gfx.New(), in, time.Time{})
	if !fx.Beep || fx.FlashCount != 3 || !fx.Rainbow {
		t.Fatalf("effects = %+v", fx)
	}
}

func TestFormatDate(t *testing.T) {
	now := time.Date(2026, 10, 17, 22, 45, 0, 0, time.UTC)
	tests := []struct {
		name   string
		offset float64
		want   string
	}{
		{"utc", 0, "22:45 17 OCT"},
		{"moscow crosses midnight", 3, "01:45 18 OCT"},
		{"half hour", 5.5, "04:15 18 OCT"},
		{"negative", -5, "17:45 17 OCT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatDate(now, tt.offset); got != tt.want {
				t.Fatalf("FormatDate() = %q, want %q", got, tt.want)
			}
		})
	}
	if got := FormatDate(time.Unix(5, 0), 3); got != "--:--" {
		t.Fatalf("unsynced clock = %q", got)
	}
}

func TestScreensDraw(t *testing.T) {
	screens := []Screen{
		WiFiSetup("tigermeter-AB12", "192.168.4.1"),
		ClaimCode("123456"),
		Attached(),
		Offline("HTTP 503"),
		Reprovision(),
		FactoryReset(),
		Updating("v29"),
		UpdateFailed("Not enough space"),
	}
	for _, s := range screens {
		fb := gfx.New()
		s.Draw(fb)
		if inkIn(fb, RightX, 0, RightWidth, gfx.Height) == 0 {
			t.Fatalf("screen %+v drew nothing on the right", s)
		}
	}

	fb := gfx.New()
	Logo(fb)
	if inkIn(fb, 0, 0, gfx.Width, gfx.Height) == 0 {
		t.Fatal("logo drew nothing")
	}
}
