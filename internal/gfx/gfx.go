// Package gfx is the 1bpp framebuffer and text engine.
//
// Callers draw in landscape (384x168). Storage is the panel's native
// portrait layout (168x384, MSB-left, 1 = white) so the buffer can go to
// the panel driver as is.
package gfx

import (
	"image/color"

	"tinygo.org/x/drivers/pixel"
	"tinygo.org/x/tinyfont"

	"tigermeter/internal/epd"
	"tigermeter/internal/gfx/fonts"
)

const (
	Width  = epd.Height
	Height = epd.Width
)

// Align is a horizontal text alignment inside an area.
type Align uint8

const (
	AlignCenter Align = iota
	AlignLeft
	AlignRight
)

// TextPadding is the gap kept between left/right aligned text and the area edge.
const TextPadding = 5

var (
	black = color.RGBA{A: 0xFF}
	white = color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}
)

// Framebuffer is a landscape drawing surface. It is not safe for concurrent
// use; the composer is its only writer.
type Framebuffer struct {
	img  pixel.Image[pixel.Monochrome]
	face *fonts.Face
	ink  inkDisplay
}

// New returns a white framebuffer using the 16 px font.
func New() *Framebuffer {
	fb := &Framebuffer{img: pixel.NewImage[pixel.Monochrome](epd.Width, epd.Height)}
	fb.ink.fb = fb
	fb.Clear()
	f, err := fonts.ForSize(16)
	if err != nil {
		// The catalog is compiled in; failing to parse it is a build defect.
		panic(err)
	}
	fb.face = f
	return fb
}

// Bytes is the native-layout buffer. It aliases the framebuffer.
func (fb *Framebuffer) Bytes() []byte { return fb.img.RawBuffer() }

// Clear fills the frame with white.
func (fb *Framebuffer) Clear() { fb.img.FillSolidColor(pixel.Monochrome(true)) }

// SetPixel paints one landscape pixel. Out-of-range writes are dropped.
func (fb *Framebuffer) SetPixel(x, y int, isBlack bool) {
	if x < 0 || x >= Width || y < 0 || y >= Height {
		return
	}
	fb.img.Set(epd.Width-1-y, x, pixel.Monochrome(!isBlack))
}

// Black reports whether the landscape pixel (x, y) is black.
func (fb *Framebuffer) Black(x, y int) bool {
	if x < 0 || x >= Width || y < 0 || y >= Height {
		return false
	}
	return !bool(fb.img.Get(epd.Width-1-y, x))
}

func (fb *Framebuffer) FillRect(x, y, w, h int, isBlack bool) {
	for yy := y; yy < y+h; yy++ {
		for xx := x; xx < x+w; xx++ {
			fb.SetPixel(xx, yy, isBlack)
		}
	}
}

// DrawRect draws a one pixel outline.
func (fb *Framebuffer) DrawRect(x, y, w, h int, isBlack bool) {
	if w <= 0 || h <= 0 {
		return
	}
	fb.FillRect(x, y, w, 1, isBlack)
	fb.FillRect(x, y+h-1, w, 1, isBlack)
	fb.FillRect(x, y, 1, h, isBlack)
	fb.FillRect(x+w-1, y, 1, h, isBlack)
}

// DrawBitmap blits a row-major MSB-first bitmap where 0 bits are ink.
// White source pixels leave the frame untouched.
func (fb *Framebuffer) DrawBitmap(x, y int, bits []byte, w, h int, rotate180 bool) {
	stride := (w + 7) / 8
	if w <= 0 || h <= 0 || len(bits) < stride*h {
		return
	}
	for dy := 0; dy < h; dy++ {
		for dx := 0; dx < w; dx++ {
			sx, sy := dx, dy
			if rotate180 {
				sx, sy = w-1-dx, h-1-dy
			}
			if bits[sy*stride+sx/8]&(0x80>>uint(sx%8)) != 0 {
				continue
			}
			fb.SetPixel(x+dx, y+dy, true)
		}
	}
}

// SetFontSize selects the catalog face for a requested pixel size. The
// current face is kept if the catalog entry cannot be built.
func (fb *Framebuffer) SetFontSize(px int) {
	if px < fonts.MinSize {
		px = fonts.MinSize
	}
	if px > fonts.MaxSize {
		px = fonts.MaxSize
	}
	if f, err := fonts.ForSize(px); err == nil {
		fb.face = f
	}
}

// FontHeight is the line height of the current face.
func (fb *Framebuffer) FontHeight() int { return fb.face.Height() }

// FontAscent is the baseline offset of the current face.
func (fb *Framebuffer) FontAscent() int { return fb.face.Ascent() }

// TextWidth is the advance width of s in the current face. Every inked
// pixel of DrawText(x, y, s) lies in [x, x+TextWidth(s)).
func (fb *Framebuffer) TextWidth(s string) int {
	_, w := tinyfont.LineWidth(fb.face, s)
	return int(w)
}

// DrawText draws s with its line box top-left corner at (x, y).
func (fb *Framebuffer) DrawText(x, y int, s string, isBlack bool) {
	c := white
	if isBlack {
		c = black
	}
	tinyfont.WriteLine(&fb.ink, fb.face, int16(x), int16(y+fb.face.Ascent()), s, c)
}

// DrawTextGray draws s at 50% density: black text with a checkerboard of
// white punched over its box.
func (fb *Framebuffer) DrawTextGray(x, y int, s string) {
	fb.DrawText(x, y, s, true)
	w, h := fb.TextWidth(s), fb.FontHeight()
	for yy := y; yy < y+h; yy++ {
		for xx := x; xx < x+w; xx++ {
			if (xx+yy)%2 == 0 {
				fb.SetPixel(xx, yy, false)
			}
		}
	}
}

// AlignedX returns the text origin for s inside [x, x+areaWidth).
func (fb *Framebuffer) AlignedX(x, areaWidth int, s string, align Align) int {
	switch align {
	case AlignLeft:
		return x + TextPadding
	case AlignRight:
		return x + areaWidth - fb.TextWidth(s) - TextPadding
	default:
		return x + (areaWidth-fb.TextWidth(s))/2
	}
}

func (fb *Framebuffer) DrawTextAligned(x, y, areaWidth int, s string, align Align, isBlack bool) {
	fb.DrawText(fb.AlignedX(x, areaWidth, s, align), y, s, isBlack)
}

// inkDisplay adapts the framebuffer to drivers.Displayer for tinyfont.
type inkDisplay struct {
	fb *Framebuffer
}

func (d *inkDisplay) Size() (x, y int16) { return Width, Height }

func (d *inkDisplay) SetPixel(x, y int16, c color.RGBA) {
	d.fb.SetPixel(int(x), int(y), int(c.R)+int(c.G)+int(c.B) < 3*0x80)
}

func (d *inkDisplay) Display() error { return nil }
