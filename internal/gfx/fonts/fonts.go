// Package fonts is the index-addressed font catalog used by the text engine.
//
// Faces are rasterized on first use from the TrueType blobs compiled into
// the binary (Go Mono for body sizes, Go Bold for headline sizes). Both
// cover Latin-1 and Cyrillic. Glyphs are thresholded to 1bpp and cached.
package fonts

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
	"tinygo.org/x/drivers"
	"tinygo.org/x/tinyfont"
)

// Sizes lists the pixel heights of the catalog, by index.
var Sizes = [...]int{12, 14, 16, 20, 24, 28, 32, 40}

// Accepted request range; callers clamp to it before asking.
const (
	MinSize = 8
	MaxSize = 40
)

// headlineIndex is the first catalog entry rendered from the bold face.
const headlineIndex = 4

// Index maps a requested pixel size to a catalog entry. Requests between two
// entries round to the nearest that keeps the text legible.
func Index(px int) int {
	switch {
	case px <= 12:
		return 0
	case px <= 14:
		return 1
	case px <= 17:
		return 2
	case px <= 22:
		return 3
	case px <= 26:
		return 4
	case px <= 30:
		return 5
	case px <= 36:
		return 6
	default:
		return 7
	}
}

// Bucket returns the catalog size used for a request of px pixels.
func Bucket(px int) int { return Sizes[Index(px)] }

var catalog struct {
	mu    sync.Mutex
	faces [len(Sizes)]*Face
	err   [len(Sizes)]error
}

// ForSize returns the face for a requested pixel size.
func ForSize(px int) (*Face, error) { return ByIndex(Index(px)) }

// ByIndex returns the face at catalog index i.
func ByIndex(i int) (*Face, error) {
	if i < 0 || i >= len(Sizes) {
		return nil, fmt.Errorf("fonts: index %d out of range", i)
	}
	catalog.mu.Lock()
	defer catalog.mu.Unlock()
	if catalog.faces[i] == nil && catalog.err[i] == nil {
		ttf := gomono.TTF
		if i >= headlineIndex {
			ttf = gobold.TTF
		}
		catalog.faces[i], catalog.err[i] = newFace(ttf, Sizes[i])
	}
	return catalog.faces[i], catalog.err[i]
}

// Face is a rasterized font at one pixel size. It implements
// tinyfont.Fonter and is safe for concurrent use.
type Face struct {
	px      int
	ascent  int
	descent int

	mu     sync.Mutex
	sf     *opentype.Font
	buf    sfnt.Buffer
	src    font.Face
	glyphs map[rune]*Glyph
}

func newFace(ttf []byte, px int) (*Face, error) {
	f, err := opentype.Parse(ttf)
	if err != nil {
		return nil, fmt.Errorf("fonts: parse: %w", err)
	}

	// Fit ascent+descent to the requested pixel height.
	size := float64(px)
	probe, err := opentype.NewFace(f, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return nil, fmt.Errorf("fonts: face %dpx: %w", px, err)
	}
	m := probe.Metrics()
	if h := (m.Ascent + m.Descent).Ceil(); h > 0 {
		size = size * float64(px) / float64(h)
	}
	_ = probe.Close()

	src, err := opentype.NewFace(f, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return nil, fmt.Errorf("fonts: face %dpx: %w", px, err)
	}
	m = src.Metrics()
	return &Face{
		px:      px,
		ascent:  m.Ascent.Ceil(),
		descent: m.Descent.Ceil(),
		sf:      f,
		src:     src,
		glyphs:  make(map[rune]*Glyph),
	}, nil
}

// Size is the catalog pixel size.
func (f *Face) Size() int { return f.px }

// Ascent is the distance from the top of the line box to the baseline.
func (f *Face) Ascent() int { return f.ascent }

// Height is the line box height.
func (f *Face) Height() int { return f.ascent + f.descent }

func (f *Face) GetYAdvance() uint8 { return uint8(f.Height()) }

func (f *Face) GetGlyph(r rune) tinyfont.Glypher {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.glyphs[r]; ok {
		return g
	}
	g := f.rasterize(r)
	f.glyphs[r] = g
	return g
}

func (f *Face) rasterize(r rune) *Glyph {
	idx, err := f.sf.GlyphIndex(&f.buf, r)
	var (
		dr      image.Rectangle
		mask    image.Image
		maskp   image.Point
		advance fixed.Int26_6
		ok      bool
	)
	if err == nil && idx != 0 {
		dr, mask, maskp, advance, ok = f.src.Glyph(fixed.P(0, 0), r)
	}
	if !ok {
		if r != '?' {
			return f.rasterize('?')
		}
		return &Glyph{info: tinyfont.GlyphInfo{Rune: r}}
	}

	w, h := dr.Dx(), dr.Dy()
	// Ink never leaves [pen, pen+XAdvance), so the advance sum of a line
	// bounds everything drawn for it.
	off, adv := dr.Min.X, advance.Round()
	if off < 0 {
		adv -= off
		off = 0
	}
	if off+w > adv {
		adv = off + w
	}
	g := &Glyph{
		info: tinyfont.GlyphInfo{
			Rune:     r,
			Width:    uint8(w),
			Height:   uint8(h),
			XAdvance: uint8(adv),
			XOffset:  int8(off),
			YOffset:  int8(dr.Min.Y),
		},
		stride: (w + 7) / 8,
	}
	// The mask is shared by the source face, so it is copied out here.
	g.bits = make([]byte, g.stride*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			_, _, _, a := mask.At(maskp.X+x, maskp.Y+y).RGBA()
			if a >= 0x8000 {
				g.bits[y*g.stride+x/8] |= 0x80 >> uint(x%8)
			}
		}
	}
	return g
}

// Glyph is a 1bpp glyph bitmap anchored at the pen position on the baseline.
type Glyph struct {
	info   tinyfont.GlyphInfo
	stride int
	bits   []byte
}

func (g *Glyph) Info() tinyfont.GlyphInfo { return g.info }

func (g *Glyph) Draw(d drivers.Displayer, x, y int16, c color.RGBA) {
	x0 := x + int16(g.info.XOffset)
	y0 := y + int16(g.info.YOffset)
	for row := 0; row < int(g.info.Height); row++ {
		line := g.bits[row*g.stride:]
		for col := 0; col < int(g.info.Width); col++ {
			if line[col/8]&(0x80>>uint(col%8)) == 0 {
				continue
			}
			d.SetPixel(x0+int16(col), y0+int16(row), c)
		}
	}
}
