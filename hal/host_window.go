//go:build !tinygo && cgo

package hal

import (
	"context"
	"image"
	"image/color"

	"tigermeter/internal/buildinfo"

	"github.com/hajimehoshi/ebiten/v2"
)

const (
	windowLEDStrip = 12
	windowScale    = 2
)

// RunWindow shows the simulated panel and LED in a desktop window while the
// firmware runs. It blocks until the window closes.
func RunWindow(ctx context.Context, boot Boot, opts HostOptions) error {
	opts.Audible = true
	h, err := NewHost(opts)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	fwErr := make(chan error, 1)
	go func() { fwErr <- RunFirmware(ctx, h, boot) }()

	g := &hostGame{h: h, fwErr: fwErr}
	ebiten.SetWindowTitle("TigerMeter (" + buildinfo.Short() + ")")
	ebiten.SetWindowSize(PanelNativeHeight*windowScale, (PanelNativeWidth+windowLEDStrip)*windowScale)
	ebiten.SetTPS(30)
	return ebiten.RunGame(g)
}

type hostGame struct {
	h     Host
	img   *image.RGBA
	fbImg *ebiten.Image
	fwErr chan error
}

func (g *hostGame) Update() error {
	select {
	case err := <-g.fwErr:
		if err != nil && err != context.Canceled {
			return err
		}
		return ebiten.Termination
	default:
	}
	return nil
}

func (g *hostGame) Draw(screen *ebiten.Image) {
	w, h := PanelNativeHeight, PanelNativeWidth+windowLEDStrip
	if g.img == nil {
		g.img = image.NewRGBA(image.Rect(0, 0, w, h))
		g.fbImg = ebiten.NewImage(w, h)
	}

	glass := g.h.PanelSim().Visible()
	paper := color.RGBA{0xE8, 0xE6, 0xDF, 0xFF}
	ink := color.RGBA{0x20, 0x20, 0x20, 0xFF}
	for y := 0; y < PanelNativeWidth; y++ {
		for x := 0; x < PanelNativeHeight; x++ {
			if LandscapeBlack(glass, x, y) {
				g.img.SetRGBA(x, y, ink)
			} else {
				g.img.SetRGBA(x, y, paper)
			}
		}
	}

	r, gg, b := g.h.HostLED().RGB()
	led := color.RGBA{r, gg, b, 0xFF}
	for y := PanelNativeWidth; y < h; y++ {
		for x := 0; x < w; x++ {
			g.img.SetRGBA(x, y, led)
		}
	}

	g.fbImg.WritePixels(g.img.Pix)
	screen.DrawImage(g.fbImg, nil)
}

func (g *hostGame) Layout(outsideWidth, outsideHeight int) (int, int) {
	return PanelNativeHeight, PanelNativeWidth + windowLEDStrip
}
