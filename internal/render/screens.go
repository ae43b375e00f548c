package render

import (
	"tigermeter/internal/gfx"
)

// Screen is a fixed status layout: a band label and up to three rows.
// Sub is drawn gray.
type Screen struct {
	Band string
	Top  string
	Main string
	Sub  string
}

// Draw composes s onto fb.
func (s Screen) Draw(fb *gfx.Framebuffer) {
	fb.Clear()
	fb.FillRect(0, 0, BandWidth, gfx.Height, true)
	if s.Band != "" {
		fb.SetFontSize(32)
		y := (gfx.Height - fb.FontHeight()) / 2
		fb.DrawTextAligned(0, y, BandWidth, s.Band, gfx.AlignCenter, false)
	}
	if s.Top != "" {
		fb.SetFontSize(16)
		fb.DrawTextAligned(RightX, TopY, RightWidth, s.Top, gfx.AlignCenter, true)
	}
	if s.Main != "" {
		fb.SetFontSize(mainSize(fb, s.Main))
		y := MainCenterY - fb.FontHeight()/2
		fb.DrawTextAligned(RightX, y, RightWidth, s.Main, gfx.AlignCenter, true)
	}
	if s.Sub != "" {
		fb.SetFontSize(16)
		y := gfx.Height - fb.FontHeight() - BottomGap
		fb.DrawTextGray(fb.AlignedX(RightX, RightWidth, s.Sub, gfx.AlignCenter), y, s.Sub)
	}
}

// mainSize picks the largest headline size that fits the right region.
func mainSize(fb *gfx.Framebuffer, s string) int {
	for _, px := range []int{40, 32, 28, 24, 20} {
		fb.SetFontSize(px)
		if fb.TextWidth(s) <= RightWidth-2*gfx.TextPadding {
			return px
		}
	}
	return 16
}

// Logo is the boot screen: the product name across the whole frame.
func Logo(fb *gfx.Framebuffer) {
	fb.Clear()
	fb.SetFontSize(40)
	y := (gfx.Height - fb.FontHeight()) / 2
	fb.DrawTextAligned(0, y, gfx.Width, "TIGERMETER", gfx.AlignCenter, true)
}

// WiFiSetup asks the user to join the setup access point.
func WiFiSetup(apSSID, apIP string) Screen {
	return Screen{Band: "WiFi", Top: "Connect to", Main: apSSID, Sub: apIP}
}

// ClaimCode shows the code to enter in the app.
func ClaimCode(code string) Screen {
	return Screen{Band: "LINK", Top: "Claim code", Main: code, Sub: "enter in the app"}
}

// Attached confirms a successful claim.
func Attached() Screen {
	return Screen{Band: "OK", Main: "Attached", Sub: "waiting for data"}
}

// Offline is the error screen for transport failures.
func Offline(detail string) Screen {
	return Screen{Band: "!", Top: "offline", Main: "No connection", Sub: detail}
}

// Reprovision follows a revoked or invalid device secret.
func Reprovision() Screen {
	return Screen{Band: "!", Main: "Re-provision", Sub: "device access revoked"}
}

// FactoryReset confirms a server-commanded reset.
func FactoryReset() Screen {
	return Screen{Band: "RST", Main: "Factory reset", Sub: "restarting"}
}

// Updating is shown while a firmware image downloads.
func Updating(version string) Screen {
	return Screen{Band: "OTA", Top: "Updating", Main: version, Sub: "do not power off"}
}

// UpdateFailed reports an aborted firmware update.
func UpdateFailed(reason string) Screen {
	return Screen{Band: "OTA", Top: "Update failed", Main: reason}
}
