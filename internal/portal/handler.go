//go:build !tinygo

// Package portal is the local setup UI served on the device access point:
// Wi-Fi credentials, manual firmware upload, reset, demo mode, forced update
// and the recent log lines.
package portal

import (
	"errors"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tigermeter/internal/device"
	"tigermeter/internal/logs"
	"tigermeter/internal/ota"
)

// Device is the supervisor as seen from the portal.
type Device interface {
	Status() device.Snapshot
	Commands() *device.Commands
}

// Installer writes an uploaded image. *ota.Engine implements it.
type Installer interface {
	Install(r io.Reader, size int64, progress ota.Progress) (int64, error)
}

// Network reports the station link for the status page.
type Network interface {
	IP() string
}

// Options wires a Handler.
type Options struct {
	Device  Device
	OTA     Installer
	Ring    *logs.Ring
	Network Network
	APName  string
	APIP    string
	// WiFiTimeout bounds how long POST /wifi waits for the join result.
	WiFiTimeout time.Duration
	Log         *logs.Zap
}

var errTimeout = errors.New("portal: wifi join timed out")

// Handler serves the portal routes.
type Handler struct {
	opts  Options
	pages *template.Template
}

func NewHandler(opts Options) *Handler {
	if opts.WiFiTimeout <= 0 {
		opts.WiFiTimeout = 15 * time.Second
	}
	if opts.APIP == "" {
		opts.APIP = "192.168.4.1"
	}
	return &Handler{opts: opts, pages: parsePages()}
}

// InitRoutes builds the gin router.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.SetHTMLTemplate(h.pages)

	router.GET("/", h.root)
	router.GET("/status.json", h.status)
	router.POST("/wifi", h.saveWiFi)
	router.POST("/update", h.upload)
	router.POST("/reset", h.reset)
	router.POST("/demo-mode", h.toggleDemo)
	router.POST("/force-update", h.forceUpdate)
	router.GET("/logs", h.logPage)
	router.GET("/logs/ws", h.logStream)

	router.NoRoute(h.notFound)
	return router
}

type rootPage struct {
	APName   string
	WiFi     string
	Snapshot device.Snapshot
}

func (h *Handler) root(c *gin.Context) {
	c.HTML(http.StatusOK, "root", rootPage{
		APName:   h.opts.APName,
		WiFi:     h.wifiStatus(),
		Snapshot: h.opts.Device.Status(),
	})
}

func (h *Handler) wifiStatus() string {
	if h.opts.Network == nil {
		return "Not connected"
	}
	if ip := h.opts.Network.IP(); ip != "" {
		return "Connected (" + ip + ")"
	}
	return "Not connected"
}

func (h *Handler) status(c *gin.Context) {
	s := h.opts.Device.Status()
	c.JSON(http.StatusOK, gin.H{
		"state":            s.State.String(),
		"deviceId":         s.DeviceID,
		"claimCode":        s.ClaimCode,
		"firmwareVersion":  s.Firmware,
		"latestVersion":    s.LatestVersion,
		"autoUpdate":       s.AutoUpdate,
		"updateInProgress": s.UpdateInProgress,
		"updatePercent":    s.UpdatePercent,
		"lastError":        s.LastError,
		"demoMode":         s.DemoMode,
		"displayHash":      s.DisplayHash,
		"symbol":           s.Symbol,
		"mainText":         s.MainText,
	})
}

func (h *Handler) message(c *gin.Context, code int, title, text string) {
	c.HTML(code, "message", gin.H{"Title": title, "Text": text})
}

func (h *Handler) saveWiFi(c *gin.Context) {
	ssid := strings.TrimSpace(c.PostForm("ssid"))
	password := strings.TrimSpace(c.PostForm("password"))
	if ssid == "" {
		c.String(http.StatusBadRequest, "SSID is required")
		return
	}

	reply := make(chan error, 1)
	if !h.opts.Device.Commands().TrySend(device.Command{
		Kind: device.CmdWiFi, SSID: ssid, Password: password, Reply: reply,
	}) {
		c.String(http.StatusServiceUnavailable, "Device busy, try again")
		return
	}

	var err error
	select {
	case err = <-reply:
	case <-time.After(h.opts.WiFiTimeout):
		err = errTimeout
	case <-c.Request.Context().Done():
		return
	}

	msg := "Saved credentials for " + ssid + " but failed to connect (timeout)."
	if err == nil {
		ip := ""
		if h.opts.Network != nil {
			ip = h.opts.Network.IP()
		}
		msg = "Connected to " + ssid + " (" + ip + ")"
	} else if h.opts.Log != nil {
		h.opts.Log.Infow("portal_wifi_failed", "ssid", ssid, "err", err)
	}
	h.message(c, http.StatusOK, "Wi-Fi saved", msg)
}

func (h *Handler) upload(c *gin.Context) {
	fh, err := c.FormFile("firmware")
	if err != nil {
		h.message(c, http.StatusBadRequest, "Update failed", "No firmware file in the request.")
		return
	}
	f, err := fh.Open()
	if err != nil {
		h.message(c, http.StatusInternalServerError, "Update failed", err.Error())
		return
	}
	defer f.Close()

	if _, err := h.opts.OTA.Install(f, fh.Size, nil); err != nil {
		if h.opts.Log != nil {
			h.opts.Log.Errorw("portal_update_failed", "file", fh.Filename, "size", fh.Size, "err", err)
		}
		h.message(c, http.StatusInternalServerError, "Update failed",
			"Please check the firmware file and try again. "+ota.Reason(err))
		return
	}
	h.message(c, http.StatusOK, "Update successful", "Device will reboot now.")
	h.opts.Device.Commands().TrySend(device.Command{Kind: device.CmdReboot})
}

func (h *Handler) reset(c *gin.Context) {
	if !h.opts.Device.Commands().TrySend(device.Command{Kind: device.CmdReset}) {
		c.String(http.StatusServiceUnavailable, "Device busy, try again")
		return
	}
	h.message(c, http.StatusOK, "Factory reset", "All settings cleared. Device will reboot now.")
}

func (h *Handler) toggleDemo(c *gin.Context) {
	on := !h.opts.Device.Status().DemoMode
	if !h.opts.Device.Commands().TrySend(device.Command{Kind: device.CmdSetDemoMode, On: on}) {
		c.String(http.StatusServiceUnavailable, "Device busy, try again")
		return
	}
	text := "Demo mode off. Device will reboot now."
	if on {
		text = "Demo mode on. Device will reboot now."
	}
	h.message(c, http.StatusOK, "Demo mode", text)
}

func (h *Handler) forceUpdate(c *gin.Context) {
	s := h.opts.Device.Status()
	switch {
	case s.UpdateInProgress:
		h.message(c, http.StatusConflict, "Update", "An update is already running.")
		return
	case s.LatestVersion <= s.Firmware:
		h.message(c, http.StatusConflict, "Update", "No newer firmware is known yet.")
		return
	}
	if !h.opts.Device.Commands().TrySend(device.Command{Kind: device.CmdForceUpdate}) {
		c.String(http.StatusServiceUnavailable, "Device busy, try again")
		return
	}
	h.message(c, http.StatusAccepted, "Update",
		"Updating to v"+strconv.Itoa(s.LatestVersion)+". The device reboots when done.")
}

func (h *Handler) logPage(c *gin.Context) {
	var lines []string
	if h.opts.Ring != nil {
		lines = h.opts.Ring.Snapshot()
	}
	c.HTML(http.StatusOK, "logs", gin.H{"Lines": lines})
}

// captiveHost reports whether host is a captive-portal probe that should be
// sent to the portal root.
func captiveHost(host string) bool {
	if i := strings.LastIndexByte(host, ':'); i >= 0 && !strings.Contains(host[i:], "]") {
		host = host[:i]
	}
	host = strings.ToLower(host)
	return host == "" || host == "captive.apple.com" || strings.HasSuffix(host, ".local")
}

func (h *Handler) notFound(c *gin.Context) {
	if captiveHost(c.Request.Host) {
		c.Redirect(http.StatusFound, "http://"+h.opts.APIP+"/")
		return
	}
	c.String(http.StatusNotFound, "Not found")
}
