// Package device is the firmware supervisor: Wi-Fi join, claim, heartbeat,
// rendering, LED and buzzer effects, and over-the-air updates.
//
// Everything runs on the goroutine that calls Run. The only other goroutine
// is the LED animator, which is stopped before the supervisor touches the LED.
package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"tinygo.org/x/drivers/netlink"

	"tigermeter/hal"
	"tigermeter/internal/cloud"
	"tigermeter/internal/config"
	"tigermeter/internal/gfx"
	"tigermeter/internal/instruction"
	"tigermeter/internal/logs"
	"tigermeter/internal/ota"
	"tigermeter/internal/render"
	"tigermeter/internal/store"
)

// Panel is the part of the e-paper driver the supervisor uses.
type Panel interface {
	Init() error
	Clear() error
	DisplayBase(fb []byte) error
	DisplayPartial(fb []byte) error
	NeedsBase(every int) bool
}

// API is the cloud protocol.
type API interface {
	IssueClaim(ctx context.Context) (cloud.Claim, error)
	PollClaim(ctx context.Context, code string) (cloud.Credentials, error)
	Heartbeat(ctx context.Context, deviceID, secret string, t cloud.Telemetry) (cloud.Heartbeat, error)
}

// Downloader fetches and stages a firmware image.
type Downloader interface {
	Download(ctx context.Context, base string, progress ota.Progress) (int64, error)
}

// Deps are the collaborators of a Supervisor.
type Deps struct {
	Config   config.Config
	Log      hal.Logger
	Clock    hal.Clock
	LED      hal.RGBLED
	Buzzer   hal.Buzzer
	Network  hal.Network
	System   hal.System
	Panel    Panel
	API      API
	OTA      Downloader
	Store    *store.Store
	Commands *Commands
	// Firmware is the running version number.
	Firmware int
}

var ErrNoUpdate = errors.New("device: no newer firmware advertised")

// Supervisor owns the device state machine.
type Supervisor struct {
	cfg   config.Config
	log   logs.Logger
	clock hal.Clock
	led   hal.RGBLED
	buz   hal.Buzzer
	net   hal.Network
	sys   hal.System
	panel Panel
	api   API
	ota   Downloader
	kv    *store.Store
	cmds  *Commands
	pub   Published
	fb    *gfx.Framebuffer
	anim  animator

	firmware int
	state    State
	prev     State
	due      time.Duration
	failures int
	lastErr  string
	screen   bool
	shown    []byte
	rebooted bool

	deviceID string
	secret   string
	hash     string
	fresh    bool
	claim    string

	current    instruction.Instruction
	hasCurrent bool
	fx         render.Effects
	demo       bool

	advert   ota.Advert
	failedAt int
	updating bool
	percent  int
}

// New builds a supervisor. Call Run to start it.
func New(d Deps) *Supervisor {
	if d.Commands == nil {
		d.Commands = NewCommands()
	}
	if d.Config.DemoStep <= 0 {
		d.Config.DemoStep = config.Default().DemoStep
	}
	return &Supervisor{
		cfg:      d.Config,
		log:      logs.For(d.Log, "device"),
		clock:    d.Clock,
		led:      d.LED,
		buz:      d.Buzzer,
		net:      d.Network,
		sys:      d.System,
		panel:    d.Panel,
		api:      d.API,
		ota:      d.OTA,
		kv:       d.Store,
		cmds:     d.Commands,
		fb:       gfx.New(),
		anim:     animator{led: d.LED, step: d.Config.DemoStep},
		firmware: d.Firmware,
	}
}

// Published returns the read-only state view.
func (s *Supervisor) Published() *Published { return &s.pub }

// Status is the latest published snapshot.
func (s *Supervisor) Status() Snapshot { return s.pub.Load() }

// Commands returns the queue the portal posts to.
func (s *Supervisor) Commands() *Commands { return s.cmds }

// Framebuffer is the composed frame last handed to the panel.
func (s *Supervisor) Framebuffer() *gfx.Framebuffer { return s.fb }

// State is the current state. Only call from the supervisor goroutine or
// after Run returned; others use Published.
func (s *Supervisor) State() State { return s.state }

// Run boots the device and loops until ctx is done or a reboot was requested.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.anim.halt()
	if err := s.Boot(); err != nil {
		return err
	}
	for !s.rebooted {
		d := s.Step(ctx)
		if s.rebooted {
			return nil
		}
		if !s.wait(ctx, d) {
			return ctx.Err()
		}
	}
	return nil
}

func (s *Supervisor) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
	case <-s.cmds.Wake():
	}
	return true
}

// Boot brings up the panel, shows the logo and loads persisted state.
func (s *Supervisor) Boot() error {
	if err := s.panel.Init(); err != nil {
		return fmt.Errorf("device: panel init: %w", err)
	}
	// Wipe whatever the glass kept from before the reset.
	if err := s.panel.Clear(); err != nil {
		return fmt.Errorf("device: panel clear: %w", err)
	}
	render.Logo(s.fb)
	s.present(true)
	s.screen = true

	s.deviceID = s.kv.Get(store.KeyDeviceID)
	s.secret = s.kv.Get(store.KeyDeviceSecret)
	s.hash = s.kv.Get(store.KeyDisplayHash)
	s.demo = s.kv.GetBool(store.KeyDemoMode)
	// The glass now shows the logo, so ask for the instruction again.
	s.fresh = true
	s.fx = render.Effects{LED: instruction.Default().LED()}
	s.setLED()

	s.log.Infof("boot firmware=%d device=%q demo=%v", s.firmware, s.deviceID, s.demo)
	s.setState(StateBoot)
	return nil
}

// Step handles pending commands and, if it is due, runs one operation of
// the current state. It returns the time until the next operation is due.
func (s *Supervisor) Step(ctx context.Context) time.Duration {
	s.drain(ctx)
	if s.rebooted {
		return 0
	}
	now := s.clock.Uptime()
	if now < s.due {
		return s.due - now
	}

	state := s.state
	if state == StateError {
		state = s.prev
	}
	var d time.Duration
	switch state {
	case StateBoot:
		d = s.connect()
	case StateUnclaimed:
		d = s.issue(ctx)
	case StateWaitingAttach:
		d = s.poll(ctx)
	case StateActive:
		d = s.beat(ctx)
	}
	if d < 0 {
		d = 0
	}
	s.due = s.clock.Uptime() + d
	s.publish()
	return d
}

func (s *Supervisor) hasCredentials() bool {
	return s.deviceID != "" && s.secret != ""
}

func (s *Supervisor) setState(st State) {
	if st != s.state {
		s.log.Infof("state %s -> %s", s.state, st)
	}
	s.state = st
	s.publish()
}

// APName is the setup access point name: tigermeter-XXXX from the last two
// bytes of the hardware address.
func APName(hw net.HardwareAddr) string {
	if len(hw) < 2 {
		return "tigermeter"
	}
	return fmt.Sprintf("tigermeter-%02X%02X", hw[len(hw)-2], hw[len(hw)-1])
}

func (s *Supervisor) apName() string {
	hw, err := s.net.GetHardwareAddr()
	if err != nil {
		return APName(nil)
	}
	return APName(hw)
}

// connect joins the stored network. Without one it waits for the portal.
func (s *Supervisor) connect() time.Duration {
	if s.net.IP() != "" {
		s.online()
		return 0
	}
	ssid := s.kv.Get(store.KeySSID)
	if ssid == "" {
		s.showScreen(render.WiFiSetup(s.apName(), s.cfg.APIP))
		return s.cfg.ClaimPollInterval
	}
	if err := s.join(ssid, s.kv.Get(store.KeyPassword)); err != nil {
		s.failures++
		s.lastErr = err.Error()
		s.log.Warnf("wifi %q: %v", ssid, err)
		s.showScreen(render.WiFiSetup(s.apName(), s.cfg.APIP))
		return s.cfg.Backoff(s.failures)
	}
	s.online()
	return 0
}

func (s *Supervisor) join(ssid, password string) error {
	p := &netlink.ConnectParams{
		ConnectMode:    netlink.ConnectModeSTA,
		Ssid:           ssid,
		Passphrase:     password,
		AuthType:       netlink.AuthTypeWPA2,
		ConnectTimeout: s.cfg.WiFiTimeout,
		Retries:        1,
	}
	if password == "" {
		p.AuthType = netlink.AuthTypeOpen
	}
	return s.net.NetConnect(p)
}

func (s *Supervisor) online() {
	s.failures = 0
	s.lastErr = ""
	s.log.Infof("online ip=%s", s.net.IP())
	if s.hasCredentials() {
		s.setState(StateActive)
		return
	}
	s.setState(StateUnclaimed)
}

// fail records a transport-class failure and enters ERROR once failures
// persist. The caller keeps its state otherwise.
func (s *Supervisor) fail(err error, wait time.Duration) time.Duration {
	s.failures++
	s.lastErr = err.Error()
	s.log.Warnf("%v (attempt %d)", err, s.failures)
	if s.state != StateError && s.failures >= s.cfg.OfflineAfter {
		s.prev = s.state
		s.setState(StateError)
		detail := err.Error()
		var ce *cloud.Error
		if errors.As(err, &ce) {
			detail = ce.Message
			if ce.Status != 0 && !strings.HasPrefix(detail, "HTTP") {
				detail = fmt.Sprintf("HTTP %d", ce.Status)
			}
		}
		s.showScreen(render.Offline(detail))
	}
	return wait
}

// recovered leaves ERROR after a successful call.
func (s *Supervisor) recovered() {
	if s.failures > 0 {
		s.lastErr = ""
	}
	s.failures = 0
	if s.state == StateError {
		s.setState(s.prev)
		if s.prev == StateActive && s.hasCurrent {
			s.redraw()
		}
	}
}

func (s *Supervisor) issue(ctx context.Context) time.Duration {
	cl, err := s.api.IssueClaim(ctx)
	if err != nil {
		return s.fail(err, s.cfg.Backoff(s.failures+1))
	}
	s.recovered()
	s.claim = cl.Code
	s.log.Infof("claim code %s expires %s", cl.Code, cl.ExpiresAt)
	s.setState(StateWaitingAttach)
	s.showScreen(render.ClaimCode(cl.Code))
	return s.cfg.ClaimPollInterval
}

func (s *Supervisor) poll(ctx context.Context) time.Duration {
	cr, err := s.api.PollClaim(ctx, s.claim)
	if err != nil {
		switch cloud.KindOf(err) {
		case cloud.KindClaimPending:
			s.recovered()
			return s.cfg.ClaimPollInterval
		case cloud.KindClaimNotFound, cloud.KindClaimExpired:
			s.recovered()
			s.log.Infof("claim %s dropped: %v", s.claim, err)
			s.claim = ""
			s.setState(StateUnclaimed)
			return 0
		default:
			wait := s.cfg.Backoff(s.failures + 1)
			if wait < s.cfg.ClaimPollInterval {
				wait = s.cfg.ClaimPollInterval
			}
			return s.fail(err, wait)
		}
	}
	s.recovered()

	// The secret goes last: without it the device is not claimed, so a
	// power loss in between only costs a new claim.
	for _, kv := range [][2]string{
		{store.KeyDisplayHash, cr.DisplayHash},
		{store.KeyDeviceID, cr.DeviceID},
		{store.KeyDeviceSecret, cr.DeviceSecret},
	} {
		if err := s.kv.Put(kv[0], kv[1]); err != nil {
			s.log.Errorf("store %s: %v", kv[0], err)
			return s.fail(err, s.cfg.ClaimPollInterval)
		}
	}
	s.deviceID, s.secret, s.hash = cr.DeviceID, cr.DeviceSecret, cr.DisplayHash
	s.claim = ""
	s.fresh = false
	s.log.Infof("attached as %s", cr.DeviceID)
	s.setState(StateActive)
	s.showScreen(render.Attached())
	beepPositive(s.buz)
	return 0
}

func (s *Supervisor) refreshInterval() time.Duration {
	if s.hasCurrent {
		return time.Duration(s.current.RefreshInterval) * time.Second
	}
	return s.cfg.DefaultRefreshInterval
}

func (s *Supervisor) beat(ctx context.Context) time.Duration {
	started := s.clock.Uptime()
	hash := s.hash
	if s.fresh {
		hash = ""
	}
	t := cloud.Telemetry{
		Battery:       s.sys.Battery(),
		RSSI:          s.net.RSSI(),
		IP:            s.net.IP(),
		UptimeSeconds: int(started / time.Second),
		DisplayHash:   hash,
	}
	hb, err := s.api.Heartbeat(ctx, s.deviceID, s.secret, t)
	if err != nil {
		switch cloud.KindOf(err) {
		case cloud.KindAuthInvalid, cloud.KindAuthRevoked:
			s.revoke(err)
			return 0
		default:
			wait := s.refreshInterval()
			if b := s.cfg.Backoff(s.failures + 1); b > wait {
				wait = b
			}
			return s.fail(err, wait)
		}
	}
	s.recovered()
	s.fresh = false

	if hb.FactoryReset {
		s.factoryReset()
		return 0
	}

	if hb.AutoUpdate != nil {
		s.advert.AutoUpdate = *hb.AutoUpdate
	}
	if hb.LatestFirmwareVersion > 0 {
		s.advert.LatestVersion = hb.LatestFirmwareVersion
	}
	if hb.FirmwareDownloadURL != "" {
		s.advert.BaseURL = hb.FirmwareDownloadURL
	}
	if hb.DemoMode != nil && *hb.DemoMode != s.demo {
		s.setDemo(*hb.DemoMode)
	}

	retry := false
	switch {
	case hb.Instruction != nil:
		if hb.DisplayHash != "" && hb.DisplayHash != s.hash {
			if err := s.kv.Put(store.KeyDisplayHash, hb.DisplayHash); err != nil {
				s.log.Errorf("store displayHash: %v", err)
			}
			s.hash = hb.DisplayHash
		}
		s.apply(*hb.Instruction)
	case s.hasCurrent && s.current.TopLineShowDate:
		s.redraw()
	case !s.hasCurrent && s.screen:
		// The glass shows a status screen, not the instruction behind our
		// hash. Ask again with an empty hash, once, without waiting.
		s.fresh = true
		retry = hash != ""
	}

	if s.advert.Due(s.firmware, false) && s.advert.LatestVersion != s.failedAt {
		if err := s.update(ctx); err == nil {
			return 0
		}
	}

	if retry {
		return 0
	}
	wait := s.refreshInterval() - (s.clock.Uptime() - started)
	if wait < 0 {
		wait = 0
	}
	return wait
}

// apply composes a new instruction and fires its effects.
func (s *Supervisor) apply(in instruction.Instruction) {
	s.current = in
	s.hasCurrent = true
	s.fx = render.Compose(s.fb, in, s.clock.Now())
	s.screen = false
	s.present(false)
	s.log.Infof("instruction %q %q hash=%s", in.Symbol, in.MainText, s.hash)

	s.setLED()
	if s.fx.Beep {
		beepPositive(s.buz)
	}
	if s.fx.FlashCount > 0 {
		s.flash(s.fx.FlashCount)
	}
}

// redraw recomposes the current instruction without its one-shots.
func (s *Supervisor) redraw() {
	s.fx = render.Compose(s.fb, s.current.WithoutOneShots(), s.clock.Now())
	s.screen = false
	s.present(false)
}

func (s *Supervisor) showScreen(sc render.Screen) {
	sc.Draw(s.fb)
	s.screen = true
	s.present(true)
}

// present sends the framebuffer to the panel unless the glass already
// shows it. Partial refreshes are used until a base refresh is due.
func (s *Supervisor) present(base bool) {
	buf := s.fb.Bytes()
	if s.shown != nil && bytes.Equal(buf, s.shown) {
		return
	}
	var err error
	if base || s.panel.NeedsBase(s.cfg.BaseRefreshEvery) {
		err = s.panel.DisplayBase(buf)
	} else {
		err = s.panel.DisplayPartial(buf)
	}
	if err != nil {
		s.log.Errorf("panel: %v", err)
		s.shown = nil
		return
	}
	s.shown = append(s.shown[:0], buf...)
}

func (s *Supervisor) setLED() {
	s.anim.halt()
	switch {
	case s.demo:
		s.anim.start(instruction.BrightnessHigh.Level())
	case s.fx.Rainbow:
		s.anim.start(s.current.LEDBrightness.Level())
	default:
		c := s.fx.LED
		s.led.SetRGB(c.R, c.G, c.B)
	}
}

func (s *Supervisor) flash(n int) {
	s.anim.halt()
	c := s.fx.LED
	if c == instruction.Off || s.fx.Rainbow || s.demo {
		c = instruction.RGB{R: 255, G: 255, B: 255}
	}
	for i := 0; i < n; i++ {
		s.led.SetRGB(0, 0, 0)
		s.clock.Sleep(flashPeriod)
		s.led.SetRGB(c.R, c.G, c.B)
		s.clock.Sleep(flashPeriod)
	}
	s.setLED()
}

func (s *Supervisor) setDemo(on bool) {
	if err := s.kv.PutBool(store.KeyDemoMode, on); err != nil {
		s.log.Errorf("store demoMode: %v", err)
	}
	s.demo = on
	s.log.Infof("demo mode %v", on)
	s.setLED()
}

// revoke handles 401/403: the credentials are gone for good.
func (s *Supervisor) revoke(err error) {
	s.log.Warnf("access revoked: %v", err)
	for _, k := range []string{store.KeyDeviceSecret, store.KeyDeviceID, store.KeyDisplayHash} {
		if rerr := s.kv.Remove(k); rerr != nil {
			s.log.Errorf("remove %s: %v", k, rerr)
		}
	}
	s.deviceID, s.secret, s.hash = "", "", ""
	s.showScreen(render.Reprovision())
	beepNegative(s.buz)
	s.setState(StateUnclaimed)
	s.reboot()
}

func (s *Supervisor) factoryReset() {
	s.log.Warnf("factory reset")
	s.showScreen(render.FactoryReset())
	if err := s.kv.ClearAll(); err != nil {
		s.log.Errorf("clear: %v", err)
	}
	s.deviceID, s.secret, s.hash = "", "", ""
	s.setState(StateUnclaimed)
	s.reboot()
}

func (s *Supervisor) reboot() {
	s.anim.halt()
	s.rebooted = true
	s.publish()
	s.log.Infof("reboot")
	s.sys.Reboot()
}

// update downloads the advertised image and reboots into it.
func (s *Supervisor) update(ctx context.Context) error {
	if s.ota == nil {
		return ErrNoUpdate
	}
	v := s.advert.LatestVersion
	s.log.Infof("update v%d -> v%d from %s", s.firmware, v, s.advert.BaseURL)
	s.updating, s.percent = true, 0
	s.showScreen(render.Updating(fmt.Sprintf("v%d", v)))
	s.publish()

	n, err := s.ota.Download(ctx, s.advert.BaseURL, func(written, total int64) {
		p := int(written * 100 / total)
		if p != s.percent {
			s.percent = p
			s.publish()
		}
	})
	s.updating = false
	if err != nil {
		s.failedAt = v
		s.lastErr = ota.Reason(err)
		s.log.Errorf("update failed: %v", err)
		s.showScreen(render.UpdateFailed(ota.Reason(err)))
		s.publish()
		return err
	}
	s.log.Infof("update staged (%d bytes)", n)
	s.reboot()
	return nil
}

// drain handles every queued command.
func (s *Supervisor) drain(ctx context.Context) {
	for !s.rebooted {
		c, ok := s.cmds.TryRecv()
		if !ok {
			return
		}
		c.done(s.handle(ctx, c))
	}
}

func (s *Supervisor) handle(ctx context.Context, c Command) error {
	switch c.Kind {
	case CmdWiFi:
		ssid := strings.TrimSpace(c.SSID)
		if ssid == "" {
			return netlink.ErrMissingSSID
		}
		pass := strings.TrimSpace(c.Password)
		if err := s.kv.Put(store.KeySSID, ssid); err != nil {
			return err
		}
		if err := s.kv.Put(store.KeyPassword, pass); err != nil {
			return err
		}
		if err := s.join(ssid, pass); err != nil {
			s.log.Warnf("wifi %q: %v", ssid, err)
			return err
		}
		if s.state == StateBoot {
			s.online()
			s.due = 0
		}
		return nil
	case CmdForceUpdate:
		if !s.advert.Due(s.firmware, true) {
			return ErrNoUpdate
		}
		return s.update(ctx)
	case CmdSetDemoMode:
		s.setDemo(c.On)
		s.reboot()
		return nil
	case CmdReset:
		s.factoryReset()
		return nil
	case CmdReboot:
		s.reboot()
		return nil
	}
	return fmt.Errorf("device: unknown command %d", c.Kind)
}

func (s *Supervisor) publish() {
	snap := Snapshot{
		State:            s.state,
		DeviceID:         s.deviceID,
		ClaimCode:        s.claim,
		Firmware:         s.firmware,
		LatestVersion:    s.advert.LatestVersion,
		AutoUpdate:       s.advert.AutoUpdate,
		UpdateInProgress: s.updating,
		UpdatePercent:    s.percent,
		LastError:        s.lastErr,
		DemoMode:         s.demo,
		DisplayHash:      s.hash,
	}
	if s.hasCurrent {
		snap.Symbol = s.current.Symbol
		snap.MainText = s.current.MainText
	}
	s.pub.store(snap)
}
