//go:build !tinygo

package device

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"tinygo.org/x/drivers/netlink"

	"tigermeter/hal"
	"tigermeter/internal/cloud"
	"tigermeter/internal/config"
	"tigermeter/internal/epd"
	"tigermeter/internal/gfx"
	"tigermeter/internal/instruction"
	"tigermeter/internal/logs"
	"tigermeter/internal/ota"
	"tigermeter/internal/render"
	"tigermeter/internal/store"
)

type fakeClock struct {
	wall time.Time
	up   time.Duration
}

func (c *fakeClock) Now() time.Time          { return c.wall.Add(c.up) }
func (c *fakeClock) Uptime() time.Duration   { return c.up }
func (c *fakeClock) Sleep(d time.Duration)   { c.up += d }
func (c *fakeClock) Advance(d time.Duration) { c.up += d }

type fakeLED struct {
	mu    sync.Mutex
	calls int
	last  instruction.RGB
}

func (l *fakeLED) SetRGB(r, g, b uint8) {
	l.mu.Lock()
	l.calls++
	l.last = instruction.RGB{R: r, G: g, B: b}
	l.mu.Unlock()
}

func (l *fakeLED) state() (int, instruction.RGB) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls, l.last
}

type fakeBuzzer struct{ tones []uint32 }

func (b *fakeBuzzer) Tone(hz uint32, d time.Duration) { b.tones = append(b.tones, hz) }

type fakeNet struct {
	ip      string
	fail    error
	joined  []string
	authSet []netlink.AuthType
}

func (n *fakeNet) NetConnect(p *netlink.ConnectParams) error {
	n.joined = append(n.joined, p.Ssid)
	n.authSet = append(n.authSet, p.AuthType)
	if n.fail != nil {
		return n.fail
	}
	n.ip = "10.0.0.7"
	return nil
}
func (n *fakeNet) NetDisconnect()                { n.ip = "" }
func (n *fakeNet) NetNotify(func(netlink.Event)) {}
func (n *fakeNet) GetHardwareAddr() (net.HardwareAddr, error) {
	return net.HardwareAddr{0x24, 0x6F, 0x28, 0xAB, 0x12, 0xCD}, nil
}
func (n *fakeNet) IP() string { return n.ip }
func (n *fakeNet) RSSI() int  { return -60 }

type fakeSystem struct{ reboots int }

func (s *fakeSystem) Reboot()      { s.reboots++ }
func (s *fakeSystem) Battery() int { return 87 }

type beat struct {
	hb  cloud.Heartbeat
	err error
}

// fakeAPI replays scripted responses in order.
type fakeAPI struct {
	claims []cloud.Claim
	polls  []error
	creds  cloud.Credentials
	beats  []beat

	sent   []cloud.Telemetry
	polled []string
}

func (a *fakeAPI) IssueClaim(context.Context) (cloud.Claim, error) {
	if len(a.claims) == 0 {
		return cloud.Claim{}, &cloud.Error{Kind: cloud.KindTransport, Message: "no claim scripted"}
	}
	c := a.claims[0]
	a.claims = a.claims[1:]
	return c, nil
}

func (a *fakeAPI) PollClaim(_ context.Context, code string) (cloud.Credentials, error) {
	a.polled = append(a.polled, code)
	if len(a.polls) > 0 {
		err := a.polls[0]
		a.polls = a.polls[1:]
		if err != nil {
			return cloud.Credentials{}, err
		}
	}
	return a.creds, nil
}

func (a *fakeAPI) Heartbeat(_ context.Context, _, _ string, t cloud.Telemetry) (cloud.Heartbeat, error) {
	a.sent = append(a.sent, t)
	if len(a.beats) == 0 {
		return cloud.Heartbeat{}, &cloud.Error{Kind: cloud.KindTransport, Message: "no heartbeat scripted"}
	}
	b := a.beats[0]
	a.beats = a.beats[1:]
	return b.hb, b.err
}

type rig struct {
	t     *testing.T
	s     *Supervisor
	api   *fakeAPI
	clock *fakeClock
	led   *fakeLED
	buz   *fakeBuzzer
	net   *fakeNet
	sys   *fakeSystem
	sim   *hal.PanelSim
	drv   *epd.Driver
	flash *hal.MemFlash
	kv    *store.Store
	cfg   config.Config
}

func newRig(t *testing.T, flash *hal.MemFlash, seed map[string]string) *rig {
	t.Helper()
	if flash == nil {
		flash = hal.NewMemFlash(2*4096, 4096)
	}
	log, err := store.Open(flash)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	kv := log.Namespace(store.Namespace)
	for k, v := range seed {
		if err := kv.Put(k, v); err != nil {
			t.Fatalf("Put(%s): %v", k, err)
		}
	}

	sim := hal.NewPanelSim()
	port := sim.Port()
	drv := epd.New(epd.Config{
		Bus: port.Bus, CS: port.CS, DC: port.DC, RST: port.RST, Busy: port.Busy,
		Sleep: func(time.Duration) {},
	})

	r := &rig{
		t:     t,
		api:   &fakeAPI{},
		clock: &fakeClock{wall: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)},
		led:   &fakeLED{},
		buz:   &fakeBuzzer{},
		net:   &fakeNet{},
		sys:   &fakeSystem{},
		sim:   sim,
		drv:   drv,
		flash: flash,
		kv:    kv,
		cfg:   config.Default(),
	}
	r.cfg.DemoStep = time.Millisecond
	return r
}

func (r *rig) boot(dl Downloader) {
	r.t.Helper()
	r.s = New(Deps{
		Config:   r.cfg,
		Log:      logs.New(nil),
		Clock:    r.clock,
		LED:      r.led,
		Buzzer:   r.buz,
		Network:  r.net,
		System:   r.sys,
		Panel:    r.drv,
		API:      r.api,
		OTA:      dl,
		Store:    r.kv,
		Firmware: 28,
	})
	r.t.Cleanup(r.s.anim.halt)
	if err := r.s.Boot(); err != nil {
		r.t.Fatalf("Boot: %v", err)
	}
}

// step runs one supervisor iteration and lets the returned delay elapse.
func (r *rig) step() time.Duration {
	d := r.s.Step(context.Background())
	r.clock.Advance(d)
	return d
}

func (r *rig) stepUntil(want State, n int) {
	r.t.Helper()
	for i := 0; i < n; i++ {
		if r.s.State() == want {
			return
		}
		r.step()
	}
	if r.s.State() != want {
		r.t.Fatalf("state = %s, want %s", r.s.State(), want)
	}
}

func wifi() map[string]string {
	return map[string]string{store.KeySSID: "home", store.KeyPassword: "hunter22"}
}

func claimed() map[string]string {
	m := wifi()
	m[store.KeyDeviceID] = "d1"
	m[store.KeyDeviceSecret] = "s1"
	m[store.KeyDisplayHash] = "h0"
	return m
}

func pending() error {
	return &cloud.Error{Kind: cloud.KindClaimPending, Status: http.StatusAccepted}
}

func btc() *instruction.Instruction {
	in := instruction.Default()
	in.Symbol = "BTC"
	in.SymbolFontSize = 24
	in.MainText = "$67,500"
	in.MainTextFontSize = 32
	in.TopLine = "+2.4%"
	in.BottomLine = "1d"
	in.LEDColor = instruction.ColorGreen
	in.LEDBrightness = instruction.BrightnessMid
	in.RefreshInterval = 30
	in.TimezoneOffset = 3
	in.Normalize()
	return &in
}

func (r *rig) claim() {
	r.t.Helper()
	r.api.claims = []cloud.Claim{{Code: "AB12"}}
	r.api.polls = []error{pending(), pending(), pending()}
	r.api.creds = cloud.Credentials{DeviceID: "d1", DeviceSecret: "s1", DisplayHash: "h0"}
	r.stepUntil(StateActive, 10)
}

func TestBootClearsBeforeLogo(t *testing.T) {
	r := newRig(t, nil, nil)
	r.boot(nil)

	full, partial, last := r.sim.Counts()
	if full != 2 || partial != 0 || last != hal.RefreshFull {
		t.Fatalf("boot refreshes: full %d partial %d last %#x, want clear then logo", full, partial, last)
	}
	if r.drv.State() != epd.StateBaseSet {
		t.Fatalf("driver state = %s, want base", r.drv.State())
	}
	logo := gfx.New()
	render.Logo(logo)
	if !bytes.Equal(r.sim.Visible(), logo.Bytes()) {
		t.Fatal("panel does not show the logo")
	}
}

func TestZeroDemoStepFallsBack(t *testing.T) {
	r := newRig(t, nil, map[string]string{store.KeyDemoMode: "true"})
	r.cfg.DemoStep = 0
	r.boot(nil)
	if r.s.anim.step != config.Default().DemoStep {
		t.Fatalf("animator step = %v", r.s.anim.step)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if calls, _ := r.led.state(); calls > 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("demo rainbow never advanced")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHappyClaim(t *testing.T) {
	r := newRig(t, nil, wifi())
	r.boot(nil)
	if r.s.State() != StateBoot {
		t.Fatalf("state after boot = %s", r.s.State())
	}

	r.step()
	if r.s.State() != StateUnclaimed || len(r.net.joined) != 1 || r.net.joined[0] != "home" {
		t.Fatalf("after connect: state %s, joined %v", r.s.State(), r.net.joined)
	}

	r.api.claims = []cloud.Claim{{Code: "AB12"}}
	r.api.polls = []error{pending(), pending(), pending()}
	r.api.creds = cloud.Credentials{DeviceID: "d1", DeviceSecret: "s1", DisplayHash: "h0"}

	if d := r.step(); d != r.cfg.ClaimPollInterval || r.s.State() != StateWaitingAttach {
		t.Fatalf("issue: delay %v state %s", d, r.s.State())
	}
	if got := r.s.Published().Load().ClaimCode; got != "AB12" {
		t.Fatalf("published claim code %q", got)
	}
	want := gfx.New()
	render.ClaimCode("AB12").Draw(want)
	if !bytes.Equal(r.sim.Visible(), want.Bytes()) {
		t.Fatal("claim code screen not shown")
	}

	for i := 0; i < 3; i++ {
		if d := r.step(); d != r.cfg.ClaimPollInterval || r.s.State() != StateWaitingAttach {
			t.Fatalf("poll %d: delay %v state %s", i, d, r.s.State())
		}
	}
	r.step()
	if r.s.State() != StateActive {
		t.Fatalf("state = %s, want ACTIVE", r.s.State())
	}
	for _, p := range r.api.polled {
		if p != "AB12" {
			t.Fatalf("polled %q", p)
		}
	}
	for k, v := range map[string]string{
		store.KeyDeviceID:     "d1",
		store.KeyDeviceSecret: "s1",
		store.KeyDisplayHash:  "h0",
	} {
		if got := r.kv.Get(k); got != v {
			t.Fatalf("%s = %q, want %q", k, got, v)
		}
	}
	render.Attached().Draw(want)
	if !bytes.Equal(r.sim.Visible(), want.Bytes()) {
		t.Fatal("attached screen not shown")
	}
	if len(r.buz.tones) != 2 || r.buz.tones[0] != 600 || r.buz.tones[1] != 1400 {
		t.Fatalf("tones = %v", r.buz.tones)
	}
}

func TestInstructionThenNoop(t *testing.T) {
	r := newRig(t, nil, wifi())
	r.boot(nil)
	r.claim()

	in := btc()
	r.api.beats = []beat{
		{hb: cloud.Heartbeat{DisplayHash: "h1", Instruction: in}},
		{hb: cloud.Heartbeat{DisplayHash: "h1"}},
		{hb: cloud.Heartbeat{DisplayHash: "h1"}},
	}

	now := r.clock.Now()
	if d := r.step(); d != 30*time.Second {
		t.Fatalf("next heartbeat in %v", d)
	}
	if got := r.api.sent[0].DisplayHash; got != "h0" {
		t.Fatalf("first heartbeat hash %q", got)
	}
	if got := r.api.sent[0]; got.Battery != 87 || got.RSSI != -60 || got.IP != "10.0.0.7" {
		t.Fatalf("telemetry %+v", got)
	}
	want := gfx.New()
	render.Compose(want, *in, now)
	if !bytes.Equal(r.sim.Visible(), want.Bytes()) {
		t.Fatal("panel does not show the composed instruction")
	}
	if _, c := r.led.state(); c != in.LED() {
		t.Fatalf("LED = %+v, want %+v", c, in.LED())
	}
	if got := r.kv.Get(store.KeyDisplayHash); got != "h1" {
		t.Fatalf("stored hash %q", got)
	}

	full, partial, _ := r.sim.Counts()
	calls, _ := r.led.state()
	tones := len(r.buz.tones)
	for i := 0; i < 2; i++ {
		r.step()
		if got := r.api.sent[len(r.api.sent)-1].DisplayHash; got != "h1" {
			t.Fatalf("heartbeat hash %q", got)
		}
	}
	f2, p2, _ := r.sim.Counts()
	c2, _ := r.led.state()
	if f2 != full || p2 != partial || c2 != calls || len(r.buz.tones) != tones {
		t.Fatalf("no-op heartbeat touched outputs: refresh %d/%d -> %d/%d, led %d -> %d, tones %d -> %d",
			full, partial, f2, p2, calls, c2, tones, len(r.buz.tones))
	}
}

func TestAttachedScreenRefetchesInstruction(t *testing.T) {
	r := newRig(t, nil, wifi())
	r.boot(nil)
	r.claim()

	in := btc()
	r.api.beats = []beat{
		{hb: cloud.Heartbeat{DisplayHash: "h0"}},
		{hb: cloud.Heartbeat{DisplayHash: "h0", Instruction: in}},
		{hb: cloud.Heartbeat{DisplayHash: "h0"}},
	}

	if d := r.step(); d != 0 {
		t.Fatalf("retry after unchanged hash in %v, want now", d)
	}
	if d := r.step(); d != 30*time.Second {
		t.Fatalf("next heartbeat in %v", d)
	}
	if got := r.api.sent[0].DisplayHash; got != "h0" {
		t.Fatalf("first heartbeat hash %q", got)
	}
	if got := r.api.sent[1].DisplayHash; got != "" {
		t.Fatalf("retry hash %q, want empty", got)
	}
	if got := r.s.Status().MainText; got != "$67,500" {
		t.Fatalf("main text %q", got)
	}

	// Once the instruction is on the glass an unchanged hash waits again.
	if d := r.step(); d != 30*time.Second {
		t.Fatalf("no-op heartbeat delay %v", d)
	}
	if got := r.api.sent[2].DisplayHash; got != "h0" {
		t.Fatalf("third heartbeat hash %q", got)
	}
}

func TestOneShotsFireOnce(t *testing.T) {
	r := newRig(t, nil, claimed())
	r.boot(nil)
	r.step()

	in := btc()
	in.Beep = true
	in.FlashCount = 2
	r.api.beats = []beat{{hb: cloud.Heartbeat{DisplayHash: "h2", Instruction: in}}}
	before := r.clock.Uptime()
	r.step()
	if got := r.api.sent[0].DisplayHash; got != "" {
		t.Fatalf("first heartbeat after boot sent hash %q", got)
	}
	if len(r.buz.tones) != 2 {
		t.Fatalf("tones = %v", r.buz.tones)
	}
	// Two flashes take four half periods; the heartbeat delay absorbs them.
	if got := r.clock.Uptime() - before; got != 30*time.Second {
		t.Fatalf("heartbeat period %v", got)
	}
	if _, c := r.led.state(); c != in.LED() {
		t.Fatalf("LED after flash = %+v", c)
	}
}

func TestRevocationClearsCredentials(t *testing.T) {
	r := newRig(t, nil, claimed())
	r.boot(nil)
	r.step()
	if r.s.State() != StateActive {
		t.Fatalf("state = %s", r.s.State())
	}

	r.api.beats = []beat{{err: &cloud.Error{Kind: cloud.KindAuthRevoked, Status: http.StatusForbidden}}}
	r.step()
	if r.sys.reboots != 1 {
		t.Fatalf("reboots = %d", r.sys.reboots)
	}
	for _, k := range []string{store.KeyDeviceID, store.KeyDeviceSecret, store.KeyDisplayHash} {
		if r.kv.Has(k) {
			t.Fatalf("%s survived revocation", k)
		}
	}
	if r.kv.Get(store.KeySSID) != "home" {
		t.Fatal("Wi-Fi credentials were cleared")
	}
	if len(r.buz.tones) != 2 || r.buz.tones[0] != 1400 {
		t.Fatalf("tones = %v", r.buz.tones)
	}

	// After the reboot the device starts a new claim from the same flash.
	again := newRig(t, r.flash, nil)
	again.api.claims = []cloud.Claim{{Code: "ZZ99"}}
	again.boot(nil)
	again.stepUntil(StateWaitingAttach, 5)
	if got := again.s.Published().Load().ClaimCode; got != "ZZ99" {
		t.Fatalf("new claim code %q", got)
	}
}

func TestFactoryResetClearsEverything(t *testing.T) {
	r := newRig(t, nil, claimed())
	if err := r.kv.PutBool(store.KeyDemoMode, false); err != nil {
		t.Fatal(err)
	}
	r.boot(nil)
	r.step()
	r.api.beats = []beat{{hb: cloud.Heartbeat{FactoryReset: true}}}
	r.step()

	if r.sys.reboots != 1 {
		t.Fatalf("reboots = %d", r.sys.reboots)
	}
	if keys := r.kv.Keys(); len(keys) != 0 {
		t.Fatalf("keys after reset: %v", keys)
	}
	want := gfx.New()
	render.FactoryReset().Draw(want)
	if !bytes.Equal(r.sim.Visible(), want.Bytes()) {
		t.Fatal("factory reset screen not shown")
	}
}

func TestClaimDroppedReissues(t *testing.T) {
	for _, tt := range []struct {
		name string
		kind cloud.Kind
		code int
	}{
		{"expired", cloud.KindClaimExpired, http.StatusGone},
		{"used twice", cloud.KindClaimNotFound, http.StatusNotFound},
	} {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, nil, wifi())
			r.boot(nil)
			r.api.claims = []cloud.Claim{{Code: "AB12"}, {Code: "CD34"}}
			r.api.polls = []error{&cloud.Error{Kind: tt.kind, Status: tt.code}}
			r.stepUntil(StateWaitingAttach, 5)

			if d := r.step(); d != 0 || r.s.State() != StateUnclaimed {
				t.Fatalf("after %d: delay %v state %s", tt.code, d, r.s.State())
			}
			if got := r.s.Published().Load().ClaimCode; got != "" {
				t.Fatalf("stale claim code %q", got)
			}
			r.step()
			if r.s.State() != StateWaitingAttach || r.s.Published().Load().ClaimCode != "CD34" {
				t.Fatalf("reissue: %+v", r.s.Published().Load())
			}
			want := gfx.New()
			render.ClaimCode("CD34").Draw(want)
			if !bytes.Equal(r.sim.Visible(), want.Bytes()) {
				t.Fatal("new code not on the panel")
			}
		})
	}
}

func TestTransportFailuresEnterAndLeaveError(t *testing.T) {
	r := newRig(t, nil, claimed())
	r.boot(nil)
	r.step()

	r.api.beats = []beat{{hb: cloud.Heartbeat{DisplayHash: "h1", Instruction: btc()}}}
	r.step()

	down := &cloud.Error{Kind: cloud.KindTransport, Message: "connection refused"}
	r.api.beats = []beat{{err: down}, {err: down}, {err: down}, {hb: cloud.Heartbeat{DisplayHash: "h1"}}}
	for i := 0; i < r.cfg.OfflineAfter; i++ {
		if r.s.State() == StateError {
			t.Fatalf("ERROR after %d failures", i)
		}
		if d := r.step(); d < 30*time.Second {
			t.Fatalf("retry after %v", d)
		}
	}
	if r.s.State() != StateError {
		t.Fatalf("state = %s, want ERROR", r.s.State())
	}
	if r.s.Published().Load().LastError == "" {
		t.Fatal("last error not published")
	}
	off := gfx.New()
	render.Offline("connection refused").Draw(off)
	if !bytes.Equal(r.sim.Visible(), off.Bytes()) {
		t.Fatal("offline screen not shown")
	}

	r.step()
	if r.s.State() != StateActive {
		t.Fatalf("state = %s after recovery", r.s.State())
	}
	if r.kv.Get(store.KeyDeviceSecret) != "s1" {
		t.Fatal("transport failure cleared credentials")
	}
	if bytes.Equal(r.sim.Visible(), off.Bytes()) {
		t.Fatal("instruction not redrawn after recovery")
	}
}

func TestBaseRefreshAfterPartials(t *testing.T) {
	r := newRig(t, nil, claimed())
	r.cfg.BaseRefreshEvery = 3
	r.boot(nil)
	r.step()

	for i := 0; i < 4; i++ {
		in := btc()
		in.MainText = "$" + strconv.Itoa(60000+i)
		r.api.beats = append(r.api.beats, beat{hb: cloud.Heartbeat{DisplayHash: "h" + strconv.Itoa(i), Instruction: in}})
	}
	full0, _, _ := r.sim.Counts()
	for i := 0; i < 3; i++ {
		r.step()
	}
	full, partial, last := r.sim.Counts()
	if full != full0 || partial != 3 || last != hal.RefreshPartial {
		t.Fatalf("after 3 updates: full %d->%d partial %d", full0, full, partial)
	}
	r.step()
	full, partial, _ = r.sim.Counts()
	if full != full0+1 || partial != 3 {
		t.Fatalf("4th update not a base refresh: full %d partial %d", full, partial)
	}
	if r.drv.Partials() != 0 {
		t.Fatalf("driver partials = %d", r.drv.Partials())
	}
}

func TestAutoUpdate(t *testing.T) {
	img := make([]byte, 1<<20)
	for i := range img {
		img[i] = byte(i * 13)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/fw/prod/firmware-ota.bin", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/cdn/v29.bin", http.StatusFound)
	})
	mux.HandleFunc("/cdn/v29.bin", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(img)))
		w.Write(img)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	l, err := hal.NewLayout(hal.NewMemFlash(3<<20, 4096))
	if err != nil {
		t.Fatal(err)
	}
	up := hal.NewSlotUpdater(l)

	r := newRig(t, nil, claimed())
	r.boot(ota.New(up, false, 0))
	r.step()

	yes := true
	r.api.beats = []beat{{hb: cloud.Heartbeat{
		AutoUpdate:            &yes,
		LatestFirmwareVersion: 29,
		FirmwareDownloadURL:   srv.URL + "/fw/prod",
	}}}
	r.step()

	if r.sys.reboots != 1 {
		t.Fatalf("reboots = %d", r.sys.reboots)
	}
	rec, err := up.Active()
	if err != nil || rec.Slot != 1 || rec.Size != uint32(len(img)) {
		t.Fatalf("boot record %+v, %v", rec, err)
	}
	got := make([]byte, len(img))
	if _, err := l.SlotB.ReadAt(got, 0); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, img) {
		t.Fatal("staged image differs")
	}
}

type failingOTA struct{ calls int }

func (f *failingOTA) Download(context.Context, string, ota.Progress) (int64, error) {
	f.calls++
	return 0, &ota.Error{Kind: ota.KindNotEnoughSpace, Message: "Not enough space"}
}

func TestFailedUpdateNotRetriedAutomatically(t *testing.T) {
	r := newRig(t, nil, claimed())
	f := &failingOTA{}
	r.boot(f)
	r.step()

	yes := true
	hb := cloud.Heartbeat{AutoUpdate: &yes, LatestFirmwareVersion: 29, FirmwareDownloadURL: "https://x/fw/prod"}
	r.api.beats = []beat{{hb: hb}, {hb: hb}}
	r.step()
	r.step()
	if f.calls != 1 || r.sys.reboots != 0 {
		t.Fatalf("downloads %d reboots %d", f.calls, r.sys.reboots)
	}
	if got := r.s.Published().Load().LastError; got != "Not enough space" {
		t.Fatalf("last error %q", got)
	}

	reply := make(chan error, 1)
	r.s.Commands().TrySend(Command{Kind: CmdForceUpdate, Reply: reply})
	r.s.Step(context.Background())
	if err := <-reply; err == nil || f.calls != 2 {
		t.Fatalf("forced update: %v after %d calls", err, f.calls)
	}
}

func TestWiFiCommand(t *testing.T) {
	r := newRig(t, nil, nil)
	r.boot(nil)
	r.step()
	if r.s.State() != StateBoot || len(r.net.joined) != 0 {
		t.Fatalf("joined without credentials: %v", r.net.joined)
	}
	want := gfx.New()
	render.WiFiSetup("tigermeter-12CD", r.cfg.APIP).Draw(want)
	if !bytes.Equal(r.sim.Visible(), want.Bytes()) {
		t.Fatal("setup screen not shown")
	}

	reply := make(chan error, 1)
	r.s.Commands().TrySend(Command{Kind: CmdWiFi, SSID: "   ", Reply: reply})
	r.s.Step(context.Background())
	if err := <-reply; err != netlink.ErrMissingSSID {
		t.Fatalf("blank ssid: %v", err)
	}

	r.s.Commands().TrySend(Command{Kind: CmdWiFi, SSID: " cafe ", Password: "", Reply: reply})
	r.api.claims = []cloud.Claim{{Code: "AB12"}}
	r.s.Step(context.Background())
	if err := <-reply; err != nil {
		t.Fatalf("wifi: %v", err)
	}
	if r.kv.Get(store.KeySSID) != "cafe" || r.net.authSet[0] != netlink.AuthTypeOpen {
		t.Fatalf("stored %q auth %v", r.kv.Get(store.KeySSID), r.net.authSet)
	}
	if r.s.State() != StateWaitingAttach {
		t.Fatalf("state = %s", r.s.State())
	}
}

func TestDemoModeCommand(t *testing.T) {
	r := newRig(t, nil, claimed())
	r.boot(nil)
	r.s.Commands().TrySend(Command{Kind: CmdSetDemoMode, On: true})
	r.s.Step(context.Background())
	if !r.kv.GetBool(store.KeyDemoMode) || r.sys.reboots != 1 {
		t.Fatalf("demoMode %v reboots %d", r.kv.GetBool(store.KeyDemoMode), r.sys.reboots)
	}

	again := newRig(t, r.flash, nil)
	again.boot(nil)
	if !again.s.anim.running() {
		t.Fatal("demo animation not running after boot")
	}
	deadline := time.Now().Add(time.Second)
	for {
		if n, _ := again.led.state(); n > 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("LED not animated")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestAPName(t *testing.T) {
	for _, tt := range []struct {
		hw   net.HardwareAddr
		want string
	}{
		{net.HardwareAddr{0x24, 0x6F, 0x28, 0xAB, 0x12, 0xcd}, "tigermeter-12CD"},
		{net.HardwareAddr{0, 0, 0, 0, 0x0a, 0x0b}, "tigermeter-0A0B"},
		{nil, "tigermeter"},
	} {
		if got := APName(tt.hw); got != tt.want {
			t.Errorf("APName(%v) = %q, want %q", tt.hw, got, tt.want)
		}
	}
}

func TestCommandsQueue(t *testing.T) {
	q := NewCommands()
	for i := 0; i < commandSlots; i++ {
		if !q.TrySend(Command{Kind: CmdReboot}) {
			t.Fatalf("send %d failed", i)
		}
	}
	if q.TrySend(Command{Kind: CmdReset}) {
		t.Fatal("send on a full queue succeeded")
	}
	select {
	case <-q.Wake():
	default:
		t.Fatal("no wakeup after send")
	}
	for i := 0; i < commandSlots; i++ {
		if _, ok := q.TryRecv(); !ok {
			t.Fatalf("recv %d failed", i)
		}
	}
	if _, ok := q.TryRecv(); ok {
		t.Fatal("recv on an empty queue succeeded")
	}
}
