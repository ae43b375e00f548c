//go:build !tinygo

package cli

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tigermeter/hal"
	"tigermeter/internal/cloud"
	"tigermeter/internal/gfx"
	"tigermeter/internal/instruction"
	"tigermeter/internal/render"
	"tigermeter/internal/store"
)

func TestFrameImage(t *testing.T) {
	fb := gfx.New()
	in := instruction.Default()
	in.Symbol = "ETH"
	in.MainText = "3,120"
	render.Compose(fb, in, time.Time{})

	img := frameImage(fb, 2)
	if got := img.Bounds().Dx(); got != gfx.Width*2 {
		t.Fatalf("width = %d, want %d", got, gfx.Width*2)
	}
	if got := img.Bounds().Dy(); got != gfx.Height*2 {
		t.Fatalf("height = %d, want %d", got, gfx.Height*2)
	}
	// Band corner is ink, far right corner is paper.
	if img.GrayAt(1, 1).Y != 0 {
		t.Fatal("band corner not black")
	}
	if img.GrayAt(gfx.Width*2-1, gfx.Height*2-1).Y != 0xFF {
		t.Fatal("right corner not white")
	}
}

func TestRenderCommand(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.json")
	dst := filepath.Join(dir, "out.png")
	body := `{"symbol":"BTC","mainText":"$67,500","ledColor":"red","beep":true,"flashCount":2}`
	if err := os.WriteFile(src, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"render", src, "-o", dst, "--at", "2024-05-01T12:00:00Z"})
	defer rootCmd.SetArgs(nil)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out.String(), "beep=true flash=2") {
		t.Fatalf("summary = %q", out.String())
	}

	f, err := os.Open(dst)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if img.Bounds().Dx() != gfx.Width || img.Bounds().Dy() != gfx.Height {
		t.Fatalf("png size = %v", img.Bounds())
	}
}

func TestTailLines(t *testing.T) {
	in := strings.NewReader("device: boot\r\nota: no update\r\ndevice: ACTIVE\n")
	tests := []struct {
		name   string
		filter string
		stamp  func() string
		want   string
	}{
		{"all", "", nil, "device: boot\nota: no update\ndevice: ACTIVE\n"},
		{"filtered", "device:", nil, "device: boot\ndevice: ACTIVE\n"},
		{"stamped", "ota:", func() string { return "T" }, "[T] ota: no update\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := in.Seek(0, 0); err != nil {
				t.Fatal(err)
			}
			var out bytes.Buffer
			if err := tailLines(in, &out, tt.filter, tt.stamp); err != nil {
				t.Fatalf("tailLines: %v", err)
			}
			if out.String() != tt.want {
				t.Fatalf("got %q, want %q", out.String(), tt.want)
			}
		})
	}
}

type fakePoller struct {
	results []error
	calls   int
}

func (p *fakePoller) PollClaim(ctx context.Context, code string) (cloud.Credentials, error) {
	i := p.calls
	p.calls++
	if i < len(p.results) && p.results[i] != nil {
		return cloud.Credentials{}, p.results[i]
	}
	return cloud.Credentials{DeviceID: "dev-1", DeviceSecret: "ds_secret"}, nil
}

func TestWaitForAttach(t *testing.T) {
	pending := &cloud.Error{Kind: cloud.KindClaimPending, Status: 202}
	expired := &cloud.Error{Kind: cloud.KindClaimExpired, Status: 410}

	t.Run("attached after pending", func(t *testing.T) {
		p := &fakePoller{results: []error{pending, errors.New("dial tcp: refused"), pending}}
		waits := 0
		creds, err := waitForAttach(context.Background(), p, "123456", time.Millisecond, func() { waits++ })
		if err != nil {
			t.Fatalf("waitForAttach: %v", err)
		}
		if creds.DeviceID != "dev-1" || p.calls != 4 || waits != 2 {
			t.Fatalf("creds=%+v calls=%d waits=%d", creds, p.calls, waits)
		}
	})

	t.Run("expired", func(t *testing.T) {
		p := &fakePoller{results: []error{pending, expired}}
		_, err := waitForAttach(context.Background(), p, "123456", time.Millisecond, nil)
		if cloud.KindOf(err) != cloud.KindClaimExpired {
			t.Fatalf("err = %v, want claim expired", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		p := &fakePoller{results: []error{pending, pending, pending}}
		cancel()
		_, err := waitForAttach(ctx, p, "123456", time.Hour, nil)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	})
}

func TestStoreCredentials(t *testing.T) {
	layout, err := hal.NewLayout(hal.NewMemFlash(1<<20, 4096))
	if err != nil {
		t.Fatal(err)
	}
	log, err := store.Open(layout.Store)
	if err != nil {
		t.Fatal(err)
	}
	kv := log.Namespace(store.Namespace)
	if err := kv.Put(store.KeyDisplayHash, "sha256:old"); err != nil {
		t.Fatal(err)
	}

	if err := storeCredentials(kv, cloud.Credentials{DeviceID: "dev-9", DeviceSecret: "ds_abc"}); err != nil {
		t.Fatalf("storeCredentials: %v", err)
	}
	if kv.Get(store.KeyDeviceID) != "dev-9" || kv.Get(store.KeyDeviceSecret) != "ds_abc" {
		t.Fatalf("keys = %v", kv.Keys())
	}
	if kv.Has(store.KeyDisplayHash) {
		t.Fatal("stale display hash kept")
	}
}

func TestPreviewGlass(t *testing.T) {
	blank := bytes.Repeat([]byte{0xFF}, hal.PanelNativeWidth/8*hal.PanelNativeHeight)
	lines := strings.Split(previewGlass(blank), "\n")
	if len(lines) != 21 {
		t.Fatalf("rows = %d, want 21", len(lines))
	}
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			t.Fatalf("blank glass shows ink: %q", l)
		}
	}

	inked := make([]byte, len(blank))
	out := previewGlass(inked)
	if strings.ContainsAny(out, " ▀▄") {
		t.Fatal("black glass has paper cells")
	}
	if n := len([]rune(strings.Split(out, "\n")[0])); n != hal.PanelNativeHeight/previewCellW {
		t.Fatalf("cols = %d", n)
	}
}

func TestOpenPanel(t *testing.T) {
	defer func(old string) { runPanel = old }(runPanel)

	runPanel = panelSim
	port, release, err := openPanel()
	if err != nil || port != nil {
		t.Fatalf("sim: port=%v err=%v", port, err)
	}
	if err := release(); err != nil {
		t.Fatal(err)
	}

	runPanel = "lcd"
	if _, _, err := openPanel(); err == nil || !strings.Contains(err.Error(), "lcd") {
		t.Fatalf("unknown backend: err = %v", err)
	}
}

func TestRunFlagsDefaultToHATWiring(t *testing.T) {
	for name, want := range map[string]string{
		"panel":    panelSim,
		"pin-dc":   "25",
		"pin-rst":  "17",
		"pin-busy": "24",
		"pin-cs":   "-1",
	} {
		f := runCmd.Flags().Lookup(name)
		if f == nil {
			t.Fatalf("--%s not registered", name)
		}
		if f.DefValue != want {
			t.Fatalf("--%s default = %q, want %q", name, f.DefValue, want)
		}
	}
}
