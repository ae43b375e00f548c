//go:build !tinygo

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	c := Default()
	tests := []struct {
		n    int
		want time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{4, 40 * time.Second},
		{20, 5 * time.Minute},
	}
	for _, tt := range tests {
		if got := c.Backoff(tt.n); got != tt.want {
			t.Fatalf("Backoff(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c != Default() {
		t.Fatalf("Load(\"\") = %+v", c)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.yaml")
	data := "api_base_url: https://api.example.com/api\nclaim_poll_interval: 2s\nbase_refresh_every: 10\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TIGERMETER_HMAC_KEY", "from-env")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.APIBaseURL != "https://api.example.com/api" || c.ClaimPollInterval != 2*time.Second || c.BaseRefreshEvery != 10 {
		t.Fatalf("file values not applied: %+v", c)
	}
	if c.HMACKey != "from-env" {
		t.Fatalf("HMACKey = %q", c.HMACKey)
	}
	if c.WiFiTimeout != 15*time.Second {
		t.Fatalf("default lost: %v", c.WiFiTimeout)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("base_refresh_every: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestLoadClampsDemoStep(t *testing.T) {
	tests := []struct {
		name string
		file string
		env  string
	}{
		{"zero in file", "demo_step: 0s\n", ""},
		{"negative in file", "demo_step: -5ms\n", ""},
		{"zero in env", "", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ""
			if tt.file != "" {
				path = filepath.Join(t.TempDir(), "device.yaml")
				if err := os.WriteFile(path, []byte(tt.file), 0o644); err != nil {
					t.Fatal(err)
				}
			}
			if tt.env != "" {
				t.Setenv("TIGERMETER_DEMO_STEP", tt.env)
			}
			c, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if c.DemoStep != Default().DemoStep {
				t.Fatalf("DemoStep = %v, want %v", c.DemoStep, Default().DemoStep)
			}
		})
	}
}
