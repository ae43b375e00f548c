// Package config holds the firmware settings. Boards use Default; the host
// build can override it from a file or the environment (see Load).
package config

import "time"

// Config is the complete device configuration.
type Config struct {
	APIBaseURL  string `mapstructure:"api_base_url"`
	HMACKey     string `mapstructure:"hmac_key"`
	TLSInsecure bool   `mapstructure:"tls_insecure"`

	APIP       string `mapstructure:"ap_ip"`
	PortalAddr string `mapstructure:"portal_addr"`

	ClaimPollInterval      time.Duration `mapstructure:"claim_poll_interval"`
	DefaultRefreshInterval time.Duration `mapstructure:"default_refresh_interval"`
	BaseRefreshEvery       int           `mapstructure:"base_refresh_every"`
	BackoffMin             time.Duration `mapstructure:"backoff_min"`
	BackoffMax             time.Duration `mapstructure:"backoff_max"`
	OfflineAfter           int           `mapstructure:"offline_after"`
	WiFiTimeout            time.Duration `mapstructure:"wifi_timeout"`
	HTTPTimeout            time.Duration `mapstructure:"http_timeout"`
	OTATimeout             time.Duration `mapstructure:"ota_timeout"`
	DemoStep               time.Duration `mapstructure:"demo_step"`
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		APIBaseURL:             "http://192.168.1.100:3001/api",
		HMACKey:                "change-me-dev-hmac",
		TLSInsecure:            defaultInsecure,
		APIP:                   "192.168.4.1",
		PortalAddr:             ":80",
		ClaimPollInterval:      5 * time.Second,
		DefaultRefreshInterval: 30 * time.Second,
		BaseRefreshEvery:       20,
		BackoffMin:             5 * time.Second,
		BackoffMax:             5 * time.Minute,
		OfflineAfter:           3,
		WiFiTimeout:            15 * time.Second,
		HTTPTimeout:            15 * time.Second,
		OTATimeout:             5 * time.Minute,
		DemoStep:               200 * time.Millisecond,
	}
}

// Backoff returns the delay after the n-th consecutive failure (n >= 1),
// doubling from BackoffMin up to BackoffMax.
func (c Config) Backoff(n int) time.Duration {
	d := c.BackoffMin
	for i := 1; i < n && d < c.BackoffMax; i++ {
		d *= 2
	}
	if d > c.BackoffMax {
		d = c.BackoffMax
	}
	return d
}
