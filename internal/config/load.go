//go:build !tinygo

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const defaultInsecure = false

// EnvPrefix prefixes environment overrides, e.g. TIGERMETER_API_BASE_URL.
const EnvPrefix = "TIGERMETER"

// Load reads path (YAML) over Default. An empty path only applies the
// environment; a missing file is an error.
func Load(path string) (Config, error) {
	v := viper.New()
	def := Default()
	v.SetDefault("api_base_url", def.APIBaseURL)
	v.SetDefault("hmac_key", def.HMACKey)
	v.SetDefault("tls_insecure", def.TLSInsecure)
	v.SetDefault("ap_ip", def.APIP)
	v.SetDefault("portal_addr", def.PortalAddr)
	v.SetDefault("claim_poll_interval", def.ClaimPollInterval)
	v.SetDefault("default_refresh_interval", def.DefaultRefreshInterval)
	v.SetDefault("base_refresh_every", def.BaseRefreshEvery)
	v.SetDefault("backoff_min", def.BackoffMin)
	v.SetDefault("backoff_max", def.BackoffMax)
	v.SetDefault("offline_after", def.OfflineAfter)
	v.SetDefault("wifi_timeout", def.WiFiTimeout)
	v.SetDefault("http_timeout", def.HTTPTimeout)
	v.SetDefault("ota_timeout", def.OTATimeout)
	v.SetDefault("demo_step", def.DemoStep)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	// The rainbow ticker cannot run on a zero period.
	if c.DemoStep <= 0 {
		c.DemoStep = def.DemoStep
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

var ErrInvalid = errors.New("config: invalid")

// Validate rejects settings the supervisor cannot run with.
func (c Config) Validate() error {
	switch {
	case c.APIBaseURL == "":
		return fmt.Errorf("%w: api_base_url is empty", ErrInvalid)
	case c.ClaimPollInterval <= 0:
		return fmt.Errorf("%w: claim_poll_interval must be positive", ErrInvalid)
	case c.BackoffMin <= 0 || c.BackoffMax < c.BackoffMin:
		return fmt.Errorf("%w: backoff bounds", ErrInvalid)
	case c.BaseRefreshEvery < 1:
		return fmt.Errorf("%w: base_refresh_every must be at least 1", ErrInvalid)
	}
	return nil
}
