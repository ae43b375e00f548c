//go:build !tinygo

package devcloud

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig reads path (YAML) over DefaultConfig, then TIGERCLOUD_*
// environment overrides. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	def := DefaultConfig()
	v.SetDefault("addr", def.Addr)
	v.SetDefault("db_path", def.DBPath)
	v.SetDefault("jwt_secret", def.JWTSecret)
	v.SetDefault("hmac_key", def.HMACKey)
	v.SetDefault("claim_ttl", def.ClaimTTL)
	v.SetDefault("secret_ttl", def.SecretTTL)
	v.SetDefault("token_ttl", def.TokenTTL)
	v.SetDefault("latest_firmware_version", def.LatestFirmwareVersion)
	v.SetDefault("firmware_download_url", def.FirmwareDownloadURL)
	v.SetDefault("bcrypt_cost", def.BcryptCost)

	v.SetEnvPrefix("TIGERCLOUD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("devcloud config: read %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("devcloud config: %w", err)
	}
	if c.JWTSecret == "" {
		return Config{}, fmt.Errorf("devcloud config: jwt_secret is empty")
	}
	return c, nil
}
