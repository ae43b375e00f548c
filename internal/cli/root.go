//go:build !tinygo

// Package cli is the host command line for the TigerMeter firmware.
package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"tigermeter/hal"
	"tigermeter/internal/buildinfo"
	"tigermeter/internal/config"
	"tigermeter/internal/logs"
	"tigermeter/internal/store"
)

var (
	cfgPath   string
	logLevel  string
	flashPath string
)

var rootCmd = &cobra.Command{
	Use:   "tigermeter",
	Short: "TigerMeter e-paper meter, host build",
	Long: `TigerMeter - runs the device firmware on the host against a simulated
e-paper panel, emulated Wi-Fi and a file-backed flash.

  run      boot the firmware in a window (or --headless)
  tui      boot the firmware headless with a terminal status view
  render   compose an instruction JSON into a PNG
  claim    drive one device claim against a cloud
  monitor  tail a board's UART log

The flash image given by --flash survives restarts, so a claimed host device
boots straight back into ACTIVE. Configuration comes from --config (YAML)
and TIGERMETER_* environment variables.`,
	Version:      buildinfo.Short(),
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Device config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", logs.InfoLevel, "debug|info|warn|error")
	rootCmd.PersistentFlags().StringVarP(&flashPath, "flash", "f", "", "Flash image file (empty = volatile)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openStore opens the device namespace of the flash image at path.
func openStore(path string) (*store.Store, func() error, error) {
	flash, err := hal.OpenHostFlash(path)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() error {
		if c, ok := flash.(io.Closer); ok {
			return c.Close()
		}
		return nil
	}
	layout, err := hal.NewLayout(flash)
	if err != nil {
		_ = closeFn()
		return nil, nil, fmt.Errorf("partition flash: %w", err)
	}
	kv, err := store.Open(layout.Store)
	if err != nil {
		_ = closeFn()
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return kv.Namespace(store.Namespace), closeFn, nil
}
