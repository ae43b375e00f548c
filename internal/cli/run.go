//go:build !tinygo

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tigermeter/app"
	"tigermeter/hal"
	"tigermeter/internal/config"
	"tigermeter/internal/epd/periphbus"
	"tigermeter/internal/logs"
)

const (
	panelSim    = "sim"
	panelSPIDev = "spidev"
)

var (
	runHeadless bool
	runDuration time.Duration
	runPortal   string
	runNoPortal bool
	runAPI      string
	runMAC      string
	runLatency  time.Duration
	runPanel    string
	runSPIPort  string
	runPins     = periphbus.DefaultPins
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Boot the firmware on the simulated board",
	Long: `Boot the firmware against the simulated panel. By default a window shows
the glass and the LED; --headless runs without one (device log on stderr).

The captive portal listens on --portal instead of port 80. With
--panel spidev the firmware drives a real panel on a Linux board (spidev plus
GPIO, BCM numbering) while the window keeps showing the LED.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runHeadless, "headless", false, "Run without a window")
	runCmd.Flags().DurationVar(&runDuration, "duration", 0, "Stop after this long in headless mode (0 = forever)")
	addBoardFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

// addBoardFlags registers the flags shared by every command that boots the
// firmware.
func addBoardFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&runPortal, "portal", "127.0.0.1:8081", "Captive portal listen address")
	cmd.Flags().BoolVar(&runNoPortal, "no-portal", false, "Do not start the captive portal")
	cmd.Flags().StringVar(&runAPI, "api", "", "Cloud API base URL (overrides config)")
	cmd.Flags().StringVar(&runMAC, "mac", "", "Emulated MAC address")
	cmd.Flags().DurationVar(&runLatency, "panel-latency", 0, "Simulated panel refresh time")
	cmd.Flags().StringVar(&runPanel, "panel", panelSim, "Panel backend: sim|spidev")
	cmd.Flags().StringVar(&runSPIPort, "spi-port", "", "SPI port for --panel spidev (empty = first)")
	cmd.Flags().IntVar(&runPins.CS, "pin-cs", runPins.CS, "Chip select GPIO (-1 = spidev CE line)")
	cmd.Flags().IntVar(&runPins.DC, "pin-dc", runPins.DC, "Data/command GPIO")
	cmd.Flags().IntVar(&runPins.RST, "pin-rst", runPins.RST, "Reset GPIO")
	cmd.Flags().IntVar(&runPins.Busy, "pin-busy", runPins.Busy, "Busy GPIO")
}

// boardConfig applies the board flags over the loaded configuration.
func boardConfig() (config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return config.Config{}, err
	}
	if runPortal != "" {
		cfg.PortalAddr = runPortal
	}
	if runAPI != "" {
		cfg.APIBaseURL = runAPI
	}
	return cfg, nil
}

func hostOptions(panel *hal.PanelPort) hal.HostOptions {
	return hal.HostOptions{
		FlashPath:    flashPath,
		MAC:          runMAC,
		Log:          os.Stderr,
		PanelLatency: runLatency,
		Panel:        panel,
	}
}

// openPanel returns the wiring picked by --panel; nil selects the simulator.
// The returned func releases the hardware.
func openPanel() (*hal.PanelPort, func() error, error) {
	switch runPanel {
	case "", panelSim:
		return nil, func() error { return nil }, nil
	case panelSPIDev:
		bus, err := periphbus.Open(runSPIPort, runPins)
		if err != nil {
			return nil, nil, err
		}
		c := bus.Config()
		return &hal.PanelPort{Bus: c.Bus, CS: c.CS, DC: c.DC, RST: c.RST, Busy: c.Busy}, bus.Close, nil
	default:
		return nil, nil, fmt.Errorf("--panel: unknown backend %q (want %s or %s)", runPanel, panelSim, panelSPIDev)
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := boardConfig()
	if err != nil {
		return err
	}
	panel, release, err := openPanel()
	if err != nil {
		return err
	}
	defer func() { _ = release() }()
	log := logs.Get(logLevel)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	boot := app.Boot(app.Options{Config: cfg, Sink: log, NoPortal: runNoPortal})
	log.Infow("booting", "api", cfg.APIBaseURL, "portal", cfg.PortalAddr, "flash", flashPath, "headless", runHeadless, "panel", runPanel)

	if runHeadless {
		err = hal.RunHeadless(ctx, boot, hal.HeadlessConfig{Options: hostOptions(panel), Duration: runDuration})
	} else {
		err = hal.RunWindow(ctx, boot, hostOptions(panel))
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
