// Package app wires a board to the firmware. Boot order: credential store,
// access point and portal, panel driver, supervisor.
package app

import (
	"context"
	"fmt"

	"tigermeter/hal"
	"tigermeter/internal/buildinfo"
	"tigermeter/internal/cloud"
	"tigermeter/internal/config"
	"tigermeter/internal/device"
	"tigermeter/internal/epd"
	"tigermeter/internal/logs"
	"tigermeter/internal/ota"
	"tigermeter/internal/store"
)

// Options tunes a boot.
type Options struct {
	Config config.Config
	// Sink receives every log line; defaults to the board logger.
	Sink hal.Logger
	// Firmware overrides the running version number.
	Firmware int
	// NoPortal skips the access point and portal server.
	NoPortal bool
	// Started is called once the firmware is wired, before it runs.
	Started func(*Firmware)
}

// Firmware is one boot's worth of wiring.
type Firmware struct {
	HAL        hal.HAL
	Config     config.Config
	Ring       *logs.Ring
	Store      *store.Store
	Panel      *epd.Driver
	OTA        *ota.Engine
	Supervisor *device.Supervisor
	APName     string

	opts Options
	log  logs.Logger
}

// New builds the firmware on h. Nothing touches the panel or the network
// until Run.
func New(h hal.HAL, opts Options) (*Firmware, error) {
	cfg := opts.Config
	sink := opts.Sink
	if sink == nil {
		sink = h.Logger()
	}
	ring := logs.New(sink)

	bootStep(h, "flash")
	layout, err := hal.NewLayout(h.Flash())
	if err != nil {
		return nil, fmt.Errorf("app: flash layout: %w", err)
	}
	kvlog, err := store.Open(layout.Store)
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}
	kv := kvlog.Namespace(store.Namespace)

	bootStep(h, "network")

	hw, err := h.Network().GetHardwareAddr()
	if err != nil {
		hw = nil
	}
	fw := opts.Firmware
	if fw == 0 {
		fw = buildinfo.Number()
	}

	clock := h.Clock()
	api := cloud.New(cloud.Config{
		BaseURL:         cfg.APIBaseURL,
		HMACKey:         cfg.HMACKey,
		FirmwareVersion: buildinfo.Firmware(),
		MAC:             hw,
		Insecure:        cfg.TLSInsecure,
		Timeout:         cfg.HTTPTimeout,
		Uptime:          clock.Uptime,
	})
	engine := ota.New(h.Updater(), cfg.TLSInsecure, cfg.OTATimeout)

	bootStep(h, "panel")
	port := h.Panel()
	panel := epd.New(epd.Config{
		Bus:   port.Bus,
		CS:    port.CS,
		DC:    port.DC,
		RST:   port.RST,
		Busy:  port.Busy,
		Sleep: clock.Sleep,
	})

	sup := device.New(device.Deps{
		Config:   cfg,
		Log:      ring,
		Clock:    clock,
		LED:      h.LED(),
		Buzzer:   h.Buzzer(),
		Network:  h.Network(),
		System:   h.System(),
		Panel:    panel,
		API:      api,
		OTA:      engine,
		Store:    kv,
		Firmware: fw,
	})

	return &Firmware{
		HAL:        h,
		Config:     cfg,
		Ring:       ring,
		Store:      kv,
		Panel:      panel,
		OTA:        engine,
		Supervisor: sup,
		APName:     device.APName(hw),
		opts:       opts,
		log:        logs.For(ring, "app"),
	}, nil
}

// Run starts the portal and runs the supervisor until ctx ends or the
// device reboots. A panic is reported as ErrPanic.
func (f *Firmware) Run(ctx context.Context) (err error) {
	defer f.recoverPanic(&err)
	f.log.Infof("tigermeter %s ap=%s api=%s", buildinfo.Short(), f.APName, f.Config.APIBaseURL)
	if !f.opts.NoPortal {
		pctx, cancel := context.WithCancel(ctx)
		stopped, perr := f.startPortal(pctx)
		if perr != nil {
			cancel()
			// The device still works with stored credentials.
			f.log.Errorf("portal: %v", perr)
		} else {
			// The next boot listens on the same address.
			defer func() {
				cancel()
				<-stopped
			}()
		}
	}
	bootStep(f.HAL, "running")
	return f.Supervisor.Run(ctx)
}

// Start builds and runs the firmware on h.
func Start(ctx context.Context, h hal.HAL, opts Options) error {
	f, err := New(h, opts)
	if err != nil {
		return err
	}
	if opts.Started != nil {
		opts.Started(f)
	}
	return f.Run(ctx)
}
