//go:build tinygo

package app

import (
	"context"
	"errors"
	"time"

	"tinygo.org/x/drivers/netlink"

	"tigermeter/hal"
	"tigermeter/internal/config"
)

// panicRebootDelay keeps the panic screen readable before the reset.
const panicRebootDelay = 10 * time.Second

// Run boots the board with the compiled-in configuration and never returns.
// Reboot requests and panics reset the CPU.
func Run(h hal.HAL) {
	err := Start(context.Background(), h, Options{Config: config.Default()})
	if err != nil {
		h.Logger().WriteLineString("app: " + err.Error())
	}
	if errors.Is(err, ErrPanic) {
		h.Clock().Sleep(panicRebootDelay)
		h.System().Reboot()
	}
	select {}
}

// The board has no HTTP stack; only the access point is raised.
func (f *Firmware) startPortal(ctx context.Context) (<-chan struct{}, error) {
	_ = ctx
	stopped := make(chan struct{})
	close(stopped)
	return stopped, f.HAL.Network().NetConnect(&netlink.ConnectParams{
		ConnectMode: netlink.ConnectModeAP,
		Ssid:        f.APName,
		AuthType:    netlink.AuthTypeOpen,
	})
}
