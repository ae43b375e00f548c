//go:build !tinygo

package app

import (
	"context"

	"tinygo.org/x/drivers/netlink"

	"tigermeter/hal"
	"tigermeter/internal/logs"
	"tigermeter/internal/portal"
)

// Boot adapts Start to the host runner.
func Boot(opts Options) hal.Boot {
	return func(ctx context.Context, h hal.HAL) error {
		return Start(ctx, h, opts)
	}
}

func (f *Firmware) startPortal(ctx context.Context) (<-chan struct{}, error) {
	err := f.HAL.Network().NetConnect(&netlink.ConnectParams{
		ConnectMode: netlink.ConnectModeAP,
		Ssid:        f.APName,
		AuthType:    netlink.AuthTypeOpen,
	})
	if err != nil {
		return nil, err
	}

	zl, _ := f.opts.Sink.(*logs.Zap)
	h := portal.NewHandler(portal.Options{
		Device:      f.Supervisor,
		OTA:         f.OTA,
		Ring:        f.Ring,
		Network:     f.HAL.Network(),
		APName:      f.APName,
		APIP:        f.Config.APIP,
		WiFiTimeout: f.Config.WiFiTimeout,
		Log:         zl,
	})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		srv := &portal.Server{}
		if err := srv.Serve(ctx, f.Config.PortalAddr, h.InitRoutes()); err != nil {
			f.log.Errorf("portal %s: %v", f.Config.PortalAddr, err)
		}
	}()
	f.log.Infof("portal on %s", f.Config.PortalAddr)
	return stopped, nil
}
