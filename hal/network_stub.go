//go:build tinygo

package hal

import (
	"net"

	"tinygo.org/x/drivers/netlink"
)

// nullNetwork is used on boards without a Wi-Fi coprocessor driver. The
// firmware stays on the Wi-Fi setup screen.
type nullNetwork struct{}

func (nullNetwork) NetConnect(params *netlink.ConnectParams) error {
	_ = params
	return netlink.ErrNotSupported
}

func (nullNetwork) NetDisconnect() {}

func (nullNetwork) NetNotify(cb func(netlink.Event)) { _ = cb }

func (nullNetwork) GetHardwareAddr() (net.HardwareAddr, error) {
	return nil, ErrNotImplemented
}

func (nullNetwork) IP() string { return "" }
func (nullNetwork) RSSI() int  { return 0 }

// nullUpdater refuses every image; used when the flash is too small to
// hold two slots.
type nullUpdater struct{}

func (nullUpdater) Begin(size int64) (UpdateWriter, error) {
	_ = size
	return nil, ErrNotImplemented
}
