//go:build !tinygo

package hal

import (
	"crypto/sha256"
	"net"
	"os"
	"sync"

	"tinygo.org/x/drivers/netlink"
)

// hostNetwork emulates the Wi-Fi coprocessor. The host is always online, so a
// station connect succeeds for any well-formed credentials.
type hostNetwork struct {
	mu     sync.Mutex
	mac    net.HardwareAddr
	up     bool
	ap     bool
	notify func(netlink.Event)
}

func newHostNetwork(mac string) *hostNetwork {
	n := &hostNetwork{}
	if hw, err := net.ParseMAC(mac); err == nil && len(hw) == 6 {
		n.mac = hw
	} else {
		host, _ := os.Hostname()
		sum := sha256.Sum256([]byte("tigermeter:" + host))
		n.mac = net.HardwareAddr{0x24, 0x6F, 0x28, sum[0], sum[1], sum[2]}
	}
	return n
}

func (n *hostNetwork) NetConnect(p *netlink.ConnectParams) error {
	if p == nil {
		return netlink.ErrConnectFailed
	}
	if p.Ssid == "" {
		return netlink.ErrMissingSSID
	}
	if p.AuthType != netlink.AuthTypeOpen && len(p.Passphrase) > 0 && len(p.Passphrase) < 8 {
		return netlink.ErrShortPassphrase
	}

	n.mu.Lock()
	if p.ConnectMode == netlink.ConnectModeAP {
		n.ap = true
		n.mu.Unlock()
		return nil
	}
	n.up = true
	cb := n.notify
	n.mu.Unlock()
	if cb != nil {
		cb(netlink.EventNetUp)
	}
	return nil
}

func (n *hostNetwork) NetDisconnect() {
	n.mu.Lock()
	was := n.up
	n.up = false
	cb := n.notify
	n.mu.Unlock()
	if was && cb != nil {
		cb(netlink.EventNetDown)
	}
}

func (n *hostNetwork) NetNotify(cb func(netlink.Event)) {
	n.mu.Lock()
	n.notify = cb
	n.mu.Unlock()
}

func (n *hostNetwork) GetHardwareAddr() (net.HardwareAddr, error) {
	return n.mac, nil
}

func (n *hostNetwork) IP() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.up {
		return ""
	}
	return "127.0.0.1"
}

func (n *hostNetwork) RSSI() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.up {
		return 0
	}
	return -42
}
