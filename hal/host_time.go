//go:build !baremetal

package hal

import "time"

type hostClock struct {
	boot time.Time
}

func newHostClock() *hostClock {
	return &hostClock{boot: time.Now()}
}

func (c *hostClock) Now() time.Time        { return time.Now() }
func (c *hostClock) Uptime() time.Duration { return time.Since(c.boot) }
func (c *hostClock) Sleep(d time.Duration) { time.Sleep(d) }
