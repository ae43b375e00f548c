//go:build !(tinygo && baremetal && bootdebug)

package app

import "tigermeter/hal"

// bootStep is a no-op unless built with -tags bootdebug.
func bootStep(h hal.HAL, step string) {}
