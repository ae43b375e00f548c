//go:build tinygo

package main

import (
	"tigermeter/app"
	"tigermeter/hal"
)

func main() {
	app.Run(hal.New())
}
