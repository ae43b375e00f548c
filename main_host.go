//go:build !tinygo

package main

import (
	"os"

	"tigermeter/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
