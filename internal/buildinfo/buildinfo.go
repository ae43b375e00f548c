package buildinfo

import (
	"strconv"
	"strings"
)

// Version is set at build time via -ldflags, e.g. "v28".
var Version = "dev"

// Commit is set at build time via -ldflags.
var Commit = "unknown"

// Date is set at build time via -ldflags.
var Date = "unknown"

// Short returns a compact build identifier for UI/logging.
func Short() string {
	if Version != "" && Version != "dev" {
		return Version
	}
	if Commit != "" && Commit != "unknown" {
		return Commit
	}
	return "dev"
}

// Number is the numeric firmware version compared against the server's
// latestFirmwareVersion. Development builds are 0.
func Number() int {
	return Parse(Version)
}

// Parse reads "v28", "28" or "28.1" as 28. Anything else is 0.
func Parse(v string) int {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	end := 0
	for end < len(v) && v[end] >= '0' && v[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(v[:end])
	if err != nil {
		return 0
	}
	return n
}

// Firmware is the version string reported to the cloud and covered by the
// claim signature: "v28", whatever spelling the build used.
func Firmware() string {
	if n := Number(); n > 0 {
		return "v" + strconv.Itoa(n)
	}
	return Short()
}
