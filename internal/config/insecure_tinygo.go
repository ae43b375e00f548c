//go:build tinygo

package config

// Deployed boards ship without a CA bundle.
const defaultInsecure = true
