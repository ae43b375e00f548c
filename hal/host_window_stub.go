//go:build !tinygo && !cgo

package hal

import (
	"context"
	"errors"
)

func RunWindow(ctx context.Context, boot Boot, opts HostOptions) error {
	_, _, _ = ctx, boot, opts
	return errors.New("window mode requires cgo (build/run with CGO_ENABLED=1, or use --headless)")
}
