//go:build !tinygo

package hal

import (
	"context"
	"errors"
	"time"
)

// Boot runs the firmware on h until ctx is cancelled or it gives up.
type Boot func(ctx context.Context, h HAL) error

// HeadlessConfig controls the no-window host runner.
type HeadlessConfig struct {
	Options HostOptions
	// Duration stops the run after this long (0 = run forever).
	Duration time.Duration
}

// RunHeadless runs the firmware without opening a window.
func RunHeadless(ctx context.Context, boot Boot, cfg HeadlessConfig) error {
	h, err := NewHost(cfg.Options)
	if err != nil {
		return err
	}
	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}
	err = RunFirmware(ctx, h, boot)
	if errors.Is(err, context.DeadlineExceeded) && cfg.Duration > 0 {
		return nil
	}
	return err
}

// RunFirmware boots the firmware and boots it again after every Reboot.
// Flash contents and the panel glass survive a reboot; everything else is
// rebuilt by boot.
func RunFirmware(ctx context.Context, h Host, boot Boot) error {
	for {
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- boot(runCtx, h) }()

		select {
		case <-ctx.Done():
			cancel()
			<-done
			return ctx.Err()
		case <-h.HostSystem().Rebooted():
			cancel()
			<-done
		case err := <-done:
			cancel()
			select {
			case <-h.HostSystem().Rebooted():
			default:
				return err
			}
		}
		h.Logger().WriteLineString("system: reboot")
	}
}
