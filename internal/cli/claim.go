//go:build !tinygo

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tigermeter/hal"
	"tigermeter/internal/buildinfo"
	"tigermeter/internal/cloud"
	"tigermeter/internal/store"
)

var (
	claimAPI   string
	claimMAC   string
	claimWait  time.Duration
	claimWrite bool
)

var claimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Drive one device claim against a cloud",
	Long: `Request a claim code as the device would, print it, and poll until an
operator attaches it. With --write the issued credentials are stored in the
--flash image so "tigermeter run" boots straight into ACTIVE.`,
	RunE: runClaim,
}

func init() {
	claimCmd.Flags().StringVar(&claimAPI, "api", "", "Cloud API base URL (overrides config)")
	claimCmd.Flags().StringVar(&claimMAC, "mac", "", "MAC to claim as (default: the emulated board's)")
	claimCmd.Flags().DurationVar(&claimWait, "wait", 5*time.Minute, "Give up polling after this long")
	claimCmd.Flags().BoolVar(&claimWrite, "write", false, "Store the credentials in the flash image")
	rootCmd.AddCommand(claimCmd)
}

// claimPoller is the part of the cloud client the poll loop needs.
type claimPoller interface {
	PollClaim(ctx context.Context, code string) (cloud.Credentials, error)
}

// waitForAttach polls code every interval until the claim is attached, the
// cloud rejects it, or ctx ends. pending is called after each pending poll.
func waitForAttach(ctx context.Context, api claimPoller, code string, interval time.Duration, pending func()) (cloud.Credentials, error) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		creds, err := api.PollClaim(ctx, code)
		switch {
		case err == nil:
			return creds, nil
		case cloud.KindOf(err) == cloud.KindClaimPending:
			if pending != nil {
				pending()
			}
		case cloud.KindOf(err) == cloud.KindTransport && ctx.Err() == nil:
			// Retry; the cloud may be restarting.
		default:
			return cloud.Credentials{}, err
		}
		select {
		case <-ctx.Done():
			return cloud.Credentials{}, ctx.Err()
		case <-t.C:
		}
	}
}

// claimHardwareAddr parses mac, or returns the address the emulated board
// reports when mac is empty.
func claimHardwareAddr(mac string) (net.HardwareAddr, error) {
	if mac != "" {
		hw, err := net.ParseMAC(mac)
		if err != nil {
			return nil, fmt.Errorf("--mac: %w", err)
		}
		return hw, nil
	}
	h, err := hal.NewHost(hal.HostOptions{Log: io.Discard})
	if err != nil {
		return nil, err
	}
	return h.Network().GetHardwareAddr()
}

// storeCredentials persists a claim. The secret goes last so an interrupted
// write never leaves a secret without its device id.
func storeCredentials(kv *store.Store, creds cloud.Credentials) error {
	if err := kv.Remove(store.KeyDisplayHash); err != nil {
		return err
	}
	if err := kv.Put(store.KeyDeviceID, creds.DeviceID); err != nil {
		return err
	}
	return kv.Put(store.KeyDeviceSecret, creds.DeviceSecret)
}

func runClaim(cmd *cobra.Command, args []string) error {
	if claimWrite && flashPath == "" {
		return errors.New("--write needs --flash")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if claimAPI != "" {
		cfg.APIBaseURL = claimAPI
	}
	hw, err := claimHardwareAddr(claimMAC)
	if err != nil {
		return err
	}

	api := cloud.New(cloud.Config{
		BaseURL:         cfg.APIBaseURL,
		HMACKey:         cfg.HMACKey,
		FirmwareVersion: buildinfo.Firmware(),
		MAC:             hw,
		Insecure:        cfg.TLSInsecure,
		Timeout:         cfg.HTTPTimeout,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, claimWait)
	defer cancel()

	out := cmd.OutOrStdout()
	cl, err := api.IssueClaim(ctx)
	if err != nil {
		return fmt.Errorf("issue claim: %w", err)
	}
	fmt.Fprintf(out, "MAC:        %s\n", cloud.MACString(hw))
	fmt.Fprintf(out, "Claim code: %s\n", cl.Code)
	fmt.Fprintf(out, "Expires:    %s\n", cl.ExpiresAt)
	fmt.Fprintln(out, "Waiting for attach...")

	creds, err := waitForAttach(ctx, api, cl.Code, cfg.ClaimPollInterval, func() {
		fmt.Fprint(cmd.ErrOrStderr(), ".")
	})
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("poll claim %s: %w", cl.Code, err)
	}
	fmt.Fprintf(out, "Device ID:  %s\n", creds.DeviceID)
	fmt.Fprintf(out, "Secret:     %s\n", creds.DeviceSecret)
	if creds.ExpiresAt != "" {
		fmt.Fprintf(out, "Secret expires: %s\n", creds.ExpiresAt)
	}

	if !claimWrite {
		return nil
	}
	kv, closeFlash, err := openStore(flashPath)
	if err != nil {
		return err
	}
	defer func() { _ = closeFlash() }()
	if err := storeCredentials(kv, creds); err != nil {
		return fmt.Errorf("store credentials: %w", err)
	}
	fmt.Fprintf(out, "Credentials written to %s\n", flashPath)
	return nil
}
