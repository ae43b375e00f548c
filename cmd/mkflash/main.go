//go:build !tinygo

// Command mkflash writes a host flash image with a pre-seeded credential
// store, so `tigermeter run --flash` can boot straight into a given state.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"tigermeter/hal"
	"tigermeter/internal/store"
)

const (
	defaultFlashPath = "tigermeter.flash"
	defaultFlashSize = 4 * 1024 * 1024

	// Host images always use 4 KiB sectors; see hal.OpenHostFlash.
	eraseSize = 4096
)

// entry is one key to store. Order matters: the device secret goes last.
type entry struct {
	key, value string
}

type setFlag []entry

func (s *setFlag) String() string { return fmt.Sprint(*s) }

func (s *setFlag) Set(v string) error {
	k, val, ok := strings.Cut(v, "=")
	if !ok || k == "" {
		return fmt.Errorf("want key=value, got %q", v)
	}
	*s = append(*s, entry{key: k, value: val})
	return nil
}

func main() {
	var (
		outPath   string
		flashSize uint
		ssid      string
		password  string
		deviceID  string
		secret    string
		demo      bool
		list      bool
		extra     setFlag
	)
	flag.StringVar(&outPath, "out", defaultFlashPath, "Output flash image path.")
	flag.UintVar(&flashSize, "size", defaultFlashSize, "Flash image size (bytes).")
	flag.StringVar(&ssid, "ssid", "", "Wi-Fi network name.")
	flag.StringVar(&password, "password", "", "Wi-Fi passphrase (empty = open network).")
	flag.StringVar(&deviceID, "device-id", "", "Device id issued by the cloud.")
	flag.StringVar(&secret, "device-secret", "", "Device secret issued by the cloud.")
	flag.BoolVar(&demo, "demo", false, "Start in demo mode.")
	flag.BoolVar(&list, "list", false, "Print the keys stored in -out and exit.")
	flag.Var(&extra, "set", "Extra key=value to store (repeatable).")
	flag.Parse()

	if outPath == "" {
		fmt.Fprintln(os.Stderr, "error: -out is required")
		os.Exit(2)
	}
	if list {
		if err := dump(os.Stdout, outPath); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}
	if (deviceID == "") != (secret == "") {
		fmt.Fprintln(os.Stderr, "error: -device-id and -device-secret go together")
		os.Exit(2)
	}

	entries := append([]entry{}, extra...)
	if ssid != "" {
		entries = append(entries, entry{store.KeySSID, ssid}, entry{store.KeyPassword, password})
	}
	if demo {
		entries = append(entries, entry{store.KeyDemoMode, "true"})
	}
	if deviceID != "" {
		entries = append(entries, entry{store.KeyDeviceID, deviceID}, entry{store.KeyDeviceSecret, secret})
	}

	if err := run(outPath, uint32(flashSize), entries); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s (%d bytes, %d keys)\n", outPath, flashSize, len(entries))
}

// build formats a fresh flash of the given geometry and stores entries.
func build(flashSize uint32, entries []entry) (*hal.MemFlash, error) {
	if flashSize == 0 || flashSize%eraseSize != 0 {
		return nil, fmt.Errorf("flash: size %d not multiple of erase size %d", flashSize, eraseSize)
	}
	mem := hal.NewMemFlash(flashSize, eraseSize)
	layout, err := hal.NewLayout(mem)
	if err != nil {
		return nil, fmt.Errorf("partition flash of %d bytes: %w", flashSize, err)
	}
	kvlog, err := store.Open(layout.Store)
	if err != nil {
		return nil, err
	}
	kv := kvlog.Namespace(store.Namespace)
	for _, e := range entries {
		if err := kv.Put(e.key, e.value); err != nil {
			return nil, fmt.Errorf("store %s: %w", e.key, err)
		}
	}
	return mem, nil
}

func run(outPath string, flashSize uint32, entries []entry) error {
	mem, err := build(flashSize, entries)
	if err != nil {
		return err
	}
	img := mem.Bytes()

	// Write next to the target and rename so a running host never sees a
	// half-written image.
	tmp, err := os.CreateTemp(filepath.Dir(outPath), ".mkflash-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(img); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %q: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), outPath)
}

// dump lists the keys of an existing image. The device secret is masked.
func dump(w io.Writer, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	flash, err := hal.OpenHostFlash(path)
	if err != nil {
		return err
	}
	if c, ok := flash.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}
	layout, err := hal.NewLayout(flash)
	if err != nil {
		return fmt.Errorf("partition %q: %w", path, err)
	}
	kvlog, err := store.Open(layout.Store)
	if err != nil {
		return err
	}
	kv := kvlog.Namespace(store.Namespace)
	keys := kv.Keys()
	if len(keys) == 0 {
		return errors.New("store is empty")
	}
	for _, k := range keys {
		v := kv.Get(k)
		if k == store.KeyDeviceSecret && len(v) > 6 {
			v = v[:6] + strings.Repeat("*", len(v)-6)
		}
		fmt.Fprintf(w, "%-14s %s\n", k, v)
	}
	return nil
}
