//go:build !tinygo

package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tigermeter/hal"
	"tigermeter/internal/store"
)

func TestRunSeedsStore(t *testing.T) {
	out := filepath.Join(t.TempDir(), "dev.flash")
	entries := []entry{
		{store.KeySSID, "lab"},
		{store.KeyPassword, "hunter22"},
		{store.KeyDeviceID, "dev-1"},
		{store.KeyDeviceSecret, "ds_0123456789"},
	}
	if err := run(out, 1<<20, entries); err != nil {
		t.Fatalf("run: %v", err)
	}
	st, err := os.Stat(out)
	if err != nil {
		t.Fatal(err)
	}
	if st.Size() != 1<<20 {
		t.Fatalf("image size = %d", st.Size())
	}

	flash, err := hal.OpenHostFlash(out)
	if err != nil {
		t.Fatal(err)
	}
	defer flash.(io.Closer).Close()
	layout, err := hal.NewLayout(flash)
	if err != nil {
		t.Fatal(err)
	}
	kvlog, err := store.Open(layout.Store)
	if err != nil {
		t.Fatal(err)
	}
	kv := kvlog.Namespace(store.Namespace)
	for _, e := range entries {
		if got := kv.Get(e.key); got != e.value {
			t.Fatalf("%s = %q, want %q", e.key, got, e.value)
		}
	}
}

func TestBuildRejectsBadSize(t *testing.T) {
	for _, size := range []uint32{0, 4097, 4096} {
		if _, err := build(size, nil); err == nil {
			t.Fatalf("build(%d) succeeded", size)
		}
	}
}

func TestDumpMasksSecret(t *testing.T) {
	out := filepath.Join(t.TempDir(), "dev.flash")
	if err := run(out, 1<<20, []entry{{store.KeyDeviceID, "dev-1"}, {store.KeyDeviceSecret, "ds_0123456789"}}); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := dump(&buf, out); err != nil {
		t.Fatalf("dump: %v", err)
	}
	if strings.Contains(buf.String(), "0123456789") {
		t.Fatalf("secret leaked: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "dev-1") || !strings.Contains(buf.String(), "ds_012****") {
		t.Fatalf("dump = %q", buf.String())
	}
}

func TestSetFlag(t *testing.T) {
	var s setFlag
	if err := s.Set("tz=UTC"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("novalue"); err == nil {
		t.Fatal("accepted value without '='")
	}
	if len(s) != 1 || s[0].key != "tz" || s[0].value != "UTC" {
		t.Fatalf("entries = %+v", s)
	}
}
