package logs

import (
	"fmt"
	"testing"
)

type recorder struct{ lines []string }

func (r *recorder) WriteLineString(s string) { r.lines = append(r.lines, s) }
func (r *recorder) WriteLineBytes(b []byte)  { r.lines = append(r.lines, string(b)) }

func TestRingKeepsLastLines(t *testing.T) {
	sink := &recorder{}
	r := New(sink)
	for i := 0; i < Lines+5; i++ {
		r.WriteLineString(fmt.Sprintf("line %d", i))
	}
	got := r.Snapshot()
	if len(got) != Lines {
		t.Fatalf("len = %d, want %d", len(got), Lines)
	}
	if got[0] != "line 5" || got[Lines-1] != fmt.Sprintf("line %d", Lines+4) {
		t.Fatalf("snapshot = %q .. %q", got[0], got[Lines-1])
	}
	if len(sink.lines) != Lines+5 {
		t.Fatalf("sink got %d lines", len(sink.lines))
	}
}

func TestRingSnapshotPartial(t *testing.T) {
	r := New(nil)
	r.WriteLineBytes([]byte("a"))
	r.WriteLineString("b")
	if got := r.Snapshot(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("snapshot = %q", got)
	}
}

func TestSubscribe(t *testing.T) {
	r := New(nil)
	ch, cancel := r.Subscribe()
	r.WriteLineString("hello")
	if got := <-ch; got != "hello" {
		t.Fatalf("got %q", got)
	}
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("channel open after cancel")
	}
	r.WriteLineString("after")
}

func TestLoggerPrefix(t *testing.T) {
	sink := &recorder{}
	l := For(sink, "cloud")
	l.Infof("claim %s", "AB12")
	l.Warnf("retry in %ds", 5)
	l.Errorf("boom")
	want := []string{"cloud: claim AB12", "cloud: warn: retry in 5s", "cloud: error: boom"}
	for i, w := range want {
		if sink.lines[i] != w {
			t.Fatalf("line %d = %q, want %q", i, sink.lines[i], w)
		}
	}
	For(nil, "x").Infof("dropped")
}
