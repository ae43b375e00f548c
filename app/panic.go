package app

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"unicode/utf8"

	"tigermeter/internal/gfx"
	"tigermeter/internal/render"
)

// ErrPanic marks a run that ended in a recovered panic.
var ErrPanic = errors.New("app: firmware panic")

// panicLineRunes bounds the message shown on the glass.
const panicLineRunes = 24

// recoverPanic turns a panic in the firmware into log lines and an error
// screen, and reports it through errp. Must be deferred.
func (f *Firmware) recoverPanic(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	msg := fmt.Sprintf("%v", r)
	f.log.Errorf("panic: %s", msg)
	for _, line := range strings.Split(string(debug.Stack()), "\n") {
		if line == "" {
			continue
		}
		f.Ring.WriteLineString(line)
	}

	fb := gfx.New()
	sub, _ := takeRunes(msg, panicLineRunes)
	render.Screen{Band: "!", Top: "panic", Main: "Restarting", Sub: sub}.Draw(fb)
	// The panel may be asleep or mid-refresh; start it over.
	err := f.Panel.Init()
	if err == nil {
		err = f.Panel.DisplayFull(fb.Bytes())
	}
	if err != nil {
		f.log.Errorf("panel: %v", err)
	}
	*errp = fmt.Errorf("%w: %s", ErrPanic, msg)
}

func takeRunes(s string, n int) (prefix, rest string) {
	if n <= 0 || s == "" {
		return "", s
	}
	if len(s) <= n {
		return s, ""
	}
	i, count := 0, 0
	for i < len(s) && count < n {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
		count++
	}
	return s[:i], s[i:]
}
