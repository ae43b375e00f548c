// Package logs keeps the recent device log lines for the portal and fans
// every line out to the board logger.
package logs

import (
	"fmt"
	"sync"

	"tigermeter/hal"
)

// Lines is the number of lines kept.
const Lines = 30

// Ring is a hal.Logger that remembers the last Lines lines.
type Ring struct {
	mu    sync.Mutex
	sink  hal.Logger
	lines [Lines]string
	head  int
	n     int
	subs  map[int]chan string
	next  int
}

// New returns a ring forwarding to sink; sink may be nil.
func New(sink hal.Logger) *Ring {
	return &Ring{sink: sink, subs: make(map[int]chan string)}
}

func (r *Ring) WriteLineString(s string) {
	r.mu.Lock()
	r.lines[r.head] = s
	r.head = (r.head + 1) % Lines
	if r.n < Lines {
		r.n++
	}
	for _, ch := range r.subs {
		select {
		case ch <- s:
		default:
		}
	}
	sink := r.sink
	r.mu.Unlock()
	if sink != nil {
		sink.WriteLineString(s)
	}
}

func (r *Ring) WriteLineBytes(b []byte) { r.WriteLineString(string(b)) }

// Snapshot returns the kept lines, oldest first.
func (r *Ring) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, r.n)
	start := (r.head - r.n + Lines) % Lines
	for i := 0; i < r.n; i++ {
		out = append(out, r.lines[(start+i)%Lines])
	}
	return out
}

// Subscribe streams new lines until cancel is called. Slow readers miss
// lines rather than block the writer.
func (r *Ring) Subscribe() (<-chan string, func()) {
	ch := make(chan string, Lines)
	r.mu.Lock()
	id := r.next
	r.next++
	r.subs[id] = ch
	r.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
			close(ch)
		})
	}
}

// Logger prefixes lines with a component name.
type Logger struct {
	out       hal.Logger
	component string
}

// For returns a logger writing "component: ..." lines to out.
func For(out hal.Logger, component string) Logger {
	return Logger{out: out, component: component}
}

func (l Logger) printf(level, format string, args ...any) {
	if l.out == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if level != "" {
		msg = level + " " + msg
	}
	l.out.WriteLineString(l.component + ": " + msg)
}

func (l Logger) Infof(format string, args ...any)  { l.printf("", format, args...) }
func (l Logger) Warnf(format string, args ...any)  { l.printf("warn:", format, args...) }
func (l Logger) Errorf(format string, args ...any) { l.printf("error:", format, args...) }
