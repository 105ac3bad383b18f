// Package logging builds the zerolog loggers used across callsheet.
package logging

import (
	"bytes"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"

	FieldComponent = "component"
	FieldSession   = "session"
	FieldOp        = "op"
	FieldEventID   = "event_id"
)

// Options configures New.
type Options struct {
	Level  string
	Format string
	Out    io.Writer // defaults to os.Stderr
	Ring   *Ring     // optional; receives a copy of every line
}

// New returns a root logger. Unknown levels fall back to info.
func New(opts Options) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if strings.ToLower(opts.Format) != FormatJSON {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	if opts.Ring != nil {
		out = zerolog.MultiLevelWriter(out, opts.Ring)
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Component returns a child logger tagged with the component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str(FieldComponent, name).Logger()
}

// Nop returns a disabled logger, used as the default when a component is
// built without one.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// Ring is an io.Writer that keeps the last N log lines in memory for the
// admin log view.
type Ring struct {
	mu    sync.Mutex
	lines []string
	size  int
	next  int
	full  bool
}

// NewRing creates a Ring holding up to size lines.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = 100
	}
	return &Ring{lines: make([]string, size), size: size}
}

// Write stores each newline-terminated line of p.
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range bytes.Split(bytes.TrimRight(p, "\n"), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		r.lines[r.next] = string(line)
		r.next = (r.next + 1) % r.size
		if r.next == 0 {
			r.full = true
		}
	}
	return len(p), nil
}

// Tail returns up to n of the most recent lines, oldest first.
func (r *Ring) Tail(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := r.next
	if r.full {
		count = r.size
	}
	if n <= 0 || n > count {
		n = count
	}
	out := make([]string, 0, n)
	start := (r.next - n + r.size) % r.size
	for i := 0; i < n; i++ {
		out = append(out, r.lines[(start+i)%r.size])
	}
	return out
}
