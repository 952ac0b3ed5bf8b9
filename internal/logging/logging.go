// Package logging builds the process logger: a tty-aware slog handler
// teed into an in-memory ring that backs the log endpoints.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

const defaultBufferSize = 500

// Options configures New.
type Options struct {
	Level      string
	BufferSize int
	Output     io.Writer // defaults to os.Stderr
	Secrets    []string  // scrubbed from ring entries
}

// New returns a logger and the ring it records into.
func New(opts Options) (*slog.Logger, *Ring) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	size := opts.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}

	hopts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	var inner slog.Handler
	if isTerminal(out) {
		inner = slog.NewTextHandler(out, hopts)
	} else {
		inner = slog.NewJSONHandler(out, hopts)
	}

	ring := NewRing(size)
	ring.SetRedactor(NewRedactor(opts.Secrets...))
	return slog.New(ring.Handler(inner)), ring
}

// ParseLevel maps debug|info|warn|error to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
