package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Entry is one recorded log line.
type Entry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// Ring keeps the most recent entries and fans new ones out to subscribers.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	maxSize int
	redact  *Redactor

	// Subscribers for real-time log streaming
	subMu sync.Mutex
	subs  map[chan Entry]struct{}
}

func NewRing(maxSize int) *Ring {
	if maxSize <= 0 {
		maxSize = defaultBufferSize
	}
	return &Ring{
		entries: make([]Entry, 0, maxSize),
		maxSize: maxSize,
		subs:    make(map[chan Entry]struct{}),
	}
}

func (r *Ring) add(e Entry) {
	r.mu.Lock()
	e.Message = r.redact.Redact(e.Message)
	if len(r.entries) >= r.maxSize {
		r.entries = r.entries[1:]
	}
	r.entries = append(r.entries, e)
	r.mu.Unlock()

	// Notify subscribers (non-blocking)
	r.subMu.Lock()
	for ch := range r.subs {
		select {
		case ch <- e:
		default:
		}
	}
	r.subMu.Unlock()
}

// SetRedactor scrubs every entry recorded from now on.
func (r *Ring) SetRedactor(red *Redactor) {
	r.mu.Lock()
	r.redact = red
	r.mu.Unlock()
}

// Entries returns a copy of all stored entries, oldest first.
func (r *Ring) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]Entry, len(r.entries))
	copy(cp, r.entries)
	return cp
}

// Subscribe returns a channel that receives new entries in real time.
// Slow subscribers miss entries rather than blocking the logger.
func (r *Ring) Subscribe() chan Entry {
	ch := make(chan Entry, 64)
	r.subMu.Lock()
	r.subs[ch] = struct{}{}
	r.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (r *Ring) Unsubscribe(ch chan Entry) {
	r.subMu.Lock()
	delete(r.subs, ch)
	r.subMu.Unlock()
	close(ch)
}

// Handler wraps inner so every handled record is also recorded in r.
func (r *Ring) Handler(inner slog.Handler) slog.Handler {
	return &ringHandler{inner: inner, ring: r}
}

type ringHandler struct {
	inner  slog.Handler
	ring   *Ring
	prefix string // rendered attrs from WithAttrs
	group  string
}

func (h *ringHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.inner.Enabled(ctx, l)
}

func (h *ringHandler) Handle(ctx context.Context, rec slog.Record) error {
	var b strings.Builder
	b.WriteString(rec.Message)
	b.WriteString(h.prefix)
	rec.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, h.group, a)
		return true
	})
	h.ring.add(Entry{Time: rec.Time, Level: rec.Level.String(), Message: b.String()})
	return h.inner.Handle(ctx, rec)
}

func (h *ringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	b.WriteString(h.prefix)
	for _, a := range attrs {
		writeAttr(&b, h.group, a)
	}
	return &ringHandler{inner: h.inner.WithAttrs(attrs), ring: h.ring, prefix: b.String(), group: h.group}
}

func (h *ringHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &ringHandler{inner: h.inner.WithGroup(name), ring: h.ring, prefix: h.prefix, group: group}
}

func writeAttr(b *strings.Builder, group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if group != "" {
		key = group + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, sub := range a.Value.Group() {
			writeAttr(b, key, sub)
		}
		return
	}
	fmt.Fprintf(b, " %s=%v", key, a.Value.Any())
}
