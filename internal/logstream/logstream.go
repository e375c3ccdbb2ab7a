// Package logstream turns slog records into operator-facing log events.
//
// Handler wraps another slog.Handler and publishes every record it handles
// to a Hub. The Hub keeps the most recent events and fans them out to
// subscribers such as WebSocket clients.
package logstream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gateway-fm/xosactivity/pkg/types"
)

// DefaultBufferSize is the number of recent events a Hub keeps.
const DefaultBufferSize = 500

// Hub stores recent events and distributes new ones.
type Hub struct {
	mu     sync.RWMutex
	ring   []types.LogEvent
	next   int
	full   bool
	subs   map[int]chan types.LogEvent
	nextID int
}

// NewHub creates a hub that retains size events.
func NewHub(size int) *Hub {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Hub{
		ring: make([]types.LogEvent, size),
		subs: make(map[int]chan types.LogEvent),
	}
}

// Publish records ev and offers it to every subscriber. Slow subscribers
// miss events rather than block the logger.
func (h *Hub) Publish(ev types.LogEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.ring[h.next] = ev
	h.next = (h.next + 1) % len(h.ring)
	if h.next == 0 {
		h.full = true
	}

	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Recent returns up to limit events, oldest first. limit <= 0 returns all.
func (h *Hub) Recent(limit int) []types.LogEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var all []types.LogEvent
	if h.full {
		all = make([]types.LogEvent, 0, len(h.ring))
		all = append(all, h.ring[h.next:]...)
		all = append(all, h.ring[:h.next]...)
	} else {
		all = append([]types.LogEvent(nil), h.ring[:h.next]...)
	}
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all
}

// Subscribe registers a subscriber channel with the given buffer. The
// returned function unsubscribes and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan types.LogEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan types.LogEvent, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Handler is a slog.Handler that publishes to a Hub before delegating.
type Handler struct {
	inner  slog.Handler
	hub    *Hub
	attrs  []slog.Attr
	prefix string
}

// NewHandler wraps inner.
func NewHandler(inner slog.Handler, hub *Hub) *Handler {
	return &Handler{inner: inner, hub: hub}
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	ev := types.LogEvent{
		Timestamp: r.Time,
		Severity:  severity(r.Level),
		Message:   r.Message,
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if n := len(h.attrs) + r.NumAttrs(); n > 0 {
		ev.Attrs = make(map[string]string, n)
		for _, a := range h.attrs {
			addAttr(ev.Attrs, "", a)
		}
		r.Attrs(func(a slog.Attr) bool {
			addAttr(ev.Attrs, h.prefix, a)
			return true
		})
	}
	h.hub.Publish(ev)
	return h.inner.Handle(ctx, r)
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.inner = h.inner.WithAttrs(attrs)
	next.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		next.attrs = append(next.attrs, a)
	}
	return &next
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.inner = h.inner.WithGroup(name)
	next.prefix = h.prefix + name + "."
	return &next
}

func addAttr(dst map[string]string, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "."
		}
		for _, ga := range v.Group() {
			addAttr(dst, p, ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	dst[prefix+a.Key] = fmt.Sprint(v.Any())
}

func severity(l slog.Level) types.Severity {
	switch {
	case l >= slog.LevelError:
		return types.SeverityError
	case l >= slog.LevelWarn:
		return types.SeverityWarn
	case l >= slog.LevelInfo:
		return types.SeverityInfo
	default:
		return types.SeverityDebug
	}
}

// NewLogger returns a logger that writes through inner and publishes to hub.
func NewLogger(inner slog.Handler, hub *Hub) *slog.Logger {
	return slog.New(NewHandler(inner, hub))
}

// Count returns how many recent events have the given message.
func (h *Hub) Count(message string) int {
	n := 0
	for _, ev := range h.Recent(0) {
		if ev.Message == message {
			n++
		}
	}
	return n
}

// NewCaptureLogger returns a debug-level logger that discards output and
// records every event in a fresh Hub.
func NewCaptureLogger() (*slog.Logger, *Hub) {
	hub := NewHub(DefaultBufferSize)
	inner := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})
	return NewLogger(inner, hub), hub
}
