// Package broadcast pushes full job snapshots to subscribed clients whenever
// the engine reports unbroadcast changes.
package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/taskbridge/internal/engine"
)

// Conn is the subscriber-facing send surface. *websocket.Conn satisfies it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
}

// TextMessage mirrors websocket.TextMessage so tests need no websocket import.
const TextMessage = 1

// Hub samples the engine's change flag on a fixed interval and, when set,
// delivers the full job list to every subscriber. The flag clear is global:
// all subscribers share the same latest-snapshot semantics.
type Hub struct {
	engine   *engine.Engine
	interval time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	subs map[Conn]struct{}
}

// New creates a hub ticking at the given interval (1s when zero).
func New(eng *engine.Engine, interval time.Duration, logger *slog.Logger) *Hub {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		engine:   eng,
		interval: interval,
		logger:   logger,
		subs:     make(map[Conn]struct{}),
	}
}

// Subscribe registers a connection to receive snapshots.
func (h *Hub) Subscribe(c Conn) {
	h.mu.Lock()
	h.subs[c] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	h.logger.Debug("subscriber connected", "subscribers", n)
}

// Unsubscribe removes a connection. Safe to call for already-removed conns.
func (h *Hub) Unsubscribe(c Conn) {
	h.mu.Lock()
	delete(h.subs, c)
	n := len(h.subs)
	h.mu.Unlock()
	h.logger.Debug("subscriber disconnected", "subscribers", n)
}

// Run ticks until the context is canceled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Tick()
		}
	}
}

// Tick delivers a snapshot to all subscribers if the change flag is set.
// A subscriber whose send fails is dropped without affecting the others.
// With no subscribers the flag is left in place, so a client connecting
// after a burst of changes still gets a snapshot on the next tick.
func (h *Hub) Tick() {
	h.mu.Lock()
	empty := len(h.subs) == 0
	h.mu.Unlock()
	if empty {
		return
	}

	if !h.engine.ClearChanged() {
		return
	}

	data, err := json.Marshal(h.engine.List())
	if err != nil {
		h.logger.Error("failed to marshal job snapshot", "error", err)
		return
	}

	h.mu.Lock()
	conns := make([]Conn, 0, len(h.subs))
	for c := range h.subs {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteMessage(TextMessage, data); err != nil {
			h.logger.Warn("dropping subscriber after send failure", "error", err)
			h.Unsubscribe(c)
		}
	}
}
