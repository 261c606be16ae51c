package signaling

import (
	"log/slog"
	"sync"

	"camlink/internal/protocol"
)

// Listener receives signaling events for one device.
type Listener func(deviceID string, kind protocol.SignalKind, msg protocol.WebRTCMessage)

type listenerEntry struct {
	id uint64
	fn Listener
}

// Listeners fans signaling events out to per-device subscribers.
type Listeners struct {
	mu     sync.RWMutex
	byDev  map[string][]listenerEntry
	nextID uint64
	logger *slog.Logger
}

func NewListeners(logger *slog.Logger) *Listeners {
	return &Listeners{
		byDev:  make(map[string][]listenerEntry),
		logger: logger.With("component", "signaling"),
	}
}

// Subscribe registers fn for deviceID and returns a function that removes
// it. Calling the returned function more than once is harmless.
func (l *Listeners) Subscribe(deviceID string, fn Listener) func() {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.byDev[deviceID] = append(l.byDev[deviceID], listenerEntry{id: id, fn: fn})
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		entries := l.byDev[deviceID]
		for i, e := range entries {
			if e.id == id {
				l.byDev[deviceID] = append(entries[:i:i], entries[i+1:]...)
				break
			}
		}
		if len(l.byDev[deviceID]) == 0 {
			delete(l.byDev, deviceID)
		}
	}
}

// Notify calls every listener of deviceID. A panicking listener is logged
// and does not stop the rest.
func (l *Listeners) Notify(deviceID string, kind protocol.SignalKind, msg protocol.WebRTCMessage) {
	l.mu.RLock()
	entries := make([]listenerEntry, len(l.byDev[deviceID]))
	copy(entries, l.byDev[deviceID])
	l.mu.RUnlock()

	for _, e := range entries {
		l.call(e.fn, deviceID, kind, msg)
	}
}

func (l *Listeners) call(fn Listener, deviceID string, kind protocol.SignalKind, msg protocol.WebRTCMessage) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("signaling listener panic", "device", deviceID, "kind", kind, "panic", r)
		}
	}()
	fn(deviceID, kind, msg)
}

// Count returns the number of listeners for deviceID.
func (l *Listeners) Count(deviceID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byDev[deviceID])
}
