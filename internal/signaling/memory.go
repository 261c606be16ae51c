package signaling

import (
	"context"
	"fmt"
	"sync"

	"camlink/internal/protocol"
)

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu         sync.Mutex
	offers     map[string]protocol.WebRTCMessage
	candidates map[string][]protocol.WebRTCMessage
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		offers:     make(map[string]protocol.WebRTCMessage),
		candidates: make(map[string][]protocol.WebRTCMessage),
	}
}

func (c *MemoryCache) PutOffer(_ context.Context, sid string, msg protocol.WebRTCMessage) error {
	c.mu.Lock()
	c.offers[sid] = msg
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) GetOffer(_ context.Context, sid string) (protocol.WebRTCMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg, ok := c.offers[sid]
	if !ok {
		return protocol.WebRTCMessage{}, fmt.Errorf("offer %s: %w", sid, ErrNotFound)
	}
	return msg, nil
}

func (c *MemoryCache) AppendCandidate(_ context.Context, sid string, msg protocol.WebRTCMessage) error {
	c.mu.Lock()
	c.candidates[sid] = append(c.candidates[sid], msg)
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) DrainCandidates(_ context.Context, sid string) ([]protocol.WebRTCMessage, error) {
	c.mu.Lock()
	pending := c.candidates[sid]
	delete(c.candidates, sid)
	c.mu.Unlock()
	if pending == nil {
		pending = []protocol.WebRTCMessage{}
	}
	return pending, nil
}

// Sessions returns the number of sessions with a cached offer or pending
// candidates.
func (c *MemoryCache) Sessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.offers)
	for sid := range c.candidates {
		if _, ok := c.offers[sid]; !ok {
			n++
		}
	}
	return n
}
