// Package signaling holds WebRTC signaling state relayed between cameras and
// viewers: the latest offer per session, a queue of pending ICE candidates
// per session, and per-device listeners.
//
// Entries are not expired. A session that is never drained or overwritten
// stays until the process (or the Redis key) goes away.
package signaling

import (
	"context"
	"errors"

	"camlink/internal/protocol"
)

// ErrNotFound is returned by GetOffer when no offer is cached for a session.
var ErrNotFound = errors.New("not found")

// Cache stores signaling artifacts keyed by session ID.
type Cache interface {
	// PutOffer replaces the cached offer for sid.
	PutOffer(ctx context.Context, sid string, msg protocol.WebRTCMessage) error
	// GetOffer returns the cached offer without removing it.
	GetOffer(ctx context.Context, sid string) (protocol.WebRTCMessage, error)
	// AppendCandidate adds msg to the end of the candidate queue for sid.
	AppendCandidate(ctx context.Context, sid string, msg protocol.WebRTCMessage) error
	// DrainCandidates returns and clears the candidate queue for sid. The
	// result is empty, not nil, when nothing is pending.
	DrainCandidates(ctx context.Context, sid string) ([]protocol.WebRTCMessage, error)
}
