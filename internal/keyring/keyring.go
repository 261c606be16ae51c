// Package keyring tracks the secret each camera currently encrypts with.
//
// The secret is the device's WiFi network name. Entries live for the process
// lifetime and are rebuilt from info reports after a restart; a device with no
// entry is addressed with the codec's fallback secret.
package keyring

import "sync"

type Registry struct {
	mu      sync.RWMutex
	secrets map[string]string
}

func New() *Registry {
	return &Registry{secrets: make(map[string]string)}
}

// Get returns the registered secret for deviceID.
func (r *Registry) Get(deviceID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.secrets[deviceID]
	return s, ok
}

// Set records secret for deviceID. Empty IDs or secrets are ignored so a
// partial report never erases a known key.
func (r *Registry) Set(deviceID, secret string) {
	if deviceID == "" || secret == "" {
		return
	}
	r.mu.Lock()
	r.secrets[deviceID] = secret
	r.mu.Unlock()
}

// Remove drops the entry for deviceID, falling back to the default secret.
func (r *Registry) Remove(deviceID string) {
	r.mu.Lock()
	delete(r.secrets, deviceID)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.secrets)
}
