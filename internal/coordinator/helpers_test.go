package coordinator

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"camlink/internal/codec"
	"camlink/internal/keyring"
	"camlink/internal/signaling"
	"camlink/internal/store"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type sentPayload struct {
	deviceID string
	payload  []byte
}

// fakePublisher records published payloads instead of talking to a broker.
type fakePublisher struct {
	mu   sync.Mutex
	sent []sentPayload
	fail map[string]error
}

func (p *fakePublisher) Publish(_ context.Context, deviceID string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail[deviceID]; err != nil {
		return err
	}
	p.sent = append(p.sent, sentPayload{deviceID: deviceID, payload: payload})
	return nil
}

func (p *fakePublisher) all() []sentPayload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sentPayload(nil), p.sent...)
}

// testClock is a settable time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	coord *Coordinator
	pub   *fakePublisher
	store *store.MemoryStore
	cache *signaling.MemoryCache
	clock *testClock
	codec *codec.Codec
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := newTestLogger()
	env := &testEnv{
		pub:   &fakePublisher{fail: make(map[string]error)},
		store: store.NewMemoryStore(),
		cache: signaling.NewMemoryCache(),
		clock: &testClock{now: time.Unix(1700000000, 0)},
		codec: codec.New(""),
	}
	env.coord = New(env.pub, env.store, keyring.New(), env.codec, env.cache, NewEventBus(logger), Config{}, logger)
	env.coord.now = env.clock.Now
	return env
}

// frame encrypts msg the way a camera holding secret would.
func (e *testEnv) frame(t *testing.T, secret string, msg map[string]any) []byte {
	t.Helper()
	data, err := e.codec.Encrypt(msg, secret)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// decode decrypts a published payload with secret.
func (e *testEnv) decode(t *testing.T, payload []byte, secret string) map[string]any {
	t.Helper()
	plain, err := e.codec.Decrypt(payload, secret)
	if err != nil {
		t.Fatalf("decrypt with %q: %v", secret, err)
	}
	var msg map[string]any
	if err := json.Unmarshal(plain, &msg); err != nil {
		t.Fatal(err)
	}
	return msg
}

// recordEvents collects every event emitted on the bus.
func recordEvents(c *Coordinator) func() []Event {
	var mu sync.Mutex
	var events []Event
	c.Events().OnAll(func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	return func() []Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]Event(nil), events...)
	}
}

func hasEvent(events []Event, typ, deviceID string) bool {
	for _, e := range events {
		if e.Type == typ && e.DeviceID == deviceID {
			return true
		}
	}
	return false
}
