package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"camlink/internal/codec"
	"camlink/internal/keyring"
	"camlink/internal/metrics"
	"camlink/internal/protocol"
	"camlink/internal/signaling"
	"camlink/internal/store"
)

// ErrInvalidArgument marks caller errors (bad device ID, unknown direction).
var ErrInvalidArgument = errors.New("invalid argument")

// Publisher delivers an encrypted payload to one device.
type Publisher interface {
	Publish(ctx context.Context, deviceID string, payload []byte) error
}

// Config holds coordinator configuration.
type Config struct {
	HeartbeatEnabled  bool
	HeartbeatInterval time.Duration
	OfflineThreshold  time.Duration
	Workers           int
	QueueSize         int
	CacheTimeout      time.Duration // bound on each signaling cache call made while dispatching
}

func (c *Config) setDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 60 * time.Second
	}
	if c.OfflineThreshold <= 0 {
		c.OfflineThreshold = 180 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.CacheTimeout <= 0 {
		c.CacheTimeout = 2 * time.Second
	}
}

// Coordinator is the device messaging core: it turns collaborator calls into
// encrypted commands and inbound frames into device state and signaling.
type Coordinator struct {
	pub        Publisher
	store      store.Store
	keys       *keyring.Registry
	codec      *codec.Codec
	signals    signaling.Cache
	listeners  *signaling.Listeners
	events     *EventBus
	devices    *DeviceManager
	dispatcher *Dispatcher
	heartbeat  *Heartbeat
	logger     *slog.Logger
	config     Config
	now        func() time.Time
}

// New wires the core. Nothing runs until Start.
func New(pub Publisher, st store.Store, keys *keyring.Registry, cdc *codec.Codec, cache signaling.Cache, events *EventBus, cfg Config, logger *slog.Logger) *Coordinator {
	cfg.setDefaults()
	c := &Coordinator{
		pub:       pub,
		store:     st,
		keys:      keys,
		codec:     cdc,
		signals:   cache,
		listeners: signaling.NewListeners(logger),
		events:    events,
		logger:    logger,
		config:    cfg,
		now:       time.Now,
	}
	c.devices = NewDeviceManager(c)
	c.dispatcher = NewDispatcher(c, cfg.Workers, cfg.QueueSize)
	c.heartbeat = NewHeartbeat(c, cfg.HeartbeatInterval, cfg.OfflineThreshold, cfg.HeartbeatEnabled)
	return c
}

// Start launches the dispatch workers and, if enabled, the heartbeat.
func (c *Coordinator) Start(ctx context.Context) {
	c.dispatcher.Start()
	c.heartbeat.Start(ctx)
}

// Stop halts the heartbeat and the dispatch workers. Frames still queued are
// processed before Stop returns.
func (c *Coordinator) Stop() {
	c.heartbeat.Stop()
	c.dispatcher.Stop()
}

// HandleFrame queues a raw inbound frame for dispatch.
func (c *Coordinator) HandleFrame(deviceID string, payload []byte) {
	c.dispatcher.Submit(deviceID, payload)
}

// Store returns the device state store.
func (c *Coordinator) Store() store.Store { return c.store }

// Events returns the event bus.
func (c *Coordinator) Events() *EventBus { return c.events }

// Devices returns the device manager.
func (c *Coordinator) Devices() *DeviceManager { return c.devices }

// Keys returns the key registry.
func (c *Coordinator) Keys() *keyring.Registry { return c.keys }

// Heartbeat returns the heartbeat scheduler.
func (c *Coordinator) Heartbeat() *Heartbeat { return c.heartbeat }

// Dispatcher returns the inbound frame dispatcher.
func (c *Coordinator) Dispatcher() *Dispatcher { return c.dispatcher }

// SendCommand encrypts an envelope with the device's current secret and
// publishes it. The fallback secret is used for devices with none registered.
func (c *Coordinator) SendCommand(ctx context.Context, deviceID string, code int, fields map[string]any) error {
	if err := protocol.ValidateDeviceID(deviceID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	secret, _ := c.keys.Get(deviceID)
	msg := protocol.NewCommand(code, c.now(), fields)
	payload, err := c.codec.Encrypt(msg, secret)
	if err != nil {
		return fmt.Errorf("encrypt command %d: %w", code, err)
	}

	name := protocol.CodeName(code)
	if err := c.pub.Publish(ctx, deviceID, payload); err != nil {
		metrics.CommandSent(name, "error")
		return fmt.Errorf("send %s to %s: %w", name, deviceID, err)
	}
	metrics.CommandSent(name, "ok")
	c.logger.Debug("command sent", "device", deviceID, "code", code, "name", name)
	c.events.Emit(Event{
		Type:     EventCommandSent,
		DeviceID: deviceID,
		Data:     map[string]any{"code": code, "name": name},
	})
	return nil
}

// RequestDeviceInfo asks the device for a code 139 info report.
func (c *Coordinator) RequestDeviceInfo(ctx context.Context, deviceID string) error {
	return c.SendCommand(ctx, deviceID, protocol.CodeRequestInfo, nil)
}

// FormatStorage asks the device to format its memory card.
func (c *Coordinator) FormatStorage(ctx context.Context, deviceID string) error {
	return c.SendCommand(ctx, deviceID, protocol.CodeFormatStorage, nil)
}

// Reboot asks the device to restart.
func (c *Coordinator) Reboot(ctx context.Context, deviceID string) error {
	return c.SendCommand(ctx, deviceID, protocol.CodeReboot, nil)
}

// SetRotation flips the image 180 degrees when enable is true.
func (c *Coordinator) SetRotation(ctx context.Context, deviceID string, enable bool) error {
	return c.SendCommand(ctx, deviceID, protocol.CodeSetRotation, map[string]any{"enable": flag(enable)})
}

// SetFloodlight switches the white LED.
func (c *Coordinator) SetFloodlight(ctx context.Context, deviceID string, enable bool) error {
	return c.SendCommand(ctx, deviceID, protocol.CodeSetFloodlight, map[string]any{"enable": flag(enable)})
}

// SendDirection sends a pan/tilt command (up, down, left, right, stop).
func (c *Coordinator) SendDirection(ctx context.Context, deviceID, direction string) error {
	if !protocol.Directions[direction] {
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidArgument, direction)
	}
	return c.SendCommand(ctx, deviceID, protocol.CodeDirectionalCommand, map[string]any{"command": direction})
}

// RequestWebRTCOffer asks the device to start a signaling session. rtc is
// the "server,user,pass" relay triple handed to the device. An empty sid is
// replaced with a generated one; the sid used is returned.
func (c *Coordinator) RequestWebRTCOffer(ctx context.Context, deviceID, sid, rtc string) (string, error) {
	if sid == "" {
		sid = uuid.NewString()
	}
	fields := map[string]any{"sid": sid}
	if rtc != "" {
		fields["rtc"] = rtc
	}
	if err := c.SendCommand(ctx, deviceID, protocol.CodeRequestOffer, fields); err != nil {
		return "", err
	}
	return sid, nil
}

// SendWebRTCAnswer relays a viewer's answer to the device.
func (c *Coordinator) SendWebRTCAnswer(ctx context.Context, deviceID, sid, sdp string) error {
	if sid == "" || sdp == "" {
		return fmt.Errorf("%w: sid and sdp are required", ErrInvalidArgument)
	}
	if sum, err := protocol.SummarizeSDP(sdp); err == nil {
		c.logger.Debug("relaying answer", "device", deviceID, "sid", sid, "media", sum.String())
	} else {
		c.logger.Debug("relaying unparsed answer", "device", deviceID, "sid", sid, "err", err)
	}
	return c.SendCommand(ctx, deviceID, protocol.CodeWebRTCAnswer, map[string]any{"sid": sid, "sdp": sdp})
}

// SendWebRTCCandidate relays a viewer's ICE candidate to the device.
func (c *Coordinator) SendWebRTCCandidate(ctx context.Context, deviceID, sid, candidate string) error {
	if sid == "" || candidate == "" {
		return fmt.Errorf("%w: sid and candidate are required", ErrInvalidArgument)
	}
	return c.SendCommand(ctx, deviceID, protocol.CodeWebRTCCandidate, map[string]any{"sid": sid, "candidate": candidate})
}

// GetDeviceState returns the last known state; store.ErrNotFound if the
// device never reported.
func (c *Coordinator) GetDeviceState(deviceID string) (*store.DeviceState, error) {
	return c.devices.Get(deviceID)
}

// ListDeviceStates returns every known device.
func (c *Coordinator) ListDeviceStates() ([]*store.DeviceState, error) {
	return c.devices.List()
}

// GetLatestOffer returns the last offer cached for sid.
func (c *Coordinator) GetLatestOffer(ctx context.Context, sid string) (protocol.WebRTCMessage, error) {
	return c.signals.GetOffer(ctx, sid)
}

// DrainCandidates returns and clears pending device candidates for sid.
func (c *Coordinator) DrainCandidates(ctx context.Context, sid string) ([]protocol.WebRTCMessage, error) {
	return c.signals.DrainCandidates(ctx, sid)
}

// RegisterDeviceSecret records the device's current WiFi network name, e.g.
// when the collaborator learns it from a provisioning flow.
func (c *Coordinator) RegisterDeviceSecret(deviceID, secret string) {
	c.keys.Set(deviceID, secret)
}

// SubscribeSignaling registers fn for offer/answer/candidate events from
// deviceID and returns the unsubscribe function.
func (c *Coordinator) SubscribeSignaling(deviceID string, fn signaling.Listener) func() {
	return c.listeners.Subscribe(deviceID, fn)
}

// SignalingListeners returns how many listeners are registered for deviceID.
func (c *Coordinator) SignalingListeners(deviceID string) int {
	return c.listeners.Count(deviceID)
}

// CheckDevice runs the heartbeat check for one device: it is marked offline
// if stale and then asked for fresh info either way. The state after the
// sweep is returned, nil for a device that never reported.
func (c *Coordinator) CheckDevice(ctx context.Context, deviceID string) (*store.DeviceState, error) {
	return c.heartbeat.CheckDevice(ctx, deviceID)
}

// Stats summarizes device liveness.
type Stats struct {
	Total             int    `json:"total"`
	Online            int    `json:"online"`
	Offline           int    `json:"offline"`
	KnownSecrets      int    `json:"known_secrets"`
	HeartbeatEnabled  bool   `json:"heartbeat_enabled"`
	HeartbeatInterval string `json:"heartbeat_interval"`
	OfflineThreshold  string `json:"offline_threshold"`
}

// Stats counts devices by liveness.
func (c *Coordinator) Stats() (Stats, error) {
	devices, err := c.devices.List()
	if err != nil {
		return Stats{}, err
	}
	s := Stats{
		Total:             len(devices),
		KnownSecrets:      c.keys.Len(),
		HeartbeatEnabled:  c.heartbeat.Enabled(),
		HeartbeatInterval: c.config.HeartbeatInterval.String(),
		OfflineThreshold:  c.config.OfflineThreshold.String(),
	}
	for _, d := range devices {
		if d.Online {
			s.Online++
		}
	}
	s.Offline = s.Total - s.Online
	return s, nil
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}
