package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"camlink/internal/metrics"
	"camlink/internal/store"
)

// TickResult summarizes one heartbeat tick.
type TickResult struct {
	Skipped       bool `json:"skipped"`
	Checked       int  `json:"checked"`
	MarkedOffline int  `json:"marked_offline"`
	Requested     int  `json:"requested"`
	Failed        int  `json:"failed"`
}

// Heartbeat periodically expires silent devices and asks the rest for
// fresh info. It is the only staleness detector; commands are not
// individually acknowledged.
type Heartbeat struct {
	coord     *Coordinator
	logger    *slog.Logger
	interval  time.Duration
	threshold time.Duration
	enabled   bool

	running sync.Mutex // held for the duration of a tick

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHeartbeat creates a scheduler. It does nothing until Start.
func NewHeartbeat(coord *Coordinator, interval, threshold time.Duration, enabled bool) *Heartbeat {
	return &Heartbeat{
		coord:     coord,
		logger:    coord.logger.With("component", "heartbeat"),
		interval:  interval,
		threshold: threshold,
		enabled:   enabled,
	}
}

// Enabled reports whether periodic ticks are configured.
func (h *Heartbeat) Enabled() bool { return h.enabled }

// Start runs ticks every interval until ctx is cancelled or Stop is called.
// It is a no-op when disabled or already started.
func (h *Heartbeat) Start(ctx context.Context) {
	if !h.enabled {
		h.logger.Info("heartbeat disabled")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})
	h.logger.Info("heartbeat started", "interval", h.interval, "offline_threshold", h.threshold)

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.RunOnce(ctx)
			}
		}
	}(h.done)
}

// Stop halts the ticker and waits for an in-flight tick to finish.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	h.logger.Info("heartbeat stopped")
}

// RunOnce performs one tick: sweep stale devices offline, then request info
// from every device still online. A tick that starts while another is
// running is skipped.
func (h *Heartbeat) RunOnce(ctx context.Context) TickResult {
	if !h.running.TryLock() {
		metrics.HeartbeatTickSkipped()
		h.logger.Warn("heartbeat tick skipped, previous tick still running")
		return TickResult{Skipped: true}
	}
	defer h.running.Unlock()

	start := time.Now()
	defer func() { metrics.ObserveHeartbeatTick(time.Since(start).Seconds()) }()

	var res TickResult
	devices, err := h.coord.devices.List()
	if err != nil {
		h.logger.Error("list devices", "err", err)
		return res
	}

	cutoff := h.coord.now().Add(-h.threshold)
	online := make([]string, 0, len(devices))
	for _, dev := range devices {
		if !dev.Online {
			continue
		}
		res.Checked++
		expired, err := h.coord.devices.ExpireIfStale(dev.DeviceID, cutoff)
		if err != nil {
			h.logger.Error("expire device", "device", dev.DeviceID, "err", err)
			continue
		}
		if expired {
			res.MarkedOffline++
			metrics.DeviceMarkedOffline()
			continue
		}
		online = append(online, dev.DeviceID)
	}
	metrics.SetDevicesOnline(len(online))

	for _, id := range online {
		if ctx.Err() != nil {
			break
		}
		if err := h.coord.RequestDeviceInfo(ctx, id); err != nil {
			res.Failed++
			h.logger.Warn("request device info", "device", id, "err", err)
			continue
		}
		res.Requested++
	}

	if res.MarkedOffline > 0 || res.Failed > 0 {
		h.logger.Info("heartbeat tick", "checked", res.Checked, "offline", res.MarkedOffline,
			"requested", res.Requested, "failed", res.Failed)
	} else {
		h.logger.Debug("heartbeat tick", "checked", res.Checked, "requested", res.Requested)
	}
	return res
}

// CheckDevice expires deviceID if it is stale and then asks it for fresh
// info whatever its state, so an offline or never-seen device that answers
// comes back online. The returned state is nil for a device never seen.
func (h *Heartbeat) CheckDevice(ctx context.Context, deviceID string) (*store.DeviceState, error) {
	cutoff := h.coord.now().Add(-h.threshold)
	if _, err := h.coord.devices.ExpireIfStale(deviceID, cutoff); err != nil && !IsNotFound(err) {
		return nil, err
	}
	dev, err := h.coord.devices.Get(deviceID)
	if err != nil && !IsNotFound(err) {
		return nil, err
	}
	if err := h.coord.RequestDeviceInfo(ctx, deviceID); err != nil {
		return dev, err
	}
	return dev, nil
}
