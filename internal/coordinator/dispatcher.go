package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"

	"camlink/internal/codec"
	"camlink/internal/metrics"
	"camlink/internal/protocol"
	"camlink/internal/store"
)

type frame struct {
	deviceID string
	payload  []byte
}

// Dispatcher decodes inbound frames and routes them by message code.
//
// Frames are sharded by device ID over a fixed set of workers so one
// device's frames are handled in arrival order while different devices
// proceed in parallel.
type Dispatcher struct {
	coord  *Coordinator
	logger *slog.Logger
	shards []chan frame

	stopCh    chan struct{}
	stopOnce  sync.Once
	startOnce sync.Once
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher with workers shards of queueSize each.
func NewDispatcher(coord *Coordinator, workers, queueSize int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	d := &Dispatcher{
		coord:  coord,
		logger: coord.logger.With("component", "dispatcher"),
		shards: make([]chan frame, workers),
		stopCh: make(chan struct{}),
	}
	for i := range d.shards {
		d.shards[i] = make(chan frame, queueSize)
	}
	return d
}

// Start launches the shard workers.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		for _, ch := range d.shards {
			d.wg.Add(1)
			go d.worker(ch)
		}
	})
}

// Stop stops accepting frames, lets workers finish what is queued, and
// waits for them.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
}

// Submit queues a frame. It blocks while the device's shard is full and
// drops the frame once the dispatcher is stopped. It reports whether the
// frame was queued.
func (d *Dispatcher) Submit(deviceID string, payload []byte) bool {
	ch := d.shards[d.shardFor(deviceID)]
	select {
	case <-d.stopCh:
		metrics.FrameDropped("stopped")
		return false
	default:
	}
	select {
	case ch <- frame{deviceID: deviceID, payload: payload}:
		return true
	case <-d.stopCh:
		metrics.FrameDropped("stopped")
		return false
	}
}

func (d *Dispatcher) shardFor(deviceID string) int {
	h := fnv.New32a()
	h.Write([]byte(deviceID))
	return int(h.Sum32() % uint32(len(d.shards)))
}

func (d *Dispatcher) worker(ch chan frame) {
	defer d.wg.Done()
	for {
		select {
		case f := <-ch:
			d.Process(f.deviceID, f.payload)
		case <-d.stopCh:
			for {
				select {
				case f := <-ch:
					d.Process(f.deviceID, f.payload)
				default:
					return
				}
			}
		}
	}
}

// Process handles one frame synchronously. Decode failures and handler
// panics are logged and counted; nothing escapes to the caller.
func (d *Dispatcher) Process(deviceID string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			metrics.FrameDropped("panic")
			d.logger.Error("dispatch panic", "device", deviceID, "panic", r)
		}
	}()
	metrics.FrameReceived()

	secret, _ := d.coord.keys.Get(deviceID)
	code, ts, plain, err := d.coord.codec.DecryptEnvelope(payload, secret)
	if err != nil {
		metrics.FrameDropped("decode")
		var de *codec.DecodeError
		if errors.As(err, &de) {
			d.logger.Warn("drop undecodable frame", "device", deviceID, "bytes", len(payload), "reason", de.Reason)
		} else {
			d.logger.Error("decrypt frame", "device", deviceID, "err", err)
		}
		return
	}

	name := protocol.CodeName(code)
	metrics.MessageDispatched(name)
	d.logger.Debug("frame", "device", deviceID, "code", code, "name", name, "time", ts)

	switch code {
	case protocol.CodeConnectedReport:
		d.handleConnected(deviceID, plain)
	case protocol.CodeInfoReport:
		d.handleInfo(deviceID, plain)
	case protocol.CodeOfferReport, protocol.CodeAnswerReport, protocol.CodeCandidateReport:
		d.handleSignaling(deviceID, code, plain)
	default:
		d.touch(deviceID, store.StateUpdate{})
		d.logger.Debug("unhandled code", "device", deviceID, "code", code)
	}
}

// touch merges extra together with the liveness refresh every accepted
// message carries.
func (d *Dispatcher) touch(deviceID string, extra store.StateUpdate) *store.DeviceState {
	now := d.coord.now()
	upd := Liveness(now)
	extra.Online, extra.LastOnlineAt, extra.LastHeartbeatAt = upd.Online, upd.LastOnlineAt, upd.LastHeartbeatAt
	dev, err := d.coord.devices.Merge(deviceID, extra)
	if err != nil {
		d.logger.Error("update device state", "device", deviceID, "err", err)
		return nil
	}
	return dev
}

func (d *Dispatcher) handleConnected(deviceID string, plain []byte) {
	var msg protocol.ConnectedMessage
	if err := json.Unmarshal(plain, &msg); err != nil {
		d.logger.Warn("decode connected report", "device", deviceID, "err", err)
	}
	d.touch(deviceID, store.StateUpdate{})

	status := 0
	if msg.Status != nil {
		status = *msg.Status
	}
	d.logger.Info("device connected", "device", deviceID, "status", status)
	d.coord.events.Emit(Event{
		Type:     EventDeviceConnected,
		DeviceID: deviceID,
		Data:     map[string]any{"status": status},
	})
	if msg.Provisioned() {
		d.logger.Info("device connected after provisioning", "device", deviceID)
		d.coord.events.Emit(Event{Type: EventDeviceProvisioned, DeviceID: deviceID})
	}
}

func (d *Dispatcher) handleInfo(deviceID string, plain []byte) {
	var msg protocol.InfoMessage
	if err := json.Unmarshal(plain, &msg); err != nil {
		d.logger.Warn("decode info report", "device", deviceID, "err", err)
		d.touch(deviceID, store.StateUpdate{})
		return
	}

	if msg.WifiName != nil && *msg.WifiName != "" {
		if prev, _ := d.coord.keys.Get(deviceID); prev != *msg.WifiName {
			d.logger.Info("device secret changed", "device", deviceID)
		}
		d.coord.keys.Set(deviceID, *msg.WifiName)
	}

	dev := d.touch(deviceID, infoUpdate(&msg))
	if dev == nil {
		return
	}
	if dev.StorageState == store.StoragePresent && dev.StorageBlockSize > 0 {
		d.logger.Info("device storage", "device", deviceID,
			"total_mb", dev.StorageTotalBytes()/1024/1024,
			"free_mb", dev.StorageFreeBytes()/1024/1024)
	}
	d.coord.events.Emit(Event{Type: EventDeviceInfo, DeviceID: deviceID, Data: dev})
}

// infoUpdate maps a code 139 report onto state fields. Flags are 0/1 on
// the wire.
func infoUpdate(msg *protocol.InfoMessage) store.StateUpdate {
	var upd store.StateUpdate
	upd.SignalStrength = msg.WifiRSSI
	upd.FirmwareVersion = msg.Version
	if msg.SDState != nil {
		st := store.StorageAbsent
		if *msg.SDState == 1 {
			st = store.StoragePresent
		}
		upd.StorageState = &st
	}
	upd.StorageTotalBlocks = msg.SDCap
	upd.StorageBlockSize = msg.SDBlock
	upd.StorageFreeBlocks = msg.SDFree
	upd.Rotated = flagPtr(msg.Rotate)
	upd.IndicatorLEDOn = flagPtr(msg.LightLED)
	upd.FloodlightOn = flagPtr(msg.WhiteLED)
	return upd
}

func flagPtr(v *int) *bool {
	if v == nil {
		return nil
	}
	b := *v == 1
	return &b
}

func (d *Dispatcher) handleSignaling(deviceID string, code int, plain []byte) {
	kind, _ := protocol.SignalKindFor(code)
	d.touch(deviceID, store.StateUpdate{})

	var msg protocol.WebRTCMessage
	if err := json.Unmarshal(plain, &msg); err != nil {
		d.logger.Warn("decode signaling message", "device", deviceID, "kind", kind, "err", err)
		return
	}
	metrics.SignalingEvent(string(kind))

	log := d.logger.With("device", deviceID, "kind", kind, "sid", msg.SessionID)
	if !msg.OK() {
		log.Warn("device reported signaling failure", "status", *msg.Status)
	}
	if msg.SDP != "" {
		if sum, err := protocol.SummarizeSDP(msg.SDP); err == nil {
			log.Debug("signaling sdp", "media", sum.String())
		} else {
			log.Debug("signaling sdp not parsed", "err", err)
		}
	}

	if msg.SessionID == "" {
		log.Warn("signaling message without sid, not cached")
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), d.coord.config.CacheTimeout)
		var err error
		switch kind {
		case protocol.SignalOffer:
			err = d.coord.signals.PutOffer(ctx, msg.SessionID, msg)
		case protocol.SignalCandidate:
			err = d.coord.signals.AppendCandidate(ctx, msg.SessionID, msg)
		}
		cancel()
		if err != nil {
			log.Error("cache signaling message", "err", err)
		}
	}

	d.coord.listeners.Notify(deviceID, kind, msg)
	d.coord.events.Emit(Event{
		Type:     EventSignaling,
		DeviceID: deviceID,
		Data:     map[string]any{"kind": kind, "sid": msg.SessionID, "ok": msg.OK()},
	})
}
