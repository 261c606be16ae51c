package coordinator

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"camlink/internal/store"
)

// DeviceManager merges device reports into the store and owns the online
// flag transitions.
type DeviceManager struct {
	coord  *Coordinator
	logger *slog.Logger
}

// NewDeviceManager creates a new device manager.
func NewDeviceManager(coord *Coordinator) *DeviceManager {
	return &DeviceManager{
		coord:  coord,
		logger: coord.logger.With("component", "device_manager"),
	}
}

// Liveness is the update implied by any accepted message: online, with both
// timestamps set to at.
func Liveness(at time.Time) store.StateUpdate {
	online := true
	return store.StateUpdate{
		Online:          &online,
		LastOnlineAt:    &at,
		LastHeartbeatAt: &at,
	}
}

// Merge applies upd to the device, creating the record on first contact.
// Only non-nil fields overwrite. An update that changes nothing on an
// existing device is not written. The resulting state is returned.
func (dm *DeviceManager) Merge(deviceID string, upd store.StateUpdate) (*store.DeviceState, error) {
	var (
		result     store.DeviceState
		cameOnline bool
	)
	err := dm.coord.Store().UpsertDevice(deviceID, func(dev *store.DeviceState, created bool) error {
		wasOnline := dev.Online
		changed := upd.Apply(dev)
		result = *dev
		if !changed && !created {
			return store.ErrNoChange
		}
		now := dm.coord.now()
		if created {
			dev.FirstSeenAt = now
		}
		dev.UpdatedAt = now
		cameOnline = dev.Online && (!wasOnline || created)
		result = *dev
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("merge device %s: %w", deviceID, err)
	}

	if cameOnline {
		dm.logger.Info("device online", "device", deviceID)
		dm.coord.Events().Emit(Event{Type: EventDeviceOnline, DeviceID: deviceID})
	}
	return &result, nil
}

// MarkOffline forces online=false. It reports whether the flag changed.
func (dm *DeviceManager) MarkOffline(deviceID string) (bool, error) {
	return dm.markOffline(deviceID, func(*store.DeviceState) bool { return true })
}

// ExpireIfStale marks the device offline only if it is online and was last
// seen before cutoff. A device with no recorded heartbeat or online time is
// left alone. The check and the write happen in one store transaction, so a
// report merged concurrently is never overwritten.
func (dm *DeviceManager) ExpireIfStale(deviceID string, cutoff time.Time) (bool, error) {
	return dm.markOffline(deviceID, func(dev *store.DeviceState) bool {
		seen := dev.LastSeen()
		return !seen.IsZero() && seen.Before(cutoff)
	})
}

func (dm *DeviceManager) markOffline(deviceID string, cond func(*store.DeviceState) bool) (bool, error) {
	var lastSeen time.Time
	changed := false
	err := dm.coord.Store().UpdateDevice(deviceID, func(dev *store.DeviceState) error {
		if !dev.Online || !cond(dev) {
			return store.ErrNoChange
		}
		dev.Online = false
		dev.UpdatedAt = dm.coord.now()
		lastSeen = dev.LastSeen()
		changed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("mark device %s offline: %w", deviceID, err)
	}
	if changed {
		dm.logger.Info("device offline", "device", deviceID, "last_seen", lastSeen)
		dm.coord.Events().Emit(Event{
			Type:     EventDeviceOffline,
			DeviceID: deviceID,
			Data:     map[string]any{"last_seen": lastSeen},
		})
	}
	return changed, nil
}

// Get returns the stored state of one device.
func (dm *DeviceManager) Get(deviceID string) (*store.DeviceState, error) {
	dev, err := dm.coord.Store().GetDevice(deviceID)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// List returns all known devices.
func (dm *DeviceManager) List() ([]*store.DeviceState, error) {
	return dm.coord.Store().ListDevices()
}

// IsNotFound reports whether err means the device has never reported.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
