package store

import "time"

// StorageState reports whether a camera has a memory card inserted.
type StorageState int

const (
	StorageAbsent  StorageState = 0
	StoragePresent StorageState = 1
)

func (s StorageState) String() string {
	if s == StoragePresent {
		return "present"
	}
	return "absent"
}

// DeviceState is the last known telemetry of one camera.
type DeviceState struct {
	DeviceID           string       `json:"device_id"`
	Online             bool         `json:"online"`
	LastOnlineAt       time.Time    `json:"last_online_at"`
	LastHeartbeatAt    time.Time    `json:"last_heartbeat_at"`
	SignalStrength     int          `json:"signal_strength"` // dBm
	FirmwareVersion    string       `json:"firmware_version,omitempty"`
	StorageState       StorageState `json:"storage_state"`
	StorageTotalBlocks int64        `json:"storage_total_blocks"`
	StorageBlockSize   int64        `json:"storage_block_size"`
	StorageFreeBlocks  int64        `json:"storage_free_blocks"`
	Rotated            bool         `json:"rotated"`
	IndicatorLEDOn     bool         `json:"indicator_led_on"`
	FloodlightOn       bool         `json:"floodlight_on"`
	FirstSeenAt        time.Time    `json:"first_seen_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// LastSeen is the heartbeat time, or the last online time if the device has
// never reported a heartbeat.
func (d *DeviceState) LastSeen() time.Time {
	if !d.LastHeartbeatAt.IsZero() {
		return d.LastHeartbeatAt
	}
	return d.LastOnlineAt
}

// StorageTotalBytes is the card capacity in bytes.
func (d *DeviceState) StorageTotalBytes() int64 {
	return d.StorageTotalBlocks * d.StorageBlockSize
}

// StorageFreeBytes is the unused card space in bytes.
func (d *DeviceState) StorageFreeBytes() int64 {
	return d.StorageFreeBlocks * d.StorageBlockSize
}

// StateUpdate is a partial DeviceState. Nil fields leave the stored value
// untouched.
type StateUpdate struct {
	Online             *bool
	LastOnlineAt       *time.Time
	LastHeartbeatAt    *time.Time
	SignalStrength     *int
	FirmwareVersion    *string
	StorageState       *StorageState
	StorageTotalBlocks *int64
	StorageBlockSize   *int64
	StorageFreeBlocks  *int64
	Rotated            *bool
	IndicatorLEDOn     *bool
	FloodlightOn       *bool
}

// Empty reports whether the update carries no fields.
func (u StateUpdate) Empty() bool {
	return u == StateUpdate{}
}

// Apply copies every non-nil field into d and reports whether any stored
// value changed.
func (u StateUpdate) Apply(d *DeviceState) bool {
	changed := assign(&d.Online, u.Online)
	changed = assignTime(&d.LastOnlineAt, u.LastOnlineAt) || changed
	changed = assignTime(&d.LastHeartbeatAt, u.LastHeartbeatAt) || changed
	changed = assign(&d.SignalStrength, u.SignalStrength) || changed
	changed = assign(&d.FirmwareVersion, u.FirmwareVersion) || changed
	changed = assign(&d.StorageState, u.StorageState) || changed
	changed = assign(&d.StorageTotalBlocks, u.StorageTotalBlocks) || changed
	changed = assign(&d.StorageBlockSize, u.StorageBlockSize) || changed
	changed = assign(&d.StorageFreeBlocks, u.StorageFreeBlocks) || changed
	changed = assign(&d.Rotated, u.Rotated) || changed
	changed = assign(&d.IndicatorLEDOn, u.IndicatorLEDOn) || changed
	changed = assign(&d.FloodlightOn, u.FloodlightOn) || changed
	return changed
}

func assign[T comparable](dst, src *T) bool {
	if src == nil || *dst == *src {
		return false
	}
	*dst = *src
	return true
}

func assignTime(dst, src *time.Time) bool {
	if src == nil || dst.Equal(*src) {
		return false
	}
	*dst = *src
	return true
}
