package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// ErrNoChange may be returned by an update callback to abort the write
// without reporting an error to the caller.
var ErrNoChange = errors.New("no change")

// Store defines the persistence interface for camera state.
type Store interface {
	GetDevice(id string) (*DeviceState, error)
	ListDevices() ([]*DeviceState, error)
	SaveDevice(dev *DeviceState) error
	DeleteDevice(id string) error

	// UpdateDevice atomically reads, modifies, and saves a device in a single
	// transaction. Returns ErrNotFound if the device does not exist.
	UpdateDevice(id string, fn func(dev *DeviceState) error) error

	// UpsertDevice is UpdateDevice that starts from a fresh record, with
	// created set, when the device does not exist yet.
	UpsertDevice(id string, fn func(dev *DeviceState, created bool) error) error

	Close() error
}
