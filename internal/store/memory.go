package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps device state in process memory. State is lost on
// restart and rebuilt from the next report of each camera.
type MemoryStore struct {
	mu      sync.Mutex
	devices map[string]DeviceState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{devices: make(map[string]DeviceState)}
}

func (s *MemoryStore) SaveDevice(dev *DeviceState) error {
	s.mu.Lock()
	s.devices[dev.DeviceID] = *dev
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetDevice(id string) (*DeviceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devices[id]
	if !ok {
		return nil, fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	return &dev, nil
}

func (s *MemoryStore) DeleteDevice(id string) error {
	s.mu.Lock()
	delete(s.devices, id)
	s.mu.Unlock()
	return nil
}

// ListDevices returns devices ordered by ID.
func (s *MemoryStore) ListDevices() ([]*DeviceState, error) {
	s.mu.Lock()
	devices := make([]*DeviceState, 0, len(s.devices))
	for _, d := range s.devices {
		d := d
		devices = append(devices, &d)
	}
	s.mu.Unlock()
	sort.Slice(devices, func(i, j int) bool { return devices[i].DeviceID < devices[j].DeviceID })
	return devices, nil
}

func (s *MemoryStore) UpdateDevice(id string, fn func(dev *DeviceState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devices[id]
	if !ok {
		return fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	if err := fn(&dev); err != nil {
		if errors.Is(err, ErrNoChange) {
			return nil
		}
		return err
	}
	dev.DeviceID = id
	s.devices[id] = dev
	return nil
}

func (s *MemoryStore) UpsertDevice(id string, fn func(dev *DeviceState, created bool) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devices[id]
	if !ok {
		dev = DeviceState{DeviceID: id}
	}
	if err := fn(&dev, !ok); err != nil {
		if errors.Is(err, ErrNoChange) {
			return nil
		}
		return err
	}
	dev.DeviceID = id
	s.devices[id] = dev
	return nil
}

func (s *MemoryStore) Close() error { return nil }
