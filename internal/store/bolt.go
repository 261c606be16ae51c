package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketDevices = []byte("devices")

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDevices)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) SaveDevice(dev *DeviceState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDevices)
		}
		return putDevice(b, dev)
	})
}

func (s *BoltStore) GetDevice(id string) (*DeviceState, error) {
	var dev *DeviceState
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDevices)
		}
		var err error
		dev, err = getDevice(b, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return dev, nil
}

func (s *BoltStore) DeleteDevice(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDevices)
		}
		return b.Delete([]byte(id))
	})
}

func (s *BoltStore) ListDevices() ([]*DeviceState, error) {
	var devices []*DeviceState
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return nil // no bucket = no devices
		}
		devices = make([]*DeviceState, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var dev DeviceState
			if err := json.Unmarshal(v, &dev); err != nil {
				return fmt.Errorf("decode device %s: %w", k, err)
			}
			devices = append(devices, &dev)
			return nil
		})
	})
	return devices, err
}

func (s *BoltStore) UpdateDevice(id string, fn func(dev *DeviceState) error) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDevices)
		}
		dev, err := getDevice(b, id)
		if err != nil {
			return err
		}
		if err := fn(dev); err != nil {
			return err
		}
		dev.DeviceID = id
		return putDevice(b, dev)
	})
	if errors.Is(err, ErrNoChange) {
		return nil
	}
	return err
}

func (s *BoltStore) UpsertDevice(id string, fn func(dev *DeviceState, created bool) error) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDevices)
		}
		created := false
		dev, err := getDevice(b, id)
		if errors.Is(err, ErrNotFound) {
			dev, created = &DeviceState{DeviceID: id}, true
		} else if err != nil {
			return err
		}
		if err := fn(dev, created); err != nil {
			return err
		}
		dev.DeviceID = id
		return putDevice(b, dev)
	})
	if errors.Is(err, ErrNoChange) {
		return nil
	}
	return err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func getDevice(b *bolt.Bucket, id string) (*DeviceState, error) {
	data := b.Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	var dev DeviceState
	if err := json.Unmarshal(data, &dev); err != nil {
		return nil, fmt.Errorf("decode device %s: %w", id, err)
	}
	return &dev, nil
}

func putDevice(b *bolt.Bucket, dev *DeviceState) error {
	data, err := json.Marshal(dev)
	if err != nil {
		return err
	}
	return b.Put([]byte(dev.DeviceID), data)
}
