// Package storage is the local cache: a single-bucket bbolt database under
// the user's home directory holding the conversation history list and
// small bits of client state.
package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	defaultDir      = ".parley"
	defaultBucket   = "parley"
	defaultFileName = "parley.db"
)

type DB struct {
	db        *bolt.DB
	closeOnce sync.Once
}

// Open opens the cache at its default location (~/.parley/parley.db),
// creating it on first use.
func Open() (*DB, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	dir := filepath.Join(homeDir, defaultDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s directory: %w", defaultDir, err)
	}

	return OpenPath(filepath.Join(dir, defaultFileName))
}

// OpenPath opens the cache at an explicit path.
func OpenPath(path string) (*DB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(defaultBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if d.db != nil {
			err = d.db.Close()
		}
	})
	return err
}

func (d *DB) get(key []byte) ([]byte, error) {
	var value []byte
	err := d.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(defaultBucket))
		if bucket == nil {
			return fmt.Errorf("bucket %s not found", defaultBucket)
		}
		v := bucket.Get(key)
		if v != nil {
			value = make([]byte, len(v))
			copy(value, v)
		}
		return nil
	})
	return value, err
}

func (d *DB) put(key, value []byte) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(defaultBucket))
		if bucket == nil {
			return fmt.Errorf("bucket %s not found", defaultBucket)
		}
		return bucket.Put(key, value)
	})
}

func (d *DB) delete(key []byte) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(defaultBucket))
		if bucket == nil {
			return fmt.Errorf("bucket %s not found", defaultBucket)
		}
		return bucket.Delete(key)
	})
}

func (d *DB) list(prefix []byte) (map[string][]byte, error) {
	result := make(map[string][]byte)
	err := d.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(defaultBucket))
		if bucket == nil {
			return fmt.Errorf("bucket %s not found", defaultBucket)
		}
		cursor := bucket.Cursor()
		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			key := make([]byte, len(k))
			value := make([]byte, len(v))
			copy(key, k)
			copy(value, v)
			result[string(key)] = value
		}
		return nil
	})
	return result, err
}
