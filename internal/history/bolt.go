package history

import (
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const bucketName = "kv"

// BoltKV implements KV using BoltDB
type BoltKV struct {
	db *bbolt.DB
}

// NewBoltKV opens (or creates) the BoltDB file at path
func NewBoltKV(path string) (*BoltKV, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltKV{db: db}, nil
}

// Get reads a value from the bucket
func (b *BoltKV) Get(_ context.Context, key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get([]byte(key))
		if data == nil {
			return nil
		}
		// data is only valid inside the transaction
		value, found = string(data), true
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", key, err)
	}
	return value, found, nil
}

// Set writes a value to the bucket
func (b *BoltKV) Set(_ context.Context, key, value string) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// Delete removes a value from the bucket
func (b *BoltKV) Delete(_ context.Context, key string) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// Close closes the database file
func (b *BoltKV) Close() error {
	return b.db.Close()
}
