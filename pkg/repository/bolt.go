package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/practiq/pkg/model"
	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("practiq")

// Bolt stores values in a local bbolt file. This is the default store for the
// terminal client.
type Bolt struct {
	db *bolt.DB
}

type boltOptions struct {
	lockTimeout time.Duration
}

type BoltOption func(*boltOptions)

// WithLockTimeout bounds the wait for a file locked by another process
func WithLockTimeout(d time.Duration) BoltOption {
	return func(o *boltOptions) {
		o.lockTimeout = d
	}
}

// NewBolt opens (or creates) the database file at path. A file held by
// another process yields an error wrapping model.ErrStorageUnavailable.
func NewBolt(path string, opts ...BoltOption) (*Bolt, error) {
	o := boltOptions{lockTimeout: 2 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, goerr.Wrap(err, "failed to create database directory", goerr.V("path", path))
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: o.lockTimeout})
	if errors.Is(err, bolt.ErrTimeout) {
		return nil, goerr.Wrap(errors.Join(model.ErrStorageUnavailable, err),
			"bolt database is locked", goerr.V("path", path))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open bolt database", goerr.V("path", path))
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "failed to create bucket", goerr.V("path", path))
	}

	return &Bolt{db: db}, nil
}

func (b *Bolt) Close() error {
	return b.db.Close()
}

func (b *Bolt) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		value string
		found bool
	)

	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boltBucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		// v is only valid inside the transaction
		value = string(v)
		found = true
		return nil
	})
	if err != nil {
		return "", false, goerr.Wrap(err, "failed to read bolt value", goerr.V("key", key))
	}

	return value, found, nil
}

func (b *Bolt) Set(ctx context.Context, key, value string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put([]byte(key), []byte(value))
	})
	if errors.Is(err, bolt.ErrDatabaseReadOnly) {
		return goerr.Wrap(errors.Join(model.ErrStorageUnavailable, err), "bolt database is read-only", goerr.V("key", key))
	}
	if err != nil {
		return goerr.Wrap(err, "failed to write bolt value", goerr.V("key", key))
	}
	return nil
}

func (b *Bolt) Remove(ctx context.Context, key string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Delete([]byte(key))
	})
	if err != nil {
		return goerr.Wrap(err, "failed to delete bolt value", goerr.V("key", key))
	}
	return nil
}
