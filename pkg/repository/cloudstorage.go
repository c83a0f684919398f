package repository

import (
	"context"
	"errors"
	"io"
	"path"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/practiq/pkg/adapter"
)

// ObjectStore keeps each key as one object. The object is replaced only when
// the writer closes successfully.
type ObjectStore struct {
	storage adapter.Storage
	prefix  string
}

func NewObjectStore(storage adapter.Storage, prefix string) *ObjectStore {
	return &ObjectStore{storage: storage, prefix: prefix}
}

func (o *ObjectStore) objectKey(key string) string {
	return path.Join(o.prefix, key+".json")
}

func (o *ObjectStore) Get(ctx context.Context, key string) (string, bool, error) {
	reader, err := o.storage.Get(ctx, o.objectKey(key))
	if err != nil {
		if errors.Is(err, adapter.ErrObjectNotFound) {
			return "", false, nil
		}
		return "", false, goerr.Wrap(err, "failed to get object", goerr.V("key", key))
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", false, goerr.Wrap(err, "failed to read object", goerr.V("key", key))
	}
	return string(data), true, nil
}

func (o *ObjectStore) Set(ctx context.Context, key, value string) error {
	// Cancelling the writer's context discards the upload instead of finalizing it
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writer, err := o.storage.Put(ctx, o.objectKey(key))
	if err != nil {
		return goerr.Wrap(err, "failed to create storage writer", goerr.V("key", key))
	}

	if _, err := io.WriteString(writer, value); err != nil {
		cancel()
		return goerr.Wrap(err, "failed to write object", goerr.V("key", key))
	}

	if err := writer.Close(); err != nil {
		return goerr.Wrap(err, "failed to close storage writer", goerr.V("key", key))
	}
	return nil
}

func (o *ObjectStore) Remove(ctx context.Context, key string) error {
	if err := o.storage.Delete(ctx, o.objectKey(key)); err != nil {
		if errors.Is(err, adapter.ErrObjectNotFound) {
			return nil
		}
		return goerr.Wrap(err, "failed to delete object", goerr.V("key", key))
	}
	return nil
}
