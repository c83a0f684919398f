package repository

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const firestoreCollection = "practiq_kv"

type firestoreValue struct {
	Value string `firestore:"value"`
}

// Firestore stores each key as one document. A document write is atomic.
type Firestore struct {
	client     *firestore.Client
	collection string
}

// NewFirestore creates a new Firestore-backed KeyValue
func NewFirestore(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	if projectID == "" {
		return nil, goerr.New("project is required")
	}
	if databaseID == "" {
		return nil, goerr.New("database is required")
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project_id", projectID),
			goerr.V("database_id", databaseID))
	}

	return &Firestore{
		client:     client,
		collection: firestoreCollection,
	}, nil
}

func (f *Firestore) Close() error {
	return f.client.Close()
}

func (f *Firestore) Get(ctx context.Context, key string) (string, bool, error) {
	doc, err := f.client.Collection(f.collection).Doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", false, nil
		}
		return "", false, goerr.Wrap(err, "failed to get document", goerr.V("key", key))
	}

	var v firestoreValue
	if err := doc.DataTo(&v); err != nil {
		return "", false, goerr.Wrap(err, "failed to decode document", goerr.V("key", key))
	}
	return v.Value, true, nil
}

func (f *Firestore) Set(ctx context.Context, key, value string) error {
	if _, err := f.client.Collection(f.collection).Doc(key).Set(ctx, firestoreValue{Value: value}); err != nil {
		return goerr.Wrap(err, "failed to set document", goerr.V("key", key))
	}
	return nil
}

func (f *Firestore) Remove(ctx context.Context, key string) error {
	if _, err := f.client.Collection(f.collection).Doc(key).Delete(ctx); err != nil {
		return goerr.Wrap(err, "failed to delete document", goerr.V("key", key))
	}
	return nil
}
