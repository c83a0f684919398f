package history

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/practiq/pkg/model"
	"github.com/m-mizutani/practiq/pkg/repository"
	"github.com/m-mizutani/practiq/pkg/utils/logging"
)

// StorageKey is the key holding the serialized log
const StorageKey = "qaHistory"

// Store is a bounded, most-recent-first log of completed generations.
//
// A Store without a KeyValue behaves as if no durable storage exists: List
// returns an empty log and Append/Clear do nothing.
type Store struct {
	kv  repository.KeyValue
	now func() time.Time

	mu sync.Mutex
}

type Option func(*Store)

// WithClock overrides time.Now for CreatedAt
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(kv repository.KeyValue, opts ...Option) *Store {
	s := &Store{
		kv:  kv,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Available reports whether a durable store backs this Store
func (s *Store) Available() bool {
	return s != nil && s.kv != nil
}

// List returns the stored log. Absent, unreadable or malformed records yield
// an empty log rather than an error.
func (s *Store) List(ctx context.Context) model.HistoryLog {
	if !s.Available() {
		return model.HistoryLog{}
	}
	return s.load(ctx)
}

// Get returns the entry with id, or nil if there is none
func (s *Store) Get(ctx context.Context, id model.HistoryID) *model.HistoryEntry {
	return s.List(ctx).Find(id)
}

// Append records a completed generation and returns the new entry. It returns
// a nil entry and no error when history is disabled or the storage is
// unavailable. On a failed write the previously stored log is left unchanged.
func (s *Store) Append(ctx context.Context, topic, response string, level model.ExpertiseLevel) (*model.HistoryEntry, error) {
	entry := &model.HistoryEntry{
		ID:             model.NewHistoryID(),
		Topic:          topic,
		Response:       response,
		ExpertiseLevel: level.OrDefault(),
		CreatedAt:      s.now().UTC(),
	}

	if !s.Available() {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.load(ctx).Prepend(entry)

	data, err := json.Marshal(next)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal history")
	}

	if err := s.kv.Set(ctx, StorageKey, string(data)); err != nil {
		if errors.Is(err, model.ErrStorageUnavailable) {
			logging.From(ctx).Warn("history storage unavailable, entry not saved", "topic", topic)
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to save history", goerr.V("entries", len(next)))
	}

	return entry, nil
}

// Clear removes the stored log
func (s *Store) Clear(ctx context.Context) error {
	if !s.Available() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Remove(ctx, StorageKey); err != nil {
		if errors.Is(err, model.ErrStorageUnavailable) {
			return nil
		}
		return goerr.Wrap(err, "failed to clear history")
	}
	return nil
}

func (s *Store) load(ctx context.Context) model.HistoryLog {
	logger := logging.From(ctx)

	raw, ok, err := s.kv.Get(ctx, StorageKey)
	if err != nil {
		logger.Warn("failed to read history, treating as empty", "error", err)
		return model.HistoryLog{}
	}
	if !ok {
		return model.HistoryLog{}
	}

	log, err := decode(raw)
	if err != nil {
		logger.Debug("ignoring malformed history record", "error", err)
		return model.HistoryLog{}
	}
	return log
}

func decode(raw string) (model.HistoryLog, error) {
	var log model.HistoryLog
	if err := json.Unmarshal([]byte(raw), &log); err != nil {
		return nil, goerr.Wrap(err, "history is not valid JSON")
	}

	for i, e := range log {
		if e == nil || e.ID == "" || e.Topic == "" {
			return nil, goerr.New("history entry does not match schema", goerr.V("index", i))
		}
	}

	if len(log) > model.MaxHistoryEntries {
		log = log[:model.MaxHistoryEntries]
	}
	return log, nil
}
