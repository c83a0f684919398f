package model

import (
	"time"

	"github.com/google/uuid"
)

type HistoryID string

// NewHistoryID generates a new unique HistoryID
func NewHistoryID() HistoryID {
	return HistoryID(uuid.New().String())
}

// HistoryEntry is one completed generation. JSON keys follow the record
// layout written by earlier clients so existing logs stay readable.
type HistoryEntry struct {
	ID             HistoryID      `json:"id"`
	Topic          string         `json:"topic"`
	Response       string         `json:"response"`
	ExpertiseLevel ExpertiseLevel `json:"userLevel,omitempty"`
	CreatedAt      time.Time      `json:"timestamp"`
}

// HistoryLog is ordered most-recent-first
type HistoryLog []*HistoryEntry

// MaxHistoryEntries caps the log
const MaxHistoryEntries = 10

// Prepend returns a new log with e first, truncated to MaxHistoryEntries.
// The receiver is not modified.
func (l HistoryLog) Prepend(e *HistoryEntry) HistoryLog {
	n := len(l) + 1
	if n > MaxHistoryEntries {
		n = MaxHistoryEntries
	}

	out := make(HistoryLog, 0, n)
	out = append(out, e)
	for _, old := range l {
		if len(out) >= MaxHistoryEntries {
			break
		}
		out = append(out, old)
	}
	return out
}

// Find returns the entry with id, or nil
func (l HistoryLog) Find(id HistoryID) *HistoryEntry {
	for _, e := range l {
		if e.ID == id {
			return e
		}
	}
	return nil
}
