// Package notes keeps the per-user log of wrong answers and study notes.
// Entries carry stable IDs so deletion survives concurrent appends.
package notes

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jwhahn/studydesk/internal/storage"
)

// TimestampFormat matches the answer cache so both render uniformly.
const TimestampFormat = "2006-01-02 15:04:05"

// Entry is one recorded note.
type Entry struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
	Content   string `json:"content"`
}

// DocStore is the slice of storage.Store the log needs.
type DocStore interface {
	LoadDocument(userID, kind string) (storage.Document, error)
	UpdateDocument(userID, kind string, mutate func(body string) (string, error)) error
}

// Log is the per-user append-only note log.
type Log struct {
	store DocStore
	now   func() time.Time
}

// NewLog creates a Log over the given store.
func NewLog(store DocStore) *Log {
	return &Log{store: store, now: time.Now}
}

// Append records a note and returns it with its assigned ID.
func (l *Log) Append(userID, content string) (Entry, error) {
	e := Entry{
		ID:        uuid.NewString(),
		CreatedAt: l.now().Format(TimestampFormat),
		Content:   content,
	}
	err := l.store.UpdateDocument(userID, storage.KindNotes, func(body string) (string, error) {
		entries := decode(body)
		entries = append(entries, e)
		return encode(entries)
	})
	if err != nil {
		return Entry{}, fmt.Errorf("appending note: %w", err)
	}
	return e, nil
}

// List returns the user's notes in insertion order.
func (l *Log) List(userID string) ([]Entry, error) {
	doc, err := l.store.LoadDocument(userID, storage.KindNotes)
	if err != nil {
		return nil, fmt.Errorf("loading notes: %w", err)
	}
	return decode(doc.Body), nil
}

// DeleteByID removes the note with the given ID. Unknown IDs are reported
// as storage.ErrNotFound.
func (l *Log) DeleteByID(userID, id string) error {
	found := false
	err := l.store.UpdateDocument(userID, storage.KindNotes, func(body string) (string, error) {
		found = false
		entries := decode(body)
		for i, e := range entries {
			if e.ID == id {
				found = true
				entries = append(entries[:i], entries[i+1:]...)
				break
			}
		}
		if !found {
			return body, nil
		}
		return encode(entries)
	})
	if err != nil {
		return err
	}
	if !found {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteAt removes the note at a positional index. The index is validated
// against a fresh load inside the write lock, so a stale position observed
// before a concurrent append or delete is reported rather than misapplied.
func (l *Log) DeleteAt(userID string, index int) (Entry, error) {
	var removed Entry
	err := l.store.UpdateDocument(userID, storage.KindNotes, func(body string) (string, error) {
		entries := decode(body)
		if index < 0 || index >= len(entries) {
			return "", fmt.Errorf("note index %d out of range (have %d)", index, len(entries))
		}
		removed = entries[index]
		entries = append(entries[:index], entries[index+1:]...)
		return encode(entries)
	})
	if err != nil {
		return Entry{}, err
	}
	return removed, nil
}

// decode tolerates a corrupt document by degrading to an empty log.
func decode(body string) []Entry {
	if body == "" || body == "{}" {
		return nil
	}
	var entries []Entry
	if err := json.Unmarshal([]byte(body), &entries); err != nil {
		slog.Warn("corrupt note log document, starting empty", "error", err)
		return nil
	}
	return entries
}

func encode(entries []Entry) (string, error) {
	b, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("encoding notes: %w", err)
	}
	return string(b), nil
}
