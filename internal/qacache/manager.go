// Package qacache is the read-through/write-through cache for generated
// answers: questions, summaries, quizzes, grading reports, and correlation
// analyses. Entries are keyed deterministically per operation and live until
// the user deletes them.
package qacache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jwhahn/studydesk/internal/storage"
)

// TimestampFormat sorts lexicographically, which Categorize relies on.
const TimestampFormat = "2006-01-02 15:04:05"

// Entry is one cached answer.
type Entry struct {
	Answer    string `json:"answer"`
	Label     string `json:"label"`
	Kind      Kind   `json:"kind"`
	Timestamp string `json:"timestamp"`
}

// DocStore is the slice of storage.Store the manager needs.
type DocStore interface {
	LoadDocument(userID, kind string) (storage.Document, error)
	UpdateDocument(userID, kind string, mutate func(body string) (string, error)) error
}

// Manager implements keyed get-or-compute over the per-user "qa" document.
type Manager struct {
	store DocStore
	group singleflight.Group
	now   func() time.Time
}

// NewManager creates a Manager over the given store.
func NewManager(store DocStore) *Manager {
	return &Manager{store: store, now: time.Now}
}

// ComputeFunc produces an answer on a cache miss.
type ComputeFunc func(ctx context.Context) (string, error)

// GetOrCompute returns the cached answer for key, or runs compute exactly
// once and writes the result through before returning it. Concurrent callers
// for the same (user, key) share one in-flight computation. Failed
// computations are never cached, so the next call retries.
func (m *Manager) GetOrCompute(ctx context.Context, userID, key string, kind Kind, label string, compute ComputeFunc) (string, bool, error) {
	if e, ok, err := m.Lookup(userID, key); err != nil {
		return "", false, err
	} else if ok {
		return e.Answer, true, nil
	}

	answer, err, _ := m.group.Do(userID+"\x00"+key, func() (any, error) {
		// Another caller may have finished between our miss and here.
		if e, ok, err := m.Lookup(userID, key); err != nil {
			return "", err
		} else if ok {
			return e.Answer, nil
		}

		answer, err := compute(ctx)
		if err != nil {
			return "", err
		}

		if err := m.put(userID, key, Entry{
			Answer:    answer,
			Label:     label,
			Kind:      kind,
			Timestamp: m.now().Format(TimestampFormat),
		}); err != nil {
			return "", fmt.Errorf("caching answer for %s: %w", key, err)
		}
		return answer, nil
	})
	if err != nil {
		return "", false, err
	}
	return answer.(string), false, nil
}

// Put writes an answer produced outside GetOrCompute, such as the assembled
// result of a streamed response.
func (m *Manager) Put(userID, key string, kind Kind, label, answer string) error {
	return m.put(userID, key, Entry{
		Answer:    answer,
		Label:     label,
		Kind:      kind,
		Timestamp: m.now().Format(TimestampFormat),
	})
}

// Lookup returns the entry for key if present.
func (m *Manager) Lookup(userID, key string) (Entry, bool, error) {
	cache, err := m.load(userID)
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := cache[key]
	return e, ok, nil
}

// Entries returns every cached entry for the user.
func (m *Manager) Entries(userID string) (map[string]Entry, error) {
	return m.load(userID)
}

// Delete removes one entry. Absent keys are reported as storage.ErrNotFound.
func (m *Manager) Delete(userID, key string) error {
	found := false
	err := m.store.UpdateDocument(userID, storage.KindQA, func(body string) (string, error) {
		found = false
		cache := decode(body)
		if _, ok := cache[key]; !ok {
			return body, nil
		}
		found = true
		delete(cache, key)
		return encode(cache)
	})
	if err != nil {
		return err
	}
	if !found {
		return storage.ErrNotFound
	}
	return nil
}

func (m *Manager) put(userID, key string, e Entry) error {
	return m.store.UpdateDocument(userID, storage.KindQA, func(body string) (string, error) {
		cache := decode(body)
		cache[key] = e
		return encode(cache)
	})
}

func (m *Manager) load(userID string) (map[string]Entry, error) {
	doc, err := m.store.LoadDocument(userID, storage.KindQA)
	if err != nil {
		return nil, fmt.Errorf("loading answer cache: %w", err)
	}
	return decode(doc.Body), nil
}

// decode tolerates a corrupt document by degrading to an empty cache.
func decode(body string) map[string]Entry {
	cache := make(map[string]Entry)
	if body == "" {
		return cache
	}
	if err := json.Unmarshal([]byte(body), &cache); err != nil {
		slog.Warn("corrupt answer cache document, starting empty", "error", err)
		return make(map[string]Entry)
	}
	return cache
}

func encode(cache map[string]Entry) (string, error) {
	b, err := json.Marshal(cache)
	if err != nil {
		return "", fmt.Errorf("encoding answer cache: %w", err)
	}
	return string(b), nil
}
