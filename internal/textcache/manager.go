// Package textcache is the write-through cache between the text extractors
// and everything that consumes document text. Entries live in the per-user
// "ocr" document until the file disappears or a forced re-extraction
// overwrites them.
package textcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jwhahn/studydesk/internal/storage"
)

// minUsefulChars is the content-sufficiency threshold: a cheap parse
// yielding less than this is assumed to be a scanned or image-only document
// and flagged for the heavy OCR path instead of cached as final.
const minUsefulChars = 32

// aggregateFillLimit bounds concurrent lazy extractions during Aggregate.
const aggregateFillLimit = 4

// Status tags a Get result.
type Status int

const (
	// StatusOK carries authoritative extracted text.
	StatusOK Status = iota
	// StatusNeedsOCR means the cheap parse came up near-empty; a forced
	// re-extraction through the heavy path is recommended.
	StatusNeedsOCR
	// StatusAbsent means no text is available: file missing, unsupported,
	// or extraction failed. Nothing was cached, so a retry will recompute.
	StatusAbsent
)

// Result is the tagged outcome of a cache lookup or extraction.
type Result struct {
	Status Status
	Text   string
}

// DocStore is the slice of storage.Store the manager needs.
type DocStore interface {
	LoadDocument(userID, kind string) (storage.Document, error)
	UpdateDocument(userID, kind string, mutate func(body string) (string, error)) error
}

// FileSource lists and locates a user's files. Implemented by
// library.Library.
type FileSource interface {
	Files(userID string) ([]string, error)
	Path(userID, filename string) string
}

// FileExtractor produces text for a file. Implemented by extract.Extractor.
type FileExtractor interface {
	Extract(ctx context.Context, path string) (string, error)
	ExtractForced(ctx context.Context, path string) (string, error)
}

// entry is one cached extraction, keyed by filename in the "ocr" document.
type entry struct {
	Text      string `json:"text"`
	Status    string `json:"status"` // "ok" or "needs_ocr"
	UpdatedAt string `json:"updated_at"`
}

const (
	entryOK       = "ok"
	entryNeedsOCR = "needs_ocr"
)

// Manager orchestrates lazy extraction, forced refresh, and reconciliation
// against the user's current file listing.
type Manager struct {
	store     DocStore
	files     FileSource
	extractor FileExtractor
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	inflight map[string]*sync.Mutex
}

// NewManager wires a Manager from its collaborators.
func NewManager(store DocStore, files FileSource, extractor FileExtractor) *Manager {
	return &Manager{
		store:     store,
		files:     files,
		extractor: extractor,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// Get returns the text for one file. With force false a cached "ok" entry is
// returned as-is and the extractor is not called; a cached needs-OCR entry
// comes back as NeedsOCR so the caller can offer the forced path. With force
// true the cache read is bypassed, the heavy extractor variant runs where
// the type has one, and the entry is overwritten.
func (m *Manager) Get(ctx context.Context, userID, filename string, force bool) (Result, error) {
	if !force {
		if e, ok, err := m.lookup(userID, filename); err != nil {
			return Result{Status: StatusAbsent}, err
		} else if ok {
			switch {
			case e.Status == entryNeedsOCR:
				return Result{Status: StatusNeedsOCR, Text: e.Text}, nil
			case e.Text != "":
				return Result{Status: StatusOK, Text: e.Text}, nil
			}
			// Empty "ok" entry: treat as absent and recompute.
		}
	}
	return m.extractAndStore(ctx, userID, filename, force)
}

// extractAndStore runs the extractor and writes the result through. A
// per-(user, file) mutex keeps concurrent misses from extracting twice.
func (m *Manager) extractAndStore(ctx context.Context, userID, filename string, force bool) (Result, error) {
	lock := m.fileLock(userID, filename)
	lock.Lock()
	defer lock.Unlock()

	// A concurrent caller may have filled the entry while we waited.
	if !force {
		if e, ok, err := m.lookup(userID, filename); err == nil && ok && e.Status == entryOK && e.Text != "" {
			return Result{Status: StatusOK, Text: e.Text}, nil
		}
	}

	path := m.files.Path(userID, filename)
	if _, err := os.Stat(path); err != nil {
		return Result{Status: StatusAbsent}, nil
	}

	var text string
	var err error
	if force {
		text, err = m.extractor.ExtractForced(ctx, path)
	} else {
		text, err = m.extractor.Extract(ctx, path)
	}
	if err != nil {
		// Failures are never cached: the next call retries.
		m.logger.Warn("extraction failed", "user", userID, "file", filename, "error", err)
		return Result{Status: StatusAbsent}, nil
	}

	text = strings.TrimSpace(text)
	status := entryOK
	if !force && len(text) < minUsefulChars && hasHeavyVariant(filename) {
		status = entryNeedsOCR
	}
	if text == "" && status == entryOK {
		// A forced re-extraction supersedes whatever was cached even when
		// it comes back empty: the old text must not keep serving as a hit.
		if force {
			if err := m.Remove(userID, filename); err != nil {
				return Result{Status: StatusAbsent}, fmt.Errorf("purging stale text for %s: %w", filename, err)
			}
		}
		return Result{Status: StatusAbsent}, nil
	}

	if err := m.storeEntry(userID, filename, entry{
		Text:      text,
		Status:    status,
		UpdatedAt: m.now().UTC().Format(time.RFC3339),
	}); err != nil {
		return Result{Status: StatusAbsent}, fmt.Errorf("caching text for %s: %w", filename, err)
	}

	if status == entryNeedsOCR {
		return Result{Status: StatusNeedsOCR, Text: text}, nil
	}
	return Result{Status: StatusOK, Text: text}, nil
}

// Aggregate returns the concatenated text of every currently supported file,
// each section delimited by a filename header. Cached filenames that no
// longer exist in the listing are purged durably. Files that fail extraction
// are skipped, not fatal.
func (m *Manager) Aggregate(ctx context.Context, userID string) (string, error) {
	files, err := m.files.Files(userID)
	if err != nil {
		return "", fmt.Errorf("listing files: %w", err)
	}

	if err := m.reconcile(userID, files); err != nil {
		return "", err
	}

	cache, err := m.load(userID)
	if err != nil {
		return "", err
	}

	// Lazily fill missing entries, a few at a time. Each Get writes through
	// on its own; failures only cost that file its section.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(aggregateFillLimit)
	results := make([]Result, len(files))
	for i, name := range files {
		if e, ok := cache[name]; ok && e.Status == entryOK && e.Text != "" {
			results[i] = Result{Status: StatusOK, Text: e.Text}
			continue
		}
		g.Go(func() error {
			res, err := m.Get(gctx, userID, name, false)
			if err != nil {
				m.logger.Warn("aggregate fill failed", "user", userID, "file", name, "error", err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	var sb strings.Builder
	for i, name := range files {
		if results[i].Status != StatusOK || results[i].Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "--- %s ---\n%s\n--- end %s ---", name, results[i].Text, name)
	}
	return sb.String(), nil
}

// AggregateSelected is Aggregate over an explicit file selection: the same
// section format, no reconciliation, selection order preserved. Files that
// are missing or fail extraction are skipped.
func (m *Manager) AggregateSelected(ctx context.Context, userID string, names []string) (string, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(aggregateFillLimit)
	results := make([]Result, len(names))
	for i, name := range names {
		g.Go(func() error {
			res, err := m.Get(gctx, userID, name, false)
			if err != nil {
				m.logger.Warn("aggregate fill failed", "user", userID, "file", name, "error", err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	var sb strings.Builder
	for i, name := range names {
		if results[i].Status != StatusOK || results[i].Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "--- %s ---\n%s\n--- end %s ---", name, results[i].Text, name)
	}
	return sb.String(), nil
}

// reconcile purges cache entries whose file is gone from the listing.
func (m *Manager) reconcile(userID string, files []string) error {
	current := make(map[string]bool, len(files))
	for _, f := range files {
		current[f] = true
	}

	err := m.store.UpdateDocument(userID, storage.KindOCR, func(body string) (string, error) {
		cache := decode(body)
		changed := false
		for name := range cache {
			if !current[name] {
				delete(cache, name)
				changed = true
			}
		}
		if !changed {
			return body, nil
		}
		return encode(cache)
	})
	if err != nil {
		return fmt.Errorf("reconciling extraction cache: %w", err)
	}
	return nil
}

// Remove drops one file's entry, durably. Called when the file is deleted.
func (m *Manager) Remove(userID, filename string) error {
	return m.store.UpdateDocument(userID, storage.KindOCR, func(body string) (string, error) {
		cache := decode(body)
		if _, ok := cache[filename]; !ok {
			return body, nil
		}
		delete(cache, filename)
		return encode(cache)
	})
}

// CachedFiles returns the filenames with authoritative cached text, sorted.
func (m *Manager) CachedFiles(userID string) ([]string, error) {
	cache, err := m.load(userID)
	if err != nil {
		return nil, err
	}
	var names []string
	for name, e := range cache {
		if e.Status == entryOK && e.Text != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *Manager) lookup(userID, filename string) (entry, bool, error) {
	cache, err := m.load(userID)
	if err != nil {
		return entry{}, false, err
	}
	e, ok := cache[filename]
	return e, ok, nil
}

func (m *Manager) load(userID string) (map[string]entry, error) {
	doc, err := m.store.LoadDocument(userID, storage.KindOCR)
	if err != nil {
		return nil, fmt.Errorf("loading extraction cache: %w", err)
	}
	return decode(doc.Body), nil
}

func (m *Manager) storeEntry(userID, filename string, e entry) error {
	return m.store.UpdateDocument(userID, storage.KindOCR, func(body string) (string, error) {
		cache := decode(body)
		cache[filename] = e
		return encode(cache)
	})
}

func (m *Manager) fileLock(userID, filename string) *sync.Mutex {
	key := userID + "\x00" + filename
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inflight == nil {
		m.inflight = make(map[string]*sync.Mutex)
	}
	l, ok := m.inflight[key]
	if !ok {
		l = &sync.Mutex{}
		m.inflight[key] = l
	}
	return l
}

func hasHeavyVariant(filename string) bool {
	lower := strings.ToLower(filename)
	return strings.HasSuffix(lower, ".pdf")
}

// decode tolerates a corrupt document by degrading to an empty cache.
func decode(body string) map[string]entry {
	cache := make(map[string]entry)
	if body == "" {
		return cache
	}
	if err := json.Unmarshal([]byte(body), &cache); err != nil {
		slog.Warn("corrupt extraction cache document, starting empty", "error", err)
		return make(map[string]entry)
	}
	return cache
}

func encode(cache map[string]entry) (string, error) {
	b, err := json.Marshal(cache)
	if err != nil {
		return "", fmt.Errorf("encoding extraction cache: %w", err)
	}
	return string(b), nil
}
