package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a versioned save loses against a concurrent
// writer. UpdateDocument retries on it; direct SaveDocument callers see it.
var ErrConflict = errors.New("version conflict")

// Document kinds. One JSON document exists per (user, kind) pair.
const (
	KindOCR   = "ocr"   // filename -> extracted text entries
	KindQA    = "qa"    // cache key -> answer entries
	KindNotes = "notes" // wrong-answer note list
)

// Document is a per-user, per-kind JSON blob with an optimistic version.
type Document struct {
	UserID    string
	Kind      string
	Body      string
	Version   int64
	UpdatedAt time.Time
}
