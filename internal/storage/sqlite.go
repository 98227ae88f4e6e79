package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// maxUpdateRetries bounds the optimistic-write retry loop in UpdateDocument.
const maxUpdateRetries = 5

// Store wraps a SQLite database holding one JSON document per (user, kind).
// Writes go through optimistic versioning so no two writers can corrupt the
// same document; different documents never block each other.
type Store struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "studydesk.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db, locks: make(map[string]*sync.Mutex)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying database for tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// LoadDocument returns the document for (user, kind). A missing document is
// not an error: it comes back with an empty body and version 0, ready for a
// first SaveDocument.
func (s *Store) LoadDocument(userID, kind string) (Document, error) {
	doc := Document{UserID: userID, Kind: kind}
	var updatedAt string
	err := s.db.QueryRow(
		`SELECT body, version, updated_at FROM documents WHERE user_id = ? AND kind = ?`,
		userID, kind,
	).Scan(&doc.Body, &doc.Version, &updatedAt)
	if err == sql.ErrNoRows {
		return doc, nil
	}
	if err != nil {
		return Document{}, err
	}
	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return Document{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	doc.UpdatedAt = t
	return doc, nil
}

// SaveDocument writes body for (user, kind) if and only if the stored
// version still equals expectVersion. expectVersion 0 means "create"; an
// existing row or a version mismatch yields ErrConflict.
func (s *Store) SaveDocument(userID, kind, body string, expectVersion int64) error {
	now := time.Now().UTC().Format(time.RFC3339)

	if expectVersion == 0 {
		_, err := s.db.Exec(
			`INSERT INTO documents (user_id, kind, body, version, updated_at) VALUES (?, ?, ?, 1, ?)`,
			userID, kind, body, now,
		)
		if err != nil && strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrConflict
		}
		return err
	}

	res, err := s.db.Exec(
		`UPDATE documents SET body = ?, version = version + 1, updated_at = ?
		 WHERE user_id = ? AND kind = ? AND version = ?`,
		body, now, userID, kind, expectVersion,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// DeleteDocument removes the document for (user, kind).
func (s *Store) DeleteDocument(userID, kind string) error {
	res, err := s.db.Exec(`DELETE FROM documents WHERE user_id = ? AND kind = ?`, userID, kind)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateDocument runs a read-modify-write cycle on one document. The mutate
// function receives the current body ("" for a new document) and returns the
// replacement. A per-(user, kind) mutex serializes in-process writers;
// version checks catch anything else, retried up to maxUpdateRetries.
func (s *Store) UpdateDocument(userID, kind string, mutate func(body string) (string, error)) error {
	lock := s.docLock(userID, kind)
	lock.Lock()
	defer lock.Unlock()

	var lastErr error
	for range maxUpdateRetries {
		doc, err := s.LoadDocument(userID, kind)
		if err != nil {
			return fmt.Errorf("loading document %s/%s: %w", userID, kind, err)
		}

		next, err := mutate(doc.Body)
		if err != nil {
			return err
		}

		err = s.SaveDocument(userID, kind, next, doc.Version)
		if err == nil {
			return nil
		}
		if err != ErrConflict {
			return fmt.Errorf("saving document %s/%s: %w", userID, kind, err)
		}
		lastErr = err
	}
	return fmt.Errorf("updating document %s/%s: %w", userID, kind, lastErr)
}

func (s *Store) docLock(userID, kind string) *sync.Mutex {
	key := userID + "\x00" + kind
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}
