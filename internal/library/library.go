// Package library manages each user's uploaded study files on disk.
package library

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// supportedExtensions lists the file types the extraction layer knows how to
// handle. Anything else is invisible to listings and rejected on upload.
var supportedExtensions = map[string]bool{
	".pdf":  true,
	".pptx": true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".txt":  true,
	".md":   true,
	".html": true,
	".xlsx": true,
}

// Library stores user files under <root>/<user>/.
type Library struct {
	root string
}

// New creates a Library rooted at dir.
func New(dir string) *Library {
	return &Library{root: dir}
}

// Allowed reports whether filename has a supported extension.
func Allowed(filename string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// Sanitize strips path components and replaces characters that are unsafe in
// a stored filename. Returns an error for names that reduce to nothing.
func Sanitize(filename string) (string, error) {
	name := filepath.Base(filepath.Clean(filename))
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '\x00':
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("invalid filename %q", filename)
	}
	return name, nil
}

// Files returns the user's current supported files, sorted by name. A
// missing user directory is an empty listing, not an error.
func (l *Library) Files(userID string) ([]string, error) {
	entries, err := os.ReadDir(l.userDir(userID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing files for %s: %w", userID, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !Allowed(e.Name()) {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

// Path returns the on-disk path for a user's file. It does not check
// existence.
func (l *Library) Path(userID, filename string) string {
	return filepath.Join(l.userDir(userID), filename)
}

// Save writes an uploaded file into the user's directory. The name must
// already be sanitized and supported.
func (l *Library) Save(userID, filename string, r io.Reader) error {
	if !Allowed(filename) {
		return fmt.Errorf("unsupported file type %q", filename)
	}
	dir := l.userDir(userID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating user directory: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, filename))
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("writing file: %w", err)
	}
	return f.Close()
}

// Remove deletes a user's file. Missing files are reported via os.IsNotExist.
func (l *Library) Remove(userID, filename string) error {
	return os.Remove(l.Path(userID, filename))
}

func (l *Library) userDir(userID string) string {
	return filepath.Join(l.root, userID)
}
