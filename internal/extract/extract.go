// Package extract produces plain text from study files. Structured formats
// are parsed locally; images and stubborn PDFs go through the remote vision
// OCR client.
package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Vision is the remote OCR capability (upload, poll, transcribe, cleanup).
// Implemented by gemini.Client.
type Vision interface {
	ExtractFile(ctx context.Context, path string) (string, error)
}

// Extractor routes a file to the right parser by extension.
type Extractor struct {
	vision Vision
}

// New creates an Extractor. vision may be nil, in which case image OCR and
// forced extraction fail with an explicit error.
func New(vision Vision) *Extractor {
	return &Extractor{vision: vision}
}

// Extract runs the cheap extraction path for the file type.
func (e *Extractor) Extract(ctx context.Context, path string) (string, error) {
	switch ext(path) {
	case ".pdf":
		return extractPDF(path)
	case ".txt", ".md":
		return extractText(path)
	case ".html":
		return extractHTML(path)
	case ".pptx":
		return extractPPTX(path)
	case ".xlsx":
		return extractXLSX(path)
	case ".png", ".jpg", ".jpeg":
		return e.ocr(ctx, path)
	default:
		return "", fmt.Errorf("unsupported file type %q", filepath.Base(path))
	}
}

// ExtractForced runs the heavy extraction variant where one exists (remote
// OCR for PDFs and images) and falls back to the cheap path otherwise.
func (e *Extractor) ExtractForced(ctx context.Context, path string) (string, error) {
	if HasForced(path) {
		return e.ocr(ctx, path)
	}
	return e.Extract(ctx, path)
}

// HasForced reports whether the file type has a heavier extraction variant
// than the cheap path.
func HasForced(path string) bool {
	switch ext(path) {
	case ".pdf", ".png", ".jpg", ".jpeg":
		return true
	}
	return false
}

func (e *Extractor) ocr(ctx context.Context, path string) (string, error) {
	if e.vision == nil {
		return "", fmt.Errorf("no vision client configured for %q", filepath.Base(path))
	}
	return e.vision.ExtractFile(ctx, path)
}

func ext(path string) string {
	return strings.ToLower(filepath.Ext(path))
}
