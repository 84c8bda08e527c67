package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/alnah/go-mmd2svg"
	"github.com/alnah/go-mmd2svg/internal/fileutil"
)

// Sentinel errors for document I/O.
var (
	ErrReadDocument  = errors.New("failed to read document")
	ErrWriteDocument = errors.New("failed to write document")
)

// defaultDocumentPerm is used when the document's mode cannot be read.
const defaultDocumentPerm fs.FileMode = 0o644

// readDocument loads the document at path.
func readDocument(path string) (mmd2svg.Document, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is user-provided
	if err != nil {
		return mmd2svg.Document{}, fmt.Errorf("%w: %w", ErrReadDocument, err)
	}
	return mmd2svg.Document{Path: path, Text: string(data)}, nil
}

// writeDocument replaces the document at path atomically, keeping its mode.
func writeDocument(path, text string) error {
	perm := defaultDocumentPerm
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}
	if err := fileutil.WriteFileAtomic(path, []byte(text), perm); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteDocument, err)
	}
	return nil
}
