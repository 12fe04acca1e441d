// Package storage defines the document vault abstraction.
package storage

import "github.com/starford/inkwell/internal/models"

// Provider is the interface for vault file operations. Paths are relative
// to the vault root.
type Provider interface {
	// List returns metadata for every .md file under dir.
	List(dir string) ([]models.DocumentInfo, error)
	// Read returns the raw bytes of the file at path. A missing file yields
	// an error matching apperr.ErrNotFound.
	Read(path string) ([]byte, error)
	// Write atomically replaces the file at path.
	Write(path string, content []byte) error
	// Root returns the absolute vault directory.
	Root() string
}
