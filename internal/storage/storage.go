package storage

import (
	"io"
)

// Stored describes a file persisted by a Storage.
type Stored struct {
	Name   string // final file name, after sanitizing and collision renaming
	Path   string
	Size   int64
	Digest string // hex BLAKE2b-256 of the content
}

// Storage defines the interface for persisting received files.
type Storage interface {
	// Put writes the content of r under a safe version of name and never
	// replaces an existing file.
	Put(name string, r io.Reader) (Stored, error)
	// Dir returns the directory files are written to.
	Dir() string
}
