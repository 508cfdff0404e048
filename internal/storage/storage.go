// Package storage defines the Backend interface for the document stores the
// proxy serves protected PDFs from.
//
// New backends are added by implementing the Backend interface and registering
// with the factory via an init() function in the backend's own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (Backend, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// The router imports each backend with a blank import to trigger init().
// Adding a backend therefore requires no changes to the factory, only a blank
// import in internal/api/router.go.
//
// Backends are read-only from the service's point of view: documents are
// placed into storage out of band (publishing pipeline, bucket sync) and the
// proxy only ever opens, stats, and streams them.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when the requested document does not exist in the
// backend. Handlers map it to 404 rather than 500.
var ErrNotFound = errors.New("storage: document not found")

// Backend is the read surface a document store must provide.
type Backend interface {
	// Open returns a reader over the document at path. The caller must close
	// the reader. Returns ErrNotFound (possibly wrapped) when the document
	// does not exist.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Exists reports whether a document is present at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Stat retrieves document metadata without reading the body.
	Stat(ctx context.Context, path string) (*DocumentInfo, error)
}

// DocumentInfo describes a stored document.
type DocumentInfo struct {
	// Path is the backend-relative path of the document.
	Path string

	// Size is the document size in bytes.
	Size int64

	// LastModified is when the document was last written.
	LastModified time.Time
}
