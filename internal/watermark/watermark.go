// Package watermark defines the hook the document proxy uses to personalize a
// PDF stream before it reaches the reader. The actual stamping engine is an
// external concern; this package only fixes the contract and provides the
// pass-through used when stamping is disabled.
package watermark

import (
	"context"
	"io"
)

// Decorator personalizes a document stream for a recipient. Implementations
// must not buffer the whole document unless the format forces them to.
type Decorator interface {
	// Apply returns a reader over the decorated document. email identifies
	// the recipient the copy is personalized for.
	Apply(ctx context.Context, doc io.Reader, email string) (io.Reader, error)
}

// Noop passes the document through untouched. Used when watermarking is
// disabled in configuration.
type Noop struct{}

func (Noop) Apply(_ context.Context, doc io.Reader, _ string) (io.Reader, error) {
	return doc, nil
}
