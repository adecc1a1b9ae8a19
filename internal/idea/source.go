// Package idea abstracts the external, read-only idea retrieval the
// dispatcher consults when a processor declares it needs the idea body.
// The core caches nothing.
package idea

import (
	"context"

	pqerrors "github.com/Nomoos/PrismQ-sub002/internal/errors"
)

// Source is a read-only key-value retrieval of idea bodies.
type Source interface {
	// GetIdea returns the idea body for an opaque reference, or a
	// not_found error when the reference is unknown.
	GetIdea(ctx context.Context, ideaRef string) (string, error)
}

// NotFound constructs the canonical missing-idea error.
func NotFound(ideaRef string) error {
	return pqerrors.Newf(pqerrors.KindNotFound, "idea %q not found", ideaRef)
}

// IsNotFound reports whether err is a missing-idea error.
func IsNotFound(err error) bool {
	return pqerrors.IsKind(err, pqerrors.KindNotFound)
}
