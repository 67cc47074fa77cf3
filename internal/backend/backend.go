// Package backend abstracts the durable targets that hold encrypted document
// payloads. Two implementations exist: the object store (primary) and a
// relational table (fallback). Each keeps the payload together with a
// snapshot of the document metadata; the metadata store remains authoritative
// for which backend holds a given document.
package backend

import (
	"context"
	"errors"
	"regexp"

	"certvault/internal/store"
)

var ErrNotFound = errors.New("payload not found")
var ErrInvalidID = errors.New("invalid file id")

// validIDPattern matches only hex identifiers (no path or key traversal possible)
var validIDPattern = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

func validateID(id string) error {
	if id == "" || len(id) > 64 || !validIDPattern.MatchString(id) {
		return ErrInvalidID
	}
	return nil
}

// Backend defines the interface for encrypted payload storage.
type Backend interface {
	// Kind reports which backend this is, recorded in document metadata so
	// later reads and deletes target the right place without probing.
	Kind() store.BackendKind
	Put(ctx context.Context, fileID string, payload []byte, doc *store.Document) error
	Get(ctx context.Context, fileID string) ([]byte, *store.Document, error)
	Delete(ctx context.Context, fileID string) error
	// List enumerates stored documents for administrative listing and
	// cleanup. It is not used on hot paths.
	List(ctx context.Context) ([]*store.Document, error)
}
