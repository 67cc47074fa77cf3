// Package retention enforces the fixed retention period on stored documents.
// Expired documents are purged lazily on access and proactively by Sweep.
package retention

import (
	"context"
	"errors"
	"time"

	"certvault/internal/backend"
	"certvault/internal/logging"
	"certvault/internal/store"
)

// BackendResolver returns the backend recorded as holding a document's
// payload.
type BackendResolver interface {
	BackendFor(kind store.BackendKind) (backend.Backend, error)
}

// Expired reports whether doc is past its expiry at the given instant.
func Expired(doc *store.Document, now time.Time) bool {
	return now.After(doc.ExpiresAt)
}

// Manager purges expired documents from their backend and the metadata
// store.
type Manager struct {
	store    store.Store
	backends BackendResolver
	now      func() time.Time
}

// NewManager creates a retention manager.
func NewManager(st store.Store, backends BackendResolver) *Manager {
	return &Manager{store: st, backends: backends, now: time.Now}
}

// IsExpired reports whether doc is past its expiry.
func (m *Manager) IsExpired(doc *store.Document) bool {
	return Expired(doc, m.now())
}

// Purge removes a document's payload and metadata. A payload already absent
// from its backend is not an error; the metadata row is removed regardless.
func (m *Manager) Purge(ctx context.Context, doc *store.Document) error {
	b, err := m.backends.BackendFor(doc.Backend)
	if err != nil {
		return err
	}
	if err := b.Delete(ctx, doc.FileID); err != nil && !errors.Is(err, backend.ErrNotFound) {
		return err
	}
	return m.store.DeleteDocument(ctx, doc.FileID)
}

// Sweep purges every expired document and returns the number removed. It
// continues past individual failures so one bad document cannot stall
// reclamation, but logs them to surface infrastructure issues.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	expired, err := m.store.ListExpired(ctx, m.now())
	if err != nil {
		return 0, err
	}

	count := 0
	failures := 0
	for _, doc := range expired {
		if err := m.Purge(ctx, doc); err != nil {
			failures++
			logging.Internal.Printf("failed to purge expired document %s: %v", doc.FileID, err)
			continue
		}
		count++
	}

	if failures > 0 {
		logging.Internal.Printf("sweep completed with %d failures (%d purged)", failures, count)
	}
	return count, nil
}
