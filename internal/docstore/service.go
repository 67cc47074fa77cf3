// Package docstore is the facade over the secure document storage layer:
// it validates uploads, enforces the storage quota, encrypts content,
// selects between storage backends with failover, and applies retention on
// every read. Callers are trusted to have authenticated the requester.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"certvault/internal/backend"
	"certvault/internal/crypto"
	"certvault/internal/fileid"
	"certvault/internal/logging"
	"certvault/internal/quota"
	"certvault/internal/retention"
	"certvault/internal/store"
)

var (
	// ErrInvalidType means the declared MIME type is not on the allow-list.
	ErrInvalidType = errors.New("file type not allowed")
	// ErrFileTooLarge means the content exceeds the per-file size ceiling.
	ErrFileTooLarge = errors.New("file exceeds size limit")
	// ErrQuotaExceeded means storing the content would push aggregate usage
	// past capacity.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrStorageUnavailable means every eligible backend failed.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrNotFound means the document does not exist or was already purged.
	ErrNotFound = errors.New("document not found")
	// ErrExpired means the document was found but is past its retention
	// period; the access attempt triggers its purge.
	ErrExpired = errors.New("document has expired")
)

// Options carries the validation and retention settings for the service.
type Options struct {
	MaxFileSizeBytes int64
	AllowedMimeTypes []string
	RetentionPeriod  time.Duration
}

// Service orchestrates document storage. Object may be nil when no object
// store is configured; relational is always required as the durable
// fallback.
type Service struct {
	engine     *crypto.Engine
	object     backend.Backend
	relational backend.Backend
	store      store.Store
	ledger     *quota.Ledger
	retention  *retention.Manager

	maxFileSize     int64
	allowed         map[string]bool
	retentionPeriod time.Duration

	now func() time.Time
}

// NewService creates the orchestrator.
func NewService(engine *crypto.Engine, object, relational backend.Backend, st store.Store, ledger *quota.Ledger, opts Options) *Service {
	allowed := make(map[string]bool, len(opts.AllowedMimeTypes))
	for _, m := range opts.AllowedMimeTypes {
		allowed[m] = true
	}

	s := &Service{
		engine:          engine,
		object:          object,
		relational:      relational,
		store:           st,
		ledger:          ledger,
		maxFileSize:     opts.MaxFileSizeBytes,
		allowed:         allowed,
		retentionPeriod: opts.RetentionPeriod,
		now:             time.Now,
	}
	s.retention = retention.NewManager(st, s)
	return s
}

// BackendFor returns the backend recorded in a document's metadata.
func (s *Service) BackendFor(kind store.BackendKind) (backend.Backend, error) {
	switch kind {
	case store.BackendObjectStore:
		if s.object == nil {
			return nil, fmt.Errorf("object store backend not configured")
		}
		return s.object, nil
	case store.BackendRelational:
		return s.relational, nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", kind)
	}
}

// StoreRequest describes an upload.
type StoreRequest struct {
	Content        []byte
	OriginalName   string
	MimeType       string
	OwnerReference string
	UploadedBy     string
}

func (s *Service) validate(req *StoreRequest) error {
	if req.OriginalName == "" {
		return fmt.Errorf("original name is required")
	}
	if req.OwnerReference == "" {
		return fmt.Errorf("owner reference is required")
	}
	if req.UploadedBy == "" {
		return fmt.Errorf("uploader identity is required")
	}
	if !s.allowed[req.MimeType] {
		return fmt.Errorf("%w: %s", ErrInvalidType, req.MimeType)
	}
	if int64(len(req.Content)) > s.maxFileSize {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrFileTooLarge, len(req.Content), s.maxFileSize)
	}
	return nil
}

// Store validates, encrypts and persists a document, returning its new file
// id along with the quota level the upload lands at, so callers can alert on
// warning or critical usage without the upload failing. Validation and the
// quota check run before any encryption or I/O; no partial state is left
// behind on any failure path.
func (s *Service) Store(ctx context.Context, req *StoreRequest) (string, quota.Level, error) {
	if err := s.validate(req); err != nil {
		return "", quota.LevelOK, err
	}

	size := int64(len(req.Content))
	adm, err := s.ledger.Admit(ctx, size)
	if err != nil {
		return "", quota.LevelOK, fmt.Errorf("quota check: %w", err)
	}
	if !adm.Allowed {
		return "", adm.Level, fmt.Errorf("%w: %d bytes used of %d", ErrQuotaExceeded, adm.CurrentBytes, s.ledger.Capacity())
	}

	id, err := fileid.Generate(req.UploadedBy)
	if err != nil {
		return "", adm.Level, err
	}

	payload, iv, err := s.engine.Encrypt(req.Content)
	if err != nil {
		return "", adm.Level, fmt.Errorf("encrypt: %w", err)
	}

	now := s.now()
	doc := &store.Document{
		FileID:         id,
		OriginalName:   req.OriginalName,
		MimeType:       req.MimeType,
		SizeBytes:      size,
		OwnerReference: req.OwnerReference,
		UploadedBy:     req.UploadedBy,
		UploadedAt:     now,
		ExpiresAt:      now.Add(s.retentionPeriod),
		EncryptionIV:   iv,
	}

	winner, err := s.put(ctx, id, payload, doc)
	if err != nil {
		return "", adm.Level, err
	}

	if err := s.store.SaveDocument(ctx, doc); err != nil {
		// Roll back the stored payload so no orphan survives a metadata
		// failure.
		if delErr := winner.Delete(ctx, id); delErr != nil {
			logging.Internal.Printf("failed to clean up payload %s after metadata failure: %v", id, delErr)
		}
		return "", adm.Level, fmt.Errorf("save metadata: %w", err)
	}

	logging.Internal.Printf("stored document %s (%s, %d bytes) for %s via %s", id, req.MimeType, size, req.OwnerReference, doc.Backend)
	return id, adm.Level, nil
}

// put attempts the object store first and falls back wholly to the
// relational backend. The winning backend's kind is recorded on doc.
func (s *Service) put(ctx context.Context, id string, payload []byte, doc *store.Document) (backend.Backend, error) {
	var objectErr error
	if s.object != nil {
		doc.Backend = s.object.Kind()
		if objectErr = s.object.Put(ctx, id, payload, doc); objectErr == nil {
			return s.object, nil
		}
		logging.Internal.Printf("object store put failed for %s, falling back to relational: %v", id, objectErr)
	}

	doc.Backend = s.relational.Kind()
	if err := s.relational.Put(ctx, id, payload, doc); err != nil {
		if objectErr != nil {
			return nil, fmt.Errorf("%w: object store: %v; relational: %v", ErrStorageUnavailable, objectErr, err)
		}
		return nil, fmt.Errorf("%w: relational: %v", ErrStorageUnavailable, err)
	}
	return s.relational, nil
}

// Retrieve loads, decrypts and returns a document's content and metadata.
// An expired document is purged on the spot and reported as ErrExpired.
func (s *Service) Retrieve(ctx context.Context, fileID, requesterID string) ([]byte, *store.Document, error) {
	doc, err := s.store.GetDocument(ctx, fileID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	if s.retention.IsExpired(doc) {
		if err := s.retention.Purge(ctx, doc); err != nil {
			logging.Internal.Printf("failed to purge expired document %s: %v", fileID, err)
		}
		return nil, nil, ErrExpired
	}

	b, err := s.BackendFor(doc.Backend)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	payload, _, err := b.Get(ctx, fileID)
	if errors.Is(err, backend.ErrNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	content, err := s.engine.Decrypt(payload, doc.EncryptionIV)
	if err != nil {
		return nil, nil, err
	}

	// Download counters are audit trail, not correctness; a failed update
	// must not fail the read.
	at := s.now()
	if err := s.store.RecordDownload(ctx, fileID, at); err != nil {
		logging.Internal.Printf("failed to record download of %s: %v", fileID, err)
	} else {
		doc.DownloadCount++
		doc.LastDownloadAt = at
	}

	logging.Internal.Printf("document %s retrieved by %s", fileID, requesterID)
	return content, doc, nil
}

// Delete removes a document's payload and metadata. Deleting an unknown or
// already-deleted id returns ErrNotFound.
func (s *Service) Delete(ctx context.Context, fileID, requesterID string) error {
	doc, err := s.store.GetDocument(ctx, fileID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	b, err := s.BackendFor(doc.Backend)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if err := b.Delete(ctx, fileID); err != nil && !errors.Is(err, backend.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if err := s.store.DeleteDocument(ctx, fileID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}

	logging.Internal.Printf("document %s deleted by %s", fileID, requesterID)
	return nil
}

// List enumerates document metadata for administrative use. Content is
// never returned.
func (s *Service) List(ctx context.Context) ([]*store.Document, error) {
	return s.store.ListDocuments(ctx)
}

// Sweep purges all expired documents and returns the number removed.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	return s.retention.Sweep(ctx)
}
