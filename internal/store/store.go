package store

import (
	"context"
	"time"
)

// BackendKind identifies which storage backend holds a document's encrypted
// payload.
type BackendKind string

const (
	BackendObjectStore BackendKind = "object-store"
	BackendRelational  BackendKind = "relational"
)

// Document is the metadata record for one stored attachment. SizeBytes is
// the plaintext size as submitted by the uploader, not the encrypted size;
// quota accounting runs on it. EncryptionIV is required to decrypt the
// payload, so losing this record makes the document unrecoverable even if
// the encrypted bytes remain.
type Document struct {
	FileID         string      `json:"file_id"`
	OriginalName   string      `json:"original_name"`
	MimeType       string      `json:"mime_type"`
	SizeBytes      int64       `json:"size_bytes"`
	OwnerReference string      `json:"owner_reference"`
	UploadedBy     string      `json:"uploaded_by"`
	UploadedAt     time.Time   `json:"uploaded_at"`
	ExpiresAt      time.Time   `json:"expires_at"`
	EncryptionIV   []byte      `json:"encryption_iv"`
	Backend        BackendKind `json:"backend_kind"`
	DownloadCount  int64       `json:"download_count"`
	LastDownloadAt time.Time   `json:"last_download_at,omitempty"`
}

// Stats contains aggregate statistics about stored documents.
type Stats struct {
	TotalDocuments   int
	ActiveDocuments  int
	ExpiredDocuments int
	TotalBytes       int64
	ActiveBytes      int64
	TotalDownloads   int64
	OldestUpload     time.Time
	NewestUpload     time.Time
}

// Store defines the interface for metadata persistence.
type Store interface {
	SaveDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, fileID string) (*Document, error)
	DeleteDocument(ctx context.Context, fileID string) error
	ListDocuments(ctx context.Context) ([]*Document, error)
	ListExpired(ctx context.Context, now time.Time) ([]*Document, error)
	RecordDownload(ctx context.Context, fileID string, at time.Time) error
	ActiveBytes(ctx context.Context, now time.Time) (int64, error)
	GetStats(ctx context.Context) (*Stats, error)
	Close() error
}
