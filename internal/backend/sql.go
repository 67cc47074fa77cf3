package backend

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/mattn/go-sqlite3"

	"certvault/internal/logging"
	"certvault/internal/store"
)

// SQLBackend stores encrypted payloads as BLOB rows with metadata in sibling
// columns. It is the durable fallback used when the object store is
// unconfigured or failing; it shares the database file with the metadata
// store but owns its own table.
type SQLBackend struct {
	db *sql.DB
}

// NewSQLBackend creates a relational payload backend on an open database.
func NewSQLBackend(db *sql.DB) (*SQLBackend, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS payloads (
			file_id TEXT PRIMARY KEY,
			payload BLOB NOT NULL,
			original_name TEXT NOT NULL,
			mime_type TEXT NOT NULL,
			size_bytes INTEGER NOT NULL,
			owner_reference TEXT NOT NULL,
			uploaded_by TEXT NOT NULL,
			uploaded_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL,
			encryption_iv BLOB NOT NULL
		)
	`)
	if err != nil {
		return nil, err
	}
	return &SQLBackend{db: db}, nil
}

func (b *SQLBackend) Kind() store.BackendKind {
	return store.BackendRelational
}

func (b *SQLBackend) Put(ctx context.Context, fileID string, payload []byte, doc *store.Document) error {
	if err := validateID(fileID); err != nil {
		return err
	}

	_, err := b.db.ExecContext(ctx, `
		INSERT INTO payloads (file_id, payload, original_name, mime_type, size_bytes,
			owner_reference, uploaded_by, uploaded_at, expires_at, encryption_iv)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, fileID, payload, doc.OriginalName, doc.MimeType, doc.SizeBytes,
		doc.OwnerReference, doc.UploadedBy, doc.UploadedAt, doc.ExpiresAt, doc.EncryptionIV)
	if err != nil {
		logging.SQL.Printf("failed to store payload %s: %v", fileID, err)
		return err
	}

	logging.SQL.Printf("stored payload %s (%d bytes)", fileID, len(payload))
	return nil
}

func (b *SQLBackend) Get(ctx context.Context, fileID string) ([]byte, *store.Document, error) {
	if err := validateID(fileID); err != nil {
		return nil, nil, err
	}

	row := b.db.QueryRowContext(ctx, `
		SELECT payload, original_name, mime_type, size_bytes, owner_reference,
			uploaded_by, uploaded_at, expires_at, encryption_iv
		FROM payloads WHERE file_id = ?
	`, fileID)

	var payload []byte
	doc := &store.Document{FileID: fileID, Backend: store.BackendRelational}
	err := row.Scan(&payload, &doc.OriginalName, &doc.MimeType, &doc.SizeBytes, &doc.OwnerReference,
		&doc.UploadedBy, &doc.UploadedAt, &doc.ExpiresAt, &doc.EncryptionIV)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return payload, doc, nil
}

func (b *SQLBackend) Delete(ctx context.Context, fileID string) error {
	if err := validateID(fileID); err != nil {
		return err
	}

	result, err := b.db.ExecContext(ctx, `DELETE FROM payloads WHERE file_id = ?`, fileID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	logging.SQL.Printf("deleted payload %s", fileID)
	return nil
}

func (b *SQLBackend) List(ctx context.Context) ([]*store.Document, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT file_id, original_name, mime_type, size_bytes, owner_reference,
			uploaded_by, uploaded_at, expires_at, encryption_iv
		FROM payloads ORDER BY uploaded_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*store.Document
	for rows.Next() {
		doc := &store.Document{Backend: store.BackendRelational}
		if err := rows.Scan(&doc.FileID, &doc.OriginalName, &doc.MimeType, &doc.SizeBytes, &doc.OwnerReference,
			&doc.UploadedBy, &doc.UploadedAt, &doc.ExpiresAt, &doc.EncryptionIV); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
