package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("not found")

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	if err := migrate(db); err != nil {
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			file_id TEXT PRIMARY KEY,
			original_name TEXT NOT NULL,
			mime_type TEXT NOT NULL,
			size_bytes INTEGER NOT NULL,
			owner_reference TEXT NOT NULL,
			uploaded_by TEXT NOT NULL,
			uploaded_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL,
			encryption_iv BLOB NOT NULL,
			backend_kind TEXT NOT NULL,
			download_count INTEGER NOT NULL DEFAULT 0,
			last_download_at DATETIME
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_documents_expires_at ON documents (expires_at)`)
	return err
}

// DB exposes the underlying handle so the relational payload backend can
// share the same database file.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) SaveDocument(ctx context.Context, doc *Document) error {
	var lastDownload interface{}
	if !doc.LastDownloadAt.IsZero() {
		lastDownload = doc.LastDownloadAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (file_id, original_name, mime_type, size_bytes, owner_reference,
			uploaded_by, uploaded_at, expires_at, encryption_iv, backend_kind, download_count, last_download_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.FileID, doc.OriginalName, doc.MimeType, doc.SizeBytes, doc.OwnerReference,
		doc.UploadedBy, doc.UploadedAt, doc.ExpiresAt, doc.EncryptionIV, string(doc.Backend),
		doc.DownloadCount, lastDownload)
	return err
}

const documentColumns = `file_id, original_name, mime_type, size_bytes, owner_reference,
	uploaded_by, uploaded_at, expires_at, encryption_iv, backend_kind, download_count, last_download_at`

func scanDocument(row interface{ Scan(...interface{}) error }) (*Document, error) {
	var doc Document
	var kind string
	var lastDownload sql.NullTime
	err := row.Scan(&doc.FileID, &doc.OriginalName, &doc.MimeType, &doc.SizeBytes, &doc.OwnerReference,
		&doc.UploadedBy, &doc.UploadedAt, &doc.ExpiresAt, &doc.EncryptionIV, &kind,
		&doc.DownloadCount, &lastDownload)
	if err != nil {
		return nil, err
	}
	doc.Backend = BackendKind(kind)
	if lastDownload.Valid {
		doc.LastDownloadAt = lastDownload.Time
	}
	return &doc, nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, fileID string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents WHERE file_id = ?
	`, fileID)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, fileID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE file_id = ?`, fileID)
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
	return nil
}

func (s *SQLiteStore) queryDocuments(ctx context.Context, query string, args ...interface{}) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]*Document, error) {
	return s.queryDocuments(ctx, `
		SELECT `+documentColumns+`
		FROM documents ORDER BY uploaded_at
	`)
}

func (s *SQLiteStore) ListExpired(ctx context.Context, now time.Time) ([]*Document, error) {
	return s.queryDocuments(ctx, `
		SELECT `+documentColumns+`
		FROM documents WHERE expires_at < ?
	`, now)
}

// RecordDownload bumps the download counter and stamps the access time.
func (s *SQLiteStore) RecordDownload(ctx context.Context, fileID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET download_count = download_count + 1, last_download_at = ?
		WHERE file_id = ?
	`, at, fileID)
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
	return nil
}

// ActiveBytes sums the plaintext sizes of all non-expired documents. The
// quota ledger reads this aggregate instead of keeping an in-memory counter
// so usage survives process restarts.
func (s *SQLiteStore) ActiveBytes(ctx context.Context, now time.Time) (int64, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(size_bytes), 0) FROM documents WHERE expires_at > ?
	`, now)

	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	// Bind the cutoff as a Go time so expiry classification compares in the
	// same text form the driver stores, regardless of process timezone.
	now := time.Now()
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) as total,
			COALESCE(SUM(CASE WHEN expires_at > ? THEN 1 ELSE 0 END), 0) as active_count,
			COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0) as expired_count,
			COALESCE(SUM(size_bytes), 0) as total_bytes,
			COALESCE(SUM(CASE WHEN expires_at > ? THEN size_bytes ELSE 0 END), 0) as active_bytes,
			COALESCE(SUM(download_count), 0) as total_downloads,
			COALESCE(MIN(uploaded_at), '') as oldest,
			COALESCE(MAX(uploaded_at), '') as newest
		FROM documents
	`, now, now, now)

	var oldest, newest string
	err := row.Scan(
		&stats.TotalDocuments,
		&stats.ActiveDocuments,
		&stats.ExpiredDocuments,
		&stats.TotalBytes,
		&stats.ActiveBytes,
		&stats.TotalDownloads,
		&oldest,
		&newest,
	)
	if err != nil {
		return nil, err
	}

	stats.OldestUpload = parseTimestamp(oldest)
	stats.NewestUpload = parseTimestamp(newest)

	return stats, nil
}

// parseTimestamp decodes the text forms the sqlite driver writes for
// DATETIME columns; fractional seconds are optional.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{"2006-01-02 15:04:05.999999999-07:00", time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
