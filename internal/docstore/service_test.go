package docstore

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"certvault/internal/backend"
	"certvault/internal/crypto"
	"certvault/internal/quota"
	"certvault/internal/store"
)

// mockBackend implements backend.Backend for testing.
type mockBackend struct {
	kind     store.BackendKind
	payloads map[string][]byte
	putErr   error
	getErr   error
}

func newMockBackend(kind store.BackendKind) *mockBackend {
	return &mockBackend{kind: kind, payloads: map[string][]byte{}}
}

func (m *mockBackend) Kind() store.BackendKind { return m.kind }

func (m *mockBackend) Put(ctx context.Context, fileID string, payload []byte, doc *store.Document) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.payloads[fileID] = payload
	return nil
}

func (m *mockBackend) Get(ctx context.Context, fileID string) ([]byte, *store.Document, error) {
	if m.getErr != nil {
		return nil, nil, m.getErr
	}
	p, ok := m.payloads[fileID]
	if !ok {
		return nil, nil, backend.ErrNotFound
	}
	return p, nil, nil
}

func (m *mockBackend) Delete(ctx context.Context, fileID string) error {
	if _, ok := m.payloads[fileID]; !ok {
		return backend.ErrNotFound
	}
	delete(m.payloads, fileID)
	return nil
}

func (m *mockBackend) List(ctx context.Context) ([]*store.Document, error) {
	return nil, nil
}

// mockStore implements store.Store for testing.
type mockStore struct {
	docs    map[string]*store.Document
	saveErr error
}

func newMockStore() *mockStore {
	return &mockStore{docs: map[string]*store.Document{}}
}

func (m *mockStore) SaveDocument(ctx context.Context, doc *store.Document) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	copied := *doc
	m.docs[doc.FileID] = &copied
	return nil
}

func (m *mockStore) GetDocument(ctx context.Context, fileID string) (*store.Document, error) {
	doc, ok := m.docs[fileID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *doc
	return &copied, nil
}

func (m *mockStore) DeleteDocument(ctx context.Context, fileID string) error {
	if _, ok := m.docs[fileID]; !ok {
		return store.ErrNotFound
	}
	delete(m.docs, fileID)
	return nil
}

func (m *mockStore) ListDocuments(ctx context.Context) ([]*store.Document, error) {
	var docs []*store.Document
	for _, doc := range m.docs {
		docs = append(docs, doc)
	}
	return docs, nil
}

func (m *mockStore) ListExpired(ctx context.Context, now time.Time) ([]*store.Document, error) {
	var expired []*store.Document
	for _, doc := range m.docs {
		if doc.ExpiresAt.Before(now) {
			expired = append(expired, doc)
		}
	}
	return expired, nil
}

func (m *mockStore) RecordDownload(ctx context.Context, fileID string, at time.Time) error {
	doc, ok := m.docs[fileID]
	if !ok {
		return store.ErrNotFound
	}
	doc.DownloadCount++
	doc.LastDownloadAt = at
	return nil
}

func (m *mockStore) ActiveBytes(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	for _, doc := range m.docs {
		if doc.ExpiresAt.After(now) {
			total += doc.SizeBytes
		}
	}
	return total, nil
}

func (m *mockStore) GetStats(ctx context.Context) (*store.Stats, error) {
	return &store.Stats{}, nil
}

func (m *mockStore) Close() error { return nil }

type fixture struct {
	svc        *Service
	object     *mockBackend
	relational *mockBackend
	store      *mockStore
}

func newFixture(t *testing.T, capacity int64) *fixture {
	t.Helper()

	engine, err := crypto.NewEngine(bytes.Repeat([]byte{0x11}, crypto.KeySize))
	require.NoError(t, err)

	object := newMockBackend(store.BackendObjectStore)
	relational := newMockBackend(store.BackendRelational)
	st := newMockStore()

	svc := NewService(engine, object, relational, st, quota.NewLedger(st, capacity), Options{
		MaxFileSizeBytes: 1 << 20,
		AllowedMimeTypes: []string{"application/pdf", "image/jpeg", "image/png"},
		RetentionPeriod:  7 * 365 * 24 * time.Hour,
	})

	return &fixture{svc: svc, object: object, relational: relational, store: st}
}

func pdfRequest(content []byte) *StoreRequest {
	return &StoreRequest{
		Content:        content,
		OriginalName:   "cert.pdf",
		MimeType:       "application/pdf",
		OwnerReference: "req-123",
		UploadedBy:     "alice@example.com",
	}
}

func TestStoreAndRetrieve(t *testing.T) {
	f := newFixture(t, 1<<30)
	ctx := context.Background()

	content := []byte("%PDF-1.4 medical certificate")
	id, level, err := f.svc.Store(ctx, pdfRequest(content))
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Equal(t, quota.LevelOK, level)

	// Plaintext never reaches a backend.
	require.NotEqual(t, content, f.object.payloads[id])

	got, doc, err := f.svc.Retrieve(ctx, id, "hr@example.com")
	require.NoError(t, err)
	require.Equal(t, content, got)

	require.Equal(t, "cert.pdf", doc.OriginalName)
	require.Equal(t, "application/pdf", doc.MimeType)
	require.Equal(t, int64(len(content)), doc.SizeBytes)
	require.Equal(t, "req-123", doc.OwnerReference)
	require.Equal(t, "alice@example.com", doc.UploadedBy)
	require.Equal(t, store.BackendObjectStore, doc.Backend)
	require.Equal(t, int64(1), doc.DownloadCount)
	require.False(t, doc.LastDownloadAt.IsZero())

	_, doc, err = f.svc.Retrieve(ctx, id, "hr@example.com")
	require.NoError(t, err)
	require.Equal(t, int64(2), doc.DownloadCount)
}

func TestStoreValidation(t *testing.T) {
	f := newFixture(t, 1<<30)
	ctx := context.Background()

	t.Run("disallowed mime type", func(t *testing.T) {
		req := pdfRequest([]byte("x"))
		req.MimeType = "application/x-msdownload"
		_, _, err := f.svc.Store(ctx, req)
		require.ErrorIs(t, err, ErrInvalidType)
	})

	t.Run("file too large", func(t *testing.T) {
		_, _, err := f.svc.Store(ctx, pdfRequest(make([]byte, (1<<20)+1)))
		require.ErrorIs(t, err, ErrFileTooLarge)
	})

	t.Run("missing owner reference", func(t *testing.T) {
		req := pdfRequest([]byte("x"))
		req.OwnerReference = ""
		_, _, err := f.svc.Store(ctx, req)
		require.Error(t, err)
	})

	// Nothing was persisted by any rejected request.
	require.Empty(t, f.object.payloads)
	require.Empty(t, f.relational.payloads)
	require.Empty(t, f.store.docs)
}

func TestStoreQuota(t *testing.T) {
	// 100-byte capacity with 98 bytes already used: a 2-byte upload fills
	// the quota exactly, the next byte is rejected.
	f := newFixture(t, 100)
	ctx := context.Background()

	f.store.docs["existing"] = &store.Document{
		FileID:    "existing",
		SizeBytes: 98,
		ExpiresAt: time.Now().Add(time.Hour),
	}

	id, level, err := f.svc.Store(ctx, pdfRequest([]byte("ab")))
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Equal(t, quota.LevelCritical, level)

	_, level, err = f.svc.Store(ctx, pdfRequest([]byte("c")))
	require.ErrorIs(t, err, ErrQuotaExceeded)
	require.Equal(t, quota.LevelFull, level)

	usage, err := f.store.ActiveBytes(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(100), usage)
}

func TestStoreReportsQuotaLevel(t *testing.T) {
	// Warning and critical usage levels come back alongside the file id so
	// callers can alert, while the upload itself still succeeds.
	tests := []struct {
		name  string
		size  int
		level quota.Level
	}{
		{"below warning", 10, quota.LevelOK},
		{"at warning", 85, quota.LevelWarning},
		{"at critical", 96, quota.LevelCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 100)
			id, level, err := f.svc.Store(context.Background(), pdfRequest(make([]byte, tt.size)))
			require.NoError(t, err)
			require.NotEmpty(t, id)
			require.Equal(t, tt.level, level)
		})
	}
}

func TestStoreFailover(t *testing.T) {
	f := newFixture(t, 1<<30)
	ctx := context.Background()

	f.object.putErr = errors.New("bucket unreachable")

	content := []byte("fallback content")
	id, _, err := f.svc.Store(ctx, pdfRequest(content))
	require.NoError(t, err)

	doc, err := f.store.GetDocument(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.BackendRelational, doc.Backend)
	require.Contains(t, f.relational.payloads, id)
	require.NotContains(t, f.object.payloads, id)

	got, _, err := f.svc.Retrieve(ctx, id, "hr@example.com")
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestStoreBothBackendsFail(t *testing.T) {
	f := newFixture(t, 1<<30)
	ctx := context.Background()

	f.object.putErr = errors.New("bucket unreachable")
	f.relational.putErr = errors.New("table locked")

	_, _, err := f.svc.Store(ctx, pdfRequest([]byte("content")))
	require.ErrorIs(t, err, ErrStorageUnavailable)
	require.Empty(t, f.store.docs, "no metadata may survive a failed store")
}

func TestStoreWithoutObjectBackend(t *testing.T) {
	f := newFixture(t, 1<<30)
	f.svc.object = nil
	ctx := context.Background()

	id, _, err := f.svc.Store(ctx, pdfRequest([]byte("content")))
	require.NoError(t, err)

	doc, err := f.store.GetDocument(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.BackendRelational, doc.Backend)
}

func TestStoreMetadataFailureCleansPayload(t *testing.T) {
	f := newFixture(t, 1<<30)
	ctx := context.Background()

	f.store.saveErr = errors.New("insert failed")

	_, _, err := f.svc.Store(ctx, pdfRequest([]byte("content")))
	require.Error(t, err)
	require.Empty(t, f.object.payloads, "payload must be rolled back when metadata save fails")
}

func TestRetrieveExpired(t *testing.T) {
	f := newFixture(t, 1<<30)
	ctx := context.Background()

	id, _, err := f.svc.Store(ctx, pdfRequest([]byte("content")))
	require.NoError(t, err)

	// Push the document past its retention window.
	f.store.docs[id].ExpiresAt = time.Now().Add(-24 * time.Hour)

	_, _, err = f.svc.Retrieve(ctx, id, "hr@example.com")
	require.ErrorIs(t, err, ErrExpired)

	// The failed access purged payload and metadata.
	require.NotContains(t, f.object.payloads, id)
	docs, err := f.svc.List(ctx)
	require.NoError(t, err)
	require.Empty(t, docs)

	_, _, err = f.svc.Retrieve(ctx, id, "hr@example.com")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRetrieveNotFound(t *testing.T) {
	f := newFixture(t, 1<<30)
	_, _, err := f.svc.Retrieve(context.Background(), "nonexistent", "hr@example.com")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRetrieveTamperedPayload(t *testing.T) {
	f := newFixture(t, 1<<30)
	ctx := context.Background()

	id, _, err := f.svc.Store(ctx, pdfRequest([]byte("content")))
	require.NoError(t, err)

	f.object.payloads[id][0] ^= 0x01

	_, _, err = f.svc.Retrieve(ctx, id, "hr@example.com")
	require.ErrorIs(t, err, crypto.ErrDecryptFailed)
}

func TestRetrieveBackendError(t *testing.T) {
	f := newFixture(t, 1<<30)
	ctx := context.Background()

	id, _, err := f.svc.Store(ctx, pdfRequest([]byte("content")))
	require.NoError(t, err)

	f.object.getErr = errors.New("bucket unreachable")

	// Reads target the recorded backend only; its failure surfaces
	// directly with no fallback.
	_, _, err = f.svc.Retrieve(ctx, id, "hr@example.com")
	require.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestDeleteIdempotent(t *testing.T) {
	f := newFixture(t, 1<<30)
	ctx := context.Background()

	id, _, err := f.svc.Store(ctx, pdfRequest([]byte("content")))
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, id, "admin@example.com"))
	require.NotContains(t, f.object.payloads, id)
	require.Empty(t, f.store.docs)

	require.ErrorIs(t, f.svc.Delete(ctx, id, "admin@example.com"), ErrNotFound)
	require.ErrorIs(t, f.svc.Delete(ctx, "neverexisted", "admin@example.com"), ErrNotFound)
}

func TestSweep(t *testing.T) {
	f := newFixture(t, 1<<30)
	ctx := context.Background()

	id1, _, err := f.svc.Store(ctx, pdfRequest([]byte("one")))
	require.NoError(t, err)
	id2, _, err := f.svc.Store(ctx, pdfRequest([]byte("two")))
	require.NoError(t, err)
	f.store.docs[id1].ExpiresAt = time.Now().Add(-time.Hour)

	count, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	require.NotContains(t, f.store.docs, id1)
	require.Contains(t, f.store.docs, id2)
}
