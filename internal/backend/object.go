package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"certvault/internal/logging"
	"certvault/internal/store"
)

// ObjectClient is the subset of the minio client used by ObjectBackend,
// abstracted so tests can substitute a mock.
type ObjectClient interface {
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucket, key string, opts minio.GetObjectOptions) (ObjectReader, error)
	StatObject(ctx context.Context, bucket, key string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	RemoveObject(ctx context.Context, bucket, key string, opts minio.RemoveObjectOptions) error
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

// ObjectReader is a readable stored object.
type ObjectReader interface {
	io.ReadCloser
	Stat() (minio.ObjectInfo, error)
}

// minioClient adapts *minio.Client to ObjectClient.
type minioClient struct {
	c *minio.Client
}

func (m *minioClient) PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return m.c.PutObject(ctx, bucket, key, reader, size, opts)
}

func (m *minioClient) GetObject(ctx context.Context, bucket, key string, opts minio.GetObjectOptions) (ObjectReader, error) {
	return m.c.GetObject(ctx, bucket, key, opts)
}

func (m *minioClient) StatObject(ctx context.Context, bucket, key string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	return m.c.StatObject(ctx, bucket, key, opts)
}

func (m *minioClient) RemoveObject(ctx context.Context, bucket, key string, opts minio.RemoveObjectOptions) error {
	return m.c.RemoveObject(ctx, bucket, key, opts)
}

func (m *minioClient) ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	return m.c.ListObjects(ctx, bucket, opts)
}

// envelope is the single opaque record written per document: the metadata
// snapshot plus the encrypted payload (base64 in JSON).
type envelope struct {
	Document *store.Document `json:"document"`
	Payload  []byte          `json:"payload"`
}

// ObjectBackend stores envelopes in an S3-compatible object store.
type ObjectBackend struct {
	client ObjectClient
	bucket string
	prefix string
}

// ObjectConfig holds connection settings for the object store.
type ObjectConfig struct {
	Endpoint string
	KeyID    string
	Secret   string
	Bucket   string
	Prefix   string // optional folder prefix for all objects
	UseSSL   bool
}

// NewObjectBackend creates an object-store backend.
func NewObjectBackend(cfg ObjectConfig) (*ObjectBackend, error) {
	logging.Object.Printf("initializing backend (bucket=%s, prefix=%s, endpoint=%s)", cfg.Bucket, cfg.Prefix, cfg.Endpoint)

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.KeyID, cfg.Secret, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		logging.Object.Printf("failed to create client: %v", err)
		return nil, err
	}

	return NewObjectBackendWithClient(&minioClient{c: client}, cfg.Bucket, cfg.Prefix), nil
}

// NewObjectBackendWithClient creates a backend over an existing client.
func NewObjectBackendWithClient(client ObjectClient, bucket, prefix string) *ObjectBackend {
	return &ObjectBackend{client: client, bucket: bucket, prefix: prefix}
}

func (b *ObjectBackend) Kind() store.BackendKind {
	return store.BackendObjectStore
}

func (b *ObjectBackend) key(id string) string {
	if b.prefix == "" {
		return id
	}
	return path.Join(b.prefix, id)
}

func (b *ObjectBackend) Put(ctx context.Context, fileID string, payload []byte, doc *store.Document) error {
	if err := validateID(fileID); err != nil {
		return err
	}
	key := b.key(fileID)

	data, err := json.Marshal(envelope{Document: doc, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	logging.Object.Printf("uploading document %s to bucket %s (%d bytes)", key, b.bucket, len(data))
	_, err = b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		logging.Object.Printf("upload failed for %s: %v", key, err)
		return err
	}

	logging.Object.Printf("uploaded %s successfully", key)
	return nil
}

func (b *ObjectBackend) Get(ctx context.Context, fileID string) ([]byte, *store.Document, error) {
	if err := validateID(fileID); err != nil {
		return nil, nil, err
	}
	key := b.key(fileID)
	logging.Object.Printf("loading document %s from bucket %s", key, b.bucket)

	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		logging.Object.Printf("failed to get object %s: %v", key, err)
		return nil, nil, err
	}
	defer obj.Close()

	// Check if object exists by attempting to stat it
	if _, err := obj.Stat(); err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" {
			logging.Object.Printf("document %s not found", key)
			return nil, nil, ErrNotFound
		}
		logging.Object.Printf("failed to stat object %s: %v", key, err)
		return nil, nil, err
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, nil, err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("decode envelope for %s: %w", key, err)
	}

	logging.Object.Printf("loaded %s successfully (%d bytes)", key, len(env.Payload))
	return env.Payload, env.Document, nil
}

func (b *ObjectBackend) Delete(ctx context.Context, fileID string) error {
	if err := validateID(fileID); err != nil {
		return err
	}
	key := b.key(fileID)
	logging.Object.Printf("deleting document %s from bucket %s", key, b.bucket)

	// RemoveObject succeeds on missing keys, so stat first to keep delete
	// of an unknown id reporting ErrNotFound.
	if _, err := b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{}); err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" {
			logging.Object.Printf("document %s not found for deletion", key)
			return ErrNotFound
		}
		return err
	}

	if err := b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		logging.Object.Printf("failed to delete %s: %v", key, err)
		return err
	}

	logging.Object.Printf("deleted %s successfully", key)
	return nil
}

func (b *ObjectBackend) List(ctx context.Context) ([]*store.Document, error) {
	var docs []*store.Document
	for info := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{Prefix: b.prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, info.Err
		}

		id := path.Base(info.Key)
		_, doc, err := b.Get(ctx, id)
		if err != nil {
			logging.Object.Printf("skipping unreadable object %s: %v", info.Key, err)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
