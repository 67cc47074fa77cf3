package config

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the immutable startup configuration for the document store.
// All components receive their settings from here; nothing reads the
// environment directly after Load returns.
type Config struct {
	// EncryptionKey is the hex-encoded 256-bit key shared by all documents.
	EncryptionKey string `env:"CERTVAULT_ENCRYPTION_KEY,required"`

	RetentionDays      int      `env:"CERTVAULT_RETENTION_DAYS" envDefault:"2555"`
	QuotaCapacityBytes int64    `env:"CERTVAULT_QUOTA_CAPACITY_BYTES" envDefault:"524288000"`
	MaxFileSizeBytes   int64    `env:"CERTVAULT_MAX_FILE_SIZE_BYTES" envDefault:"10485760"`
	AllowedMimeTypes   []string `env:"CERTVAULT_ALLOWED_MIME_TYPES" envDefault:"application/pdf,image/jpeg,image/png"`

	DBPath string `env:"CERTVAULT_DB_PATH" envDefault:"certvault.db"`

	// Object store settings. The object backend is only constructed when
	// ObjectEndpoint is set; otherwise the relational backend serves alone.
	ObjectEndpoint string `env:"CERTVAULT_OBJECT_ENDPOINT"`
	ObjectKeyID    string `env:"CERTVAULT_OBJECT_KEY_ID"`
	ObjectSecret   string `env:"CERTVAULT_OBJECT_SECRET"`
	ObjectBucket   string `env:"CERTVAULT_OBJECT_BUCKET"`
	ObjectPrefix   string `env:"CERTVAULT_OBJECT_PREFIX"`
	ObjectUseSSL   bool   `env:"CERTVAULT_OBJECT_USE_SSL" envDefault:"true"`

	key []byte
}

// Load reads configuration from the environment, with an optional .env file
// for local development.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil {
		return fmt.Errorf("encryption key is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	c.key = key

	if c.RetentionDays <= 0 {
		return fmt.Errorf("retention days must be positive, got %d", c.RetentionDays)
	}
	if c.QuotaCapacityBytes <= 0 {
		return fmt.Errorf("quota capacity must be positive, got %d", c.QuotaCapacityBytes)
	}
	if c.MaxFileSizeBytes <= 0 || c.MaxFileSizeBytes > c.QuotaCapacityBytes {
		return fmt.Errorf("per-file size limit %d must be positive and within capacity %d", c.MaxFileSizeBytes, c.QuotaCapacityBytes)
	}
	if len(c.AllowedMimeTypes) == 0 {
		return fmt.Errorf("allowed MIME type list is empty")
	}
	if c.ObjectEndpoint != "" && (c.ObjectKeyID == "" || c.ObjectSecret == "" || c.ObjectBucket == "") {
		return fmt.Errorf("object store endpoint is set but key id, secret or bucket is missing")
	}
	return nil
}

// Key returns the decoded encryption key.
func (c *Config) Key() []byte {
	return c.key
}

// RetentionPeriod returns the configured retention as a duration.
func (c *Config) RetentionPeriod() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// ObjectStoreConfigured reports whether the object backend should be built.
func (c *Config) ObjectStoreConfigured() bool {
	return c.ObjectEndpoint != ""
}
