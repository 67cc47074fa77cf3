// Package fileid produces opaque document identifiers. IDs mix the uploader
// identity and current time with a random nonce through SHA-256, so knowing
// who uploaded and when is not enough to enumerate identifiers.
package fileid

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// Length is the length of a generated identifier in hex characters.
const Length = 48

// Generate returns a new identifier for a document uploaded by uploaderID.
// Identifiers are never reused; callers discard the value if persistence
// fails and generate a fresh one on retry.
func Generate(uploaderID string) (string, error) {
	nonce, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	h := sha256.New()
	io.WriteString(h, uploaderID)
	binary.Write(h, binary.BigEndian, time.Now().UnixNano())
	h.Write(nonce[:])

	return hex.EncodeToString(h.Sum(nil))[:Length], nil
}
