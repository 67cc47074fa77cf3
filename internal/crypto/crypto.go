// Package crypto encrypts document payloads before they leave application
// memory. The scheme is AES-256-CBC with PKCS7 padding and an HMAC-SHA256
// tag over IV||ciphertext (encrypt-then-MAC), so a flipped byte anywhere in
// the stored payload or IV is rejected instead of decrypting to garbage.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
)

// KeySize is the required key length in bytes (AES-256).
const KeySize = 32

// TagSize is the length of the authentication tag appended to ciphertext.
const TagSize = sha256.Size

// ErrDecryptFailed is returned when a payload fails authentication or
// padding validation: wrong key, corrupted ciphertext, or mismatched IV.
var ErrDecryptFailed = errors.New("decryption failed")

// Engine performs symmetric encryption with a single shared key. It is
// stateless and safe for concurrent use.
type Engine struct {
	encKey []byte
	macKey []byte
}

// NewEngine creates an engine from a 32-byte key. The MAC key is derived
// from the cipher key so only one secret needs to be configured.
func NewEngine(key []byte) (*Engine, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	mac := sha256.Sum256(append([]byte("certvault/mac:"), key...))
	return &Engine{
		encKey: append([]byte(nil), key...),
		macKey: mac[:],
	}, nil
}

// Encrypt encrypts plaintext under a fresh random IV. The returned payload
// is ciphertext||tag; the IV is returned separately so the caller can store
// it in document metadata.
func (e *Engine) Encrypt(plaintext []byte) (payload, iv []byte, err error) {
	block, err := aes.NewCipher(e.encKey)
	if err != nil {
		return nil, nil, err
	}

	iv = make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, fmt.Errorf("generate iv: %w", err)
	}

	padded := pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return append(ciphertext, e.tag(iv, ciphertext)...), iv, nil
}

// Decrypt reverses Encrypt. It returns ErrDecryptFailed if the tag does not
// verify or the recovered padding is malformed.
func (e *Engine) Decrypt(payload, iv []byte) ([]byte, error) {
	if len(iv) != aes.BlockSize {
		return nil, ErrDecryptFailed
	}
	if len(payload) < TagSize+aes.BlockSize {
		return nil, ErrDecryptFailed
	}

	ciphertext := payload[:len(payload)-TagSize]
	tag := payload[len(payload)-TagSize:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrDecryptFailed
	}
	if !hmac.Equal(tag, e.tag(iv, ciphertext)) {
		return nil, ErrDecryptFailed
	}

	block, err := aes.NewCipher(e.encKey)
	if err != nil {
		return nil, err
	}
	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plaintext, err := unpad(padded, aes.BlockSize)
	if err != nil {
		// Unreachable in practice once the tag has verified, but padding
		// stays strict so corruption never yields silent garbage.
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

func (e *Engine) tag(iv, ciphertext []byte) []byte {
	h := hmac.New(sha256.New, e.macKey)
	h.Write(iv)
	h.Write(ciphertext)
	return h.Sum(nil)
}

// pad applies PKCS7 padding. A full block of padding is added when the
// input is already block-aligned.
func pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(append([]byte(nil), data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, errors.New("invalid padding byte")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("inconsistent padding")
		}
	}
	return data[:len(data)-n], nil
}
