// Package cachenc encrypts whole payloads destined for a shared cache.
// The cache key is bound into the authenticated context, so a blob written
// under one key is rejected when read under another. Blobs are opaque
// base64 strings safe to store verbatim.
package cachenc

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	domainerrors "phiguard/pkg/domain-errors"
	"phiguard/pkg/crypto/keys"
)

const (
	nonceSize  = 12
	headerSize = 4 // big-endian key version prefix
)

// ErrDecryptionFailed is returned for tampered, truncated, or
// wrong-cache-key blobs. Partial data is never returned.
var ErrDecryptionFailed = errors.New("cache decryption failed")

// Encryptor encrypts JSON-serializable payloads bound to a cache key.
// Stateless and safe for concurrent use.
type Encryptor struct {
	keys *keys.Manager
}

// New builds a cache encryptor over an existing key manager.
func New(manager *keys.Manager) (*Encryptor, error) {
	if manager == nil {
		return nil, domainerrors.New(domainerrors.CodeInvalidInput, "key manager is required")
	}
	return &Encryptor{keys: manager}, nil
}

func cacheAAD(cacheKey string, version int) []byte {
	return []byte("cache:" + cacheKey + ":v" + strconv.Itoa(version))
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// EncryptForCache serializes data as JSON and encrypts it under a key
// derived for cacheKey. The result round-trips arbitrary JSON-serializable
// structures including nil fields and empty objects or arrays, and never
// contains a plaintext substring of the input.
func (e *Encryptor) EncryptForCache(data any, cacheKey string) (string, error) {
	if cacheKey == "" {
		return "", domainerrors.New(domainerrors.CodeInvalidInput, "cache key is required")
	}

	plaintext, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("serialize cache payload: %w", err)
	}

	version, key, err := e.keys.DeriveCurrent("cache:" + cacheKey)
	if err != nil {
		return "", fmt.Errorf("derive cache key: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	iv := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	blob := make([]byte, headerSize, headerSize+nonceSize+len(plaintext)+gcm.Overhead())
	binary.BigEndian.PutUint32(blob, uint32(version))
	blob = append(blob, iv...)
	blob = gcm.Seal(blob, iv, plaintext, cacheAAD(cacheKey, version))

	return base64.StdEncoding.EncodeToString(blob), nil
}

// DecryptFromCache decrypts a blob produced by EncryptForCache and
// unmarshals it into v. It fails with ErrDecryptionFailed when the cache
// key differs from the one the blob was written under, or when any byte of
// the blob has been truncated or mutated.
func (e *Encryptor) DecryptFromCache(blob, cacheKey string, v any) error {
	if cacheKey == "" {
		return domainerrors.New(domainerrors.CodeInvalidInput, "cache key is required")
	}

	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return fmt.Errorf("%w: malformed blob", ErrDecryptionFailed)
	}
	if len(raw) < headerSize+nonceSize {
		return fmt.Errorf("%w: truncated blob", ErrDecryptionFailed)
	}

	version := int(binary.BigEndian.Uint32(raw[:headerSize]))
	iv := raw[headerSize : headerSize+nonceSize]
	sealed := raw[headerSize+nonceSize:]

	key, err := e.keys.DeriveKey(version, "cache:"+cacheKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	plaintext, err := gcm.Open(nil, iv, sealed, cacheAAD(cacheKey, version))
	if err != nil {
		return fmt.Errorf("%w: integrity check", ErrDecryptionFailed)
	}

	if err := json.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("deserialize cache payload: %w", err)
	}
	return nil
}
