// Package fieldenc provides authenticated per-field encryption for PHI.
// Each field name is mixed into key derivation, so ciphertexts for
// different fields under the same master key are cryptographically
// unrelated and a ciphertext cannot be decrypted under another field's
// name. AES-256-GCM supplies both confidentiality and tamper detection.
package fieldenc

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strconv"

	domainerrors "phiguard/pkg/domain-errors"
	"phiguard/pkg/crypto/keys"
)

// AlgorithmAESGCM is the only supported AEAD algorithm.
const AlgorithmAESGCM = "aes-256-gcm"

const (
	nonceSize = 12
	tagSize   = 16
)

// ErrDecryptionFailed is returned for any integrity or context failure:
// tampered ciphertext, wrong field name, or malformed input. It is never
// masked as an empty value; callers must surface it.
var ErrDecryptionFailed = errors.New("decryption failed")

// EncryptedValue is the wire shape of one encrypted field. It is immutable
// after creation; FieldName and Version are part of the authenticated
// context, so decrypting under a different field name fails.
type EncryptedValue struct {
	Ciphertext []byte `json:"ciphertext"`
	IV         []byte `json:"iv"`
	AuthTag    []byte `json:"authTag"`
	FieldName  string `json:"fieldName"`
	Version    int    `json:"version"`
}

// Encryptor performs field-level encryption. It is stateless apart from
// the key manager's read-mostly key table and safe for concurrent use.
type Encryptor struct {
	keys      *keys.Manager
	algorithm string
}

// Option configures the Encryptor.
type Option func(*Encryptor)

// WithAlgorithm overrides the AEAD algorithm name. Anything other than
// AlgorithmAESGCM fails construction.
func WithAlgorithm(name string) Option {
	return func(e *Encryptor) { e.algorithm = name }
}

// New builds a field encryptor over an existing key manager. Construction
// fails fast on a nil manager or an unrecognized algorithm so
// misconfiguration never reaches encrypt time.
func New(manager *keys.Manager, opts ...Option) (*Encryptor, error) {
	if manager == nil {
		return nil, domainerrors.New(domainerrors.CodeInvalidInput, "key manager is required")
	}
	e := &Encryptor{
		keys:      manager,
		algorithm: AlgorithmAESGCM,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.algorithm != AlgorithmAESGCM {
		return nil, domainerrors.New(domainerrors.CodeInvalidInput,
			fmt.Sprintf("unrecognized encryption algorithm %q", e.algorithm))
	}
	return e, nil
}

// NewWithMasterKey builds the key manager and encryptor in one step for
// callers that hold raw master key material. Fails with a configuration
// error if the key is not the required length.
func NewWithMasterKey(ctx context.Context, masterKey []byte, opts ...Option) (*Encryptor, error) {
	manager, err := keys.NewManager(ctx, keys.NewStaticSource(masterKey), "phi-field")
	if err != nil {
		return nil, err
	}
	return New(manager, opts...)
}

// aad binds field name and key version into the authenticated data.
func aad(fieldName string, version int) []byte {
	return []byte(fieldName + ":v" + strconv.Itoa(version))
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Encrypt encrypts plaintext under a key derived for fieldName. A fresh
// random IV is generated per call: encrypting identical plaintext twice
// yields different ciphertext and IV.
func (e *Encryptor) Encrypt(plaintext, fieldName string) (*EncryptedValue, error) {
	if fieldName == "" {
		return nil, domainerrors.New(domainerrors.CodeInvalidInput, "field name is required")
	}

	version, key, err := e.keys.DeriveCurrent(fieldName)
	if err != nil {
		return nil, fmt.Errorf("derive field key: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), aad(fieldName, version))
	boundary := len(sealed) - tagSize

	return &EncryptedValue{
		Ciphertext: sealed[:boundary],
		IV:         iv,
		AuthTag:    sealed[boundary:],
		FieldName:  fieldName,
		Version:    version,
	}, nil
}

// Decrypt recovers the plaintext. It fails with ErrDecryptionFailed when
// the field name does not match the one used to encrypt, when any byte of
// ciphertext, IV, or auth tag was altered, or when the value is
// structurally malformed. It never returns corrupted plaintext.
func (e *Encryptor) Decrypt(value *EncryptedValue, fieldName string) (string, error) {
	if value == nil || len(value.IV) != nonceSize || len(value.AuthTag) != tagSize {
		return "", fmt.Errorf("%w: malformed encrypted value", ErrDecryptionFailed)
	}
	if fieldName == "" || value.FieldName != fieldName {
		return "", fmt.Errorf("%w: field name mismatch", ErrDecryptionFailed)
	}

	key, err := e.keys.DeriveKey(value.Version, fieldName)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	sealed := make([]byte, 0, len(value.Ciphertext)+tagSize)
	sealed = append(sealed, value.Ciphertext...)
	sealed = append(sealed, value.AuthTag...)

	plaintext, err := gcm.Open(nil, value.IV, sealed, aad(fieldName, value.Version))
	if err != nil {
		return "", fmt.Errorf("%w: integrity check", ErrDecryptionFailed)
	}
	return string(plaintext), nil
}

// Reencrypt decrypts a value written under any loaded key version and
// re-encrypts it under the current version, verifying the round trip. This
// is the data-plane half of key rotation.
func (e *Encryptor) Reencrypt(value *EncryptedValue, fieldName string) (*EncryptedValue, error) {
	plaintext, err := e.Decrypt(value, fieldName)
	if err != nil {
		return nil, err
	}
	fresh, err := e.Encrypt(plaintext, fieldName)
	if err != nil {
		return nil, err
	}
	verified, err := e.Decrypt(fresh, fieldName)
	if err != nil {
		return nil, fmt.Errorf("reencrypt verification: %w", err)
	}
	if verified != plaintext {
		return nil, fmt.Errorf("%w: reencrypt verification mismatch", ErrDecryptionFailed)
	}
	return fresh, nil
}
