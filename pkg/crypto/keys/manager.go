// Package keys manages master key material and rotation metadata for the
// PHI encryption layer. Key material comes from a pluggable Source so a
// KMS/HSM can back it in production while a static source suffices for
// tests. Per-field keys are derived with HKDF so ciphertexts for different
// fields under the same master key are cryptographically unrelated.
package keys

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	domainerrors "phiguard/pkg/domain-errors"
	"phiguard/pkg/sentinel"
)

// MasterKeySize is the required length of master key material (AES-256).
const MasterKeySize = 32

// Status marks whether a key version may still encrypt new data.
type Status string

const (
	// StatusActive: the version used for new encryptions.
	StatusActive Status = "ACTIVE"
	// StatusRetired: kept for decrypting in-flight data, never for new
	// encryptions. Retired keys are not deleted.
	StatusRetired Status = "RETIRED"
)

// Metadata describes one key version without exposing its material.
type Metadata struct {
	KeyID     uuid.UUID
	Purpose   string
	Version   int
	CreatedAt time.Time
	RotatesAt time.Time
	Status    Status
}

// Source supplies raw master key material by purpose and version. This is
// the KMS-shaped collaborator boundary; the manager never persists material
// itself.
type Source interface {
	Material(ctx context.Context, purpose string, version int) ([]byte, error)
}

type entry struct {
	material []byte
	meta     Metadata
}

// Manager owns the key table for one purpose. Reads dominate; rotation
// appends a version under the write lock. Multiple versions coexist during
// rotation, distinguished by the version embedded in each EncryptedValue.
type Manager struct {
	source         Source
	purpose        string
	rotationPeriod time.Duration
	clock          func() time.Time

	mu      sync.RWMutex
	entries map[int]*entry
	current int
}

// Option configures the Manager.
type Option func(*Manager)

// WithRotationPeriod sets how far in the future RotatesAt is scheduled.
// The manager exposes the schedule as metadata only; it never rotates
// automatically.
func WithRotationPeriod(d time.Duration) Option {
	return func(m *Manager) { m.rotationPeriod = d }
}

// WithClock sets the clock function for testability.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// NewManager loads version 1 from the source and fails fast if the
// material is not exactly MasterKeySize bytes.
func NewManager(ctx context.Context, source Source, purpose string, opts ...Option) (*Manager, error) {
	if source == nil {
		return nil, domainerrors.New(domainerrors.CodeInvalidInput, "key source is required")
	}
	if purpose == "" {
		return nil, domainerrors.New(domainerrors.CodeInvalidInput, "key purpose is required")
	}

	m := &Manager{
		source:         source,
		purpose:        purpose,
		rotationPeriod: 90 * 24 * time.Hour,
		clock:          time.Now,
		entries:        make(map[int]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.load(ctx, 1); err != nil {
		return nil, err
	}
	m.current = 1
	return m, nil
}

func (m *Manager) load(ctx context.Context, version int) error {
	material, err := m.source.Material(ctx, m.purpose, version)
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeUnavailable, "fetch key material")
	}
	if len(material) != MasterKeySize {
		return domainerrors.New(domainerrors.CodeInvalidInput,
			fmt.Sprintf("master key for purpose %q must be %d bytes, got %d", m.purpose, MasterKeySize, len(material)))
	}
	now := m.clock()
	m.entries[version] = &entry{
		material: material,
		meta: Metadata{
			KeyID:     uuid.New(),
			Purpose:   m.purpose,
			Version:   version,
			CreatedAt: now,
			RotatesAt: now.Add(m.rotationPeriod),
			Status:    StatusActive,
		},
	}
	return nil
}

// CurrentVersion returns the version used for new encryptions.
func (m *Manager) CurrentVersion() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// MetadataFor returns rotation metadata for a key version.
func (m *Manager) MetadataFor(version int) (Metadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[version]
	if !ok {
		return Metadata{}, fmt.Errorf("key version %d: %w", version, sentinel.ErrNotFound)
	}
	return e.meta, nil
}

// Rotate provisions the next key version from the source, marks it ACTIVE,
// and retires the previous version. The retired material stays loaded so
// data written under it remains readable; re-encryption is orchestrated by
// the callers that own the ciphertext.
func (m *Manager) Rotate(ctx context.Context) (Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.current + 1
	if err := m.load(ctx, next); err != nil {
		return Metadata{}, err
	}
	if prev, ok := m.entries[m.current]; ok {
		prev.meta.Status = StatusRetired
	}
	m.current = next
	return m.entries[next].meta, nil
}

// DeriveKey derives a 32-byte subkey from the master key of the given
// version, bound to the supplied context string (field name or cache key).
// HKDF-SHA256 guarantees subkeys for distinct contexts are unrelated.
func (m *Manager) DeriveKey(version int, context string) ([]byte, error) {
	m.mu.RLock()
	e, ok := m.entries[version]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("key version %d: %w", version, sentinel.ErrNotFound)
	}

	info := []byte("phiguard:" + m.purpose + ":" + context)
	r := hkdf.New(sha256.New, e.material, nil, info)
	key := make([]byte, MasterKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// DeriveCurrent derives a subkey under the active version and reports
// which version was used.
func (m *Manager) DeriveCurrent(context string) (int, []byte, error) {
	version := m.CurrentVersion()
	key, err := m.DeriveKey(version, context)
	return version, key, err
}
