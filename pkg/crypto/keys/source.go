package keys

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
)

// StaticSource serves fixed key material per version. Version 1 is seeded
// at construction (typically from configuration); later versions are
// generated randomly on first request, which realizes rotation without an
// external KMS. Production deployments substitute a KMS-backed Source.
type StaticSource struct {
	mu       sync.Mutex
	material map[int][]byte
}

// NewStaticSource seeds version 1 with the given master key.
func NewStaticSource(masterKey []byte) *StaticSource {
	seeded := make([]byte, len(masterKey))
	copy(seeded, masterKey)
	return &StaticSource{material: map[int][]byte{1: seeded}}
}

// Material returns the key material for a version, generating fresh random
// material for versions not yet seen.
func (s *StaticSource) Material(_ context.Context, _ string, version int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if material, ok := s.material[version]; ok {
		out := make([]byte, len(material))
		copy(out, material)
		return out, nil
	}

	material := make([]byte, MasterKeySize)
	if _, err := rand.Read(material); err != nil {
		return nil, fmt.Errorf("generate key material: %w", err)
	}
	s.material[version] = material

	out := make([]byte, MasterKeySize)
	copy(out, material)
	return out, nil
}
