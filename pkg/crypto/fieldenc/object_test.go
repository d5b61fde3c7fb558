package fieldenc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/suite"

	"phiguard/pkg/crypto/keys"
)

type ObjectSuite struct {
	suite.Suite
	encryptor *Encryptor
}

func TestObjectSuite(t *testing.T) {
	suite.Run(t, new(ObjectSuite))
}

func (s *ObjectSuite) SetupTest() {
	manager, err := keys.NewManager(context.Background(), keys.NewStaticSource(testMasterKey()), "phi-field")
	s.Require().NoError(err)

	s.encryptor, err = New(manager)
	s.Require().NoError(err)
}

func (s *ObjectSuite) TestEncryptObject() {
	s.Run("encrypts only the named PHI fields", func() {
		obj := map[string]any{
			"id":        "pat-1",
			"ssn":       "123-45-6789",
			"diagnosis": "hypertension",
			"zipCode":   "02139",
		}

		out, err := s.encryptor.EncryptObject(obj, "patient", []string{"ssn", "diagnosis"})
		s.Require().NoError(err)

		s.Equal("pat-1", out["id"])
		s.Equal("02139", out["zipCode"])
		s.True(IsEncrypted(out["ssn"]))
		s.True(IsEncrypted(out["diagnosis"]))

		ev := out["ssn"].(*EncryptedValue)
		s.Equal("patient.ssn", ev.FieldName)
	})

	s.Run("nil PHI values pass through", func() {
		obj := map[string]any{"ssn": nil}
		out, err := s.encryptor.EncryptObject(obj, "patient", []string{"ssn"})
		s.Require().NoError(err)
		s.Nil(out["ssn"])
	})

	s.Run("non-string PHI value fails the whole call", func() {
		obj := map[string]any{"ssn": 123456789}
		_, err := s.encryptor.EncryptObject(obj, "patient", []string{"ssn"})
		s.Require().Error(err)
		s.Contains(err.Error(), "patient.ssn")
	})

	s.Run("does not mutate the input object", func() {
		obj := map[string]any{"ssn": "123-45-6789"}
		_, err := s.encryptor.EncryptObject(obj, "patient", []string{"ssn"})
		s.Require().NoError(err)
		s.Equal("123-45-6789", obj["ssn"])
	})
}

func (s *ObjectSuite) TestDecryptObject() {
	s.Run("round trips an encrypted object", func() {
		obj := map[string]any{
			"id":        "pat-1",
			"ssn":       "123-45-6789",
			"diagnosis": "hypertension",
		}

		encrypted, err := s.encryptor.EncryptObject(obj, "patient", []string{"ssn", "diagnosis"})
		s.Require().NoError(err)

		decrypted, err := s.encryptor.DecryptObject(encrypted)
		s.Require().NoError(err)
		s.Equal(obj, decrypted)
	})

	s.Run("recognizes JSON-decoded map form", func() {
		encrypted, err := s.encryptor.EncryptObject(
			map[string]any{"ssn": "123-45-6789"}, "patient", []string{"ssn"})
		s.Require().NoError(err)

		raw, err := json.Marshal(encrypted)
		s.Require().NoError(err)

		var roundTripped map[string]any
		s.Require().NoError(json.Unmarshal(raw, &roundTripped))

		decrypted, err := s.encryptor.DecryptObject(roundTripped)
		s.Require().NoError(err)
		s.Equal("123-45-6789", decrypted["ssn"])
	})

	s.Run("tampered field fails the whole call", func() {
		encrypted, err := s.encryptor.EncryptObject(
			map[string]any{"ssn": "123-45-6789"}, "patient", []string{"ssn"})
		s.Require().NoError(err)

		encrypted["ssn"].(*EncryptedValue).Ciphertext[0] ^= 0x01
		_, err = s.encryptor.DecryptObject(encrypted)
		s.Require().ErrorIs(err, ErrDecryptionFailed)
	})
}

func (s *ObjectSuite) TestIsEncrypted() {
	value, err := s.encryptor.Encrypt("123-45-6789", "patient.ssn")
	s.Require().NoError(err)

	s.Run("typed values", func() {
		s.True(IsEncrypted(value))
		s.True(IsEncrypted(*value))
	})

	s.Run("plaintext and malformed shapes", func() {
		s.False(IsEncrypted("123-45-6789"))
		s.False(IsEncrypted(nil))
		s.False(IsEncrypted(42))
		s.False(IsEncrypted((*EncryptedValue)(nil)))
		s.False(IsEncrypted(&EncryptedValue{FieldName: "patient.ssn"}))
		s.False(IsEncrypted(map[string]any{"ciphertext": "abc"}))
	})

	s.Run("JSON map form", func() {
		raw, err := json.Marshal(value)
		s.Require().NoError(err)

		var m map[string]any
		s.Require().NoError(json.Unmarshal(raw, &m))
		s.True(IsEncrypted(m))

		m["iv"] = "not-base64!"
		s.False(IsEncrypted(m))
	})
}
