package fieldenc

import (
	"encoding/base64"
	"fmt"
)

// EncryptObject encrypts the named PHI fields of obj in place of their
// plaintext, returning a new map. Non-PHI fields pass through unchanged,
// including nested values one level down. Field keys are derived from the
// qualified "entity.field" name so they match single-field encryption.
//
// Only string-valued PHI fields are encrypted; a PHI field holding a
// non-string is a caller programming error and fails the whole call so no
// partially protected object escapes.
func (e *Encryptor) EncryptObject(obj map[string]any, entity string, phiFields []string) (map[string]any, error) {
	phi := make(map[string]bool, len(phiFields))
	for _, f := range phiFields {
		phi[f] = true
	}

	out := make(map[string]any, len(obj))
	for key, value := range obj {
		if !phi[key] {
			out[key] = value
			continue
		}
		if value == nil {
			out[key] = nil
			continue
		}
		plaintext, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("field %s.%s: PHI fields must be strings, got %T", entity, key, value)
		}
		encrypted, err := e.Encrypt(plaintext, entity+"."+key)
		if err != nil {
			return nil, fmt.Errorf("encrypt field %s.%s: %w", entity, key, err)
		}
		out[key] = encrypted
	}
	return out, nil
}

// DecryptObject reverses EncryptObject: every value that is an encrypted
// field is decrypted; everything else passes through unchanged. Values that
// came back from JSON as generic maps are recognized too.
func (e *Encryptor) DecryptObject(obj map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(obj))
	for key, value := range obj {
		ev, ok := asEncryptedValue(value)
		if !ok {
			out[key] = value
			continue
		}
		plaintext, err := e.Decrypt(ev, ev.FieldName)
		if err != nil {
			return nil, fmt.Errorf("decrypt field %q: %w", key, err)
		}
		out[key] = plaintext
	}
	return out, nil
}

// IsEncrypted is a structural type guard distinguishing a valid
// EncryptedValue (typed or JSON-decoded map form) from plaintext or
// malformed objects. It returns false rather than failing for partial
// shapes.
func IsEncrypted(value any) bool {
	_, ok := asEncryptedValue(value)
	return ok
}

func asEncryptedValue(value any) (*EncryptedValue, bool) {
	switch v := value.(type) {
	case *EncryptedValue:
		if v == nil {
			return nil, false
		}
		return v, structurallyValid(v)
	case EncryptedValue:
		return &v, structurallyValid(&v)
	case map[string]any:
		return fromMap(v)
	default:
		return nil, false
	}
}

func structurallyValid(v *EncryptedValue) bool {
	// Ciphertext may be empty (GCM of an empty plaintext); the IV, tag,
	// field name, and version shapes are what distinguish a real value.
	return len(v.IV) == nonceSize && len(v.AuthTag) == tagSize &&
		v.FieldName != "" && v.Version > 0
}

// fromMap recovers an EncryptedValue from its JSON-decoded map form, where
// byte slices arrive as base64 strings and numbers as float64.
func fromMap(m map[string]any) (*EncryptedValue, bool) {
	fieldName, ok := m["fieldName"].(string)
	if !ok || fieldName == "" {
		return nil, false
	}
	versionFloat, ok := m["version"].(float64)
	if !ok || versionFloat < 1 {
		return nil, false
	}

	decode := func(key string) ([]byte, bool) {
		s, ok := m[key].(string)
		if !ok {
			return nil, false
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, false
		}
		return b, true
	}

	ciphertext, ok := decode("ciphertext")
	if !ok {
		return nil, false
	}
	iv, ok := decode("iv")
	if !ok {
		return nil, false
	}
	authTag, ok := decode("authTag")
	if !ok {
		return nil, false
	}

	ev := &EncryptedValue{
		Ciphertext: ciphertext,
		IV:         iv,
		AuthTag:    authTag,
		FieldName:  fieldName,
		Version:    int(versionFloat),
	}
	if !structurallyValid(ev) {
		return nil, false
	}
	return ev, true
}
