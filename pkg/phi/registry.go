// Package phi classifies which data fields carry protected health
// information and what handling each one requires. The registry is an
// immutable configuration object built once at startup and injected into
// the classifier; there is no package-level mutable state.
package phi

import (
	"fmt"
	"strings"
)

// SensitivityLevel ranks how directly a field identifies an individual's
// health information.
type SensitivityLevel string

const (
	// LevelDirect: direct identifiers (SSN, MRN, full name + DOB).
	LevelDirect SensitivityLevel = "DIRECT"
	// LevelIndirect: quasi-identifiers that re-identify in combination.
	LevelIndirect SensitivityLevel = "INDIRECT"
	// LevelSensitive: clinical content (diagnoses, notes, results).
	LevelSensitive SensitivityLevel = "SENSITIVE"
	// LevelNone: not PHI.
	LevelNone SensitivityLevel = "NONE"
)

// IsValid checks if the level is one of the supported enum values.
func (l SensitivityLevel) IsValid() bool {
	switch l {
	case LevelDirect, LevelIndirect, LevelSensitive, LevelNone:
		return true
	}
	return false
}

// IsPHI reports whether the level marks protected health information.
func (l SensitivityLevel) IsPHI() bool {
	return l == LevelDirect || l == LevelIndirect || l == LevelSensitive
}

// FieldDefinition describes the sensitivity and handling rules for one
// entity field. Definitions are immutable after registry construction.
type FieldDefinition struct {
	Entity  string
	Field   string
	Level   SensitivityLevel
	Encrypt bool // encrypt at rest and in cache
	NoLog   bool // value must never appear in logs
	NoML    bool // value must not be forwarded to ML services
}

// QualifiedName returns the registry key, "entity.field".
func (d FieldDefinition) QualifiedName() string {
	return d.Entity + "." + d.Field
}

// Registry holds every known field definition, keyed by qualified name.
// It is read-only after construction and safe for concurrent use.
type Registry struct {
	defs map[string]FieldDefinition
}

// NewRegistry builds a registry from the given definitions. Duplicate
// qualified names and invalid levels fail construction so misconfiguration
// is caught at startup rather than at classification time.
func NewRegistry(defs []FieldDefinition) (*Registry, error) {
	m := make(map[string]FieldDefinition, len(defs))
	for _, d := range defs {
		if d.Entity == "" || d.Field == "" {
			return nil, fmt.Errorf("field definition requires entity and field, got %q.%q", d.Entity, d.Field)
		}
		if !d.Level.IsValid() {
			return nil, fmt.Errorf("field %s has invalid sensitivity level %q", d.QualifiedName(), d.Level)
		}
		key := d.QualifiedName()
		if _, exists := m[key]; exists {
			return nil, fmt.Errorf("duplicate field definition %s", key)
		}
		m[key] = d
	}
	return &Registry{defs: m}, nil
}

// Lookup returns the definition for a qualified name ("entity.field").
func (r *Registry) Lookup(qualifiedName string) (FieldDefinition, bool) {
	def, ok := r.defs[qualifiedName]
	return def, ok
}

// LookupField returns the definition for an entity/field pair.
func (r *Registry) LookupField(entity, field string) (FieldDefinition, bool) {
	return r.Lookup(entity + "." + field)
}

// Entities returns the distinct entity names covered by the registry.
// Used by coverage reports that audit the fail-open unknown-field policy.
func (r *Registry) Entities() []string {
	seen := make(map[string]struct{})
	var out []string
	for key := range r.defs {
		entity := key[:strings.IndexByte(key, '.')]
		if _, ok := seen[entity]; !ok {
			seen[entity] = struct{}{}
			out = append(out, entity)
		}
	}
	return out
}

// Len returns the number of registered field definitions.
func (r *Registry) Len() int { return len(r.defs) }

// DefaultDefinitions returns the baseline field catalog for the platform's
// clinical entities. Deployments extend this list before constructing the
// registry; fields absent from it classify as NONE (fail-open, see
// Classifier docs).
func DefaultDefinitions() []FieldDefinition {
	return []FieldDefinition{
		// Patient demographics
		{Entity: "patient", Field: "ssn", Level: LevelDirect, Encrypt: true, NoLog: true, NoML: true},
		{Entity: "patient", Field: "mrn", Level: LevelDirect, Encrypt: true, NoLog: true, NoML: false},
		{Entity: "patient", Field: "firstName", Level: LevelDirect, Encrypt: true, NoLog: true, NoML: true},
		{Entity: "patient", Field: "lastName", Level: LevelDirect, Encrypt: true, NoLog: true, NoML: true},
		{Entity: "patient", Field: "dateOfBirth", Level: LevelDirect, Encrypt: true, NoLog: true, NoML: false},
		{Entity: "patient", Field: "email", Level: LevelDirect, Encrypt: true, NoLog: true, NoML: true},
		{Entity: "patient", Field: "phone", Level: LevelDirect, Encrypt: true, NoLog: true, NoML: true},
		{Entity: "patient", Field: "address", Level: LevelIndirect, Encrypt: true, NoLog: true, NoML: true},
		{Entity: "patient", Field: "zipCode", Level: LevelIndirect, Encrypt: false, NoLog: false, NoML: false},
		{Entity: "patient", Field: "insuranceId", Level: LevelDirect, Encrypt: true, NoLog: true, NoML: true},

		// Clinical content
		{Entity: "patient", Field: "diagnosis", Level: LevelSensitive, Encrypt: true, NoLog: true, NoML: false},
		{Entity: "patient", Field: "medications", Level: LevelSensitive, Encrypt: true, NoLog: true, NoML: false},
		{Entity: "patient", Field: "allergies", Level: LevelSensitive, Encrypt: true, NoLog: true, NoML: false},
		{Entity: "transcription", Field: "content", Level: LevelSensitive, Encrypt: true, NoLog: true, NoML: false},
		{Entity: "transcription", Field: "summary", Level: LevelSensitive, Encrypt: true, NoLog: true, NoML: false},
		{Entity: "carePlan", Field: "goals", Level: LevelSensitive, Encrypt: true, NoLog: true, NoML: false},
		{Entity: "carePlan", Field: "notes", Level: LevelSensitive, Encrypt: true, NoLog: true, NoML: false},
		{Entity: "recommendation", Field: "rationale", Level: LevelSensitive, Encrypt: true, NoLog: true, NoML: false},

		// Provider identifiers are directory data, not PHI
		{Entity: "provider", Field: "npi", Level: LevelNone, Encrypt: false, NoLog: false, NoML: false},
		{Entity: "provider", Field: "specialty", Level: LevelNone, Encrypt: false, NoLog: false, NoML: false},
		{Entity: "institution", Field: "name", Level: LevelNone, Encrypt: false, NoLog: false, NoML: false},
	}
}
