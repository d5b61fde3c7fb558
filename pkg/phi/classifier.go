package phi

import (
	"errors"
	"log/slog"
	"strings"
)

var errNilRegistry = errors.New("phi registry is required")

// Handling captures the per-field protections a caller must apply.
type Handling struct {
	Encrypt bool
	NoLog   bool
	NoML    bool
}

// ClassificationResult is the classifier's decision for a single field.
type ClassificationResult struct {
	Level         SensitivityLevel
	Handling      Handling
	RequiresAudit bool
}

// AccessDecision is the outcome of a role-based field access check.
type AccessDecision struct {
	Allowed       bool
	RequiresAudit bool
}

// Metrics is the subset of instrumentation the classifier reports to.
type Metrics interface {
	IncClassificationMiss(entity string)
}

// Classifier answers handling and access questions for entity fields by
// consulting an immutable Registry.
//
// Unknown fields classify as NONE with no handling requirements. This is a
// deliberate fail-open policy: newly added fields take the non-PHI path
// until explicitly registered. Every miss is logged and counted so registry
// gaps surface in monitoring rather than staying silent.
type Classifier struct {
	registry *Registry
	rolePHI  map[string][]SensitivityLevel
	logger   *slog.Logger
	metrics  Metrics
}

// Option configures the Classifier.
type Option func(*Classifier)

// WithLogger sets the logger used for classification-miss warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Classifier) { c.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m Metrics) Option {
	return func(c *Classifier) { c.metrics = m }
}

// WithRolePolicy overrides the default role-to-level access policy.
// The map lists, per role, the PHI sensitivity levels it may read.
func WithRolePolicy(policy map[string][]SensitivityLevel) Option {
	return func(c *Classifier) { c.rolePHI = policy }
}

// defaultRolePolicy maps roles to the PHI levels they may read. No role
// bypasses auditing: any role here always gets RequiresAudit=true for PHI.
func defaultRolePolicy() map[string][]SensitivityLevel {
	return map[string][]SensitivityLevel{
		"admin":     {LevelDirect, LevelIndirect, LevelSensitive},
		"physician": {LevelDirect, LevelIndirect, LevelSensitive},
		"nurse":     {LevelIndirect, LevelSensitive},
		"billing":   {LevelDirect, LevelIndirect},
	}
}

// NewClassifier builds a classifier over the given registry.
func NewClassifier(registry *Registry, opts ...Option) (*Classifier, error) {
	if registry == nil {
		return nil, errNilRegistry
	}
	c := &Classifier{
		registry: registry,
		rolePHI:  defaultRolePolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ClassifyField returns the handling decision for a qualified field name
// ("entity.field"). Unknown fields return a NONE-level no-op result.
func (c *Classifier) ClassifyField(qualifiedName string) ClassificationResult {
	def, ok := c.registry.Lookup(qualifiedName)
	if !ok {
		c.recordMiss(qualifiedName)
		return ClassificationResult{Level: LevelNone}
	}
	return ClassificationResult{
		Level: def.Level,
		Handling: Handling{
			Encrypt: def.Encrypt,
			NoLog:   def.NoLog,
			NoML:    def.NoML,
		},
		RequiresAudit: def.Level.IsPHI(),
	}
}

// ValidateFieldAccess decides whether any of the caller's roles may read
// the field. Every role that can read PHI gets RequiresAudit=true; there is
// no role that bypasses auditing. Non-PHI fields are readable by anyone
// without audit.
func (c *Classifier) ValidateFieldAccess(qualifiedName string, roles []string) AccessDecision {
	result := c.ClassifyField(qualifiedName)
	if !result.Level.IsPHI() {
		return AccessDecision{Allowed: true, RequiresAudit: false}
	}
	for _, role := range roles {
		for _, level := range c.rolePHI[role] {
			if level == result.Level {
				return AccessDecision{Allowed: true, RequiresAudit: true}
			}
		}
	}
	return AccessDecision{Allowed: false, RequiresAudit: true}
}

// ClassifyObject walks the object's own keys (one level, no deep graph
// traversal) and returns the keys that are PHI under the given entity.
// Drives bulk encrypt/decrypt of resolver payloads.
func (c *Classifier) ClassifyObject(obj map[string]any, entity string) []string {
	var phiFields []string
	for key := range obj {
		def, ok := c.registry.LookupField(entity, key)
		if ok && def.Level.IsPHI() {
			phiFields = append(phiFields, key)
		}
	}
	return phiFields
}

func (c *Classifier) recordMiss(qualifiedName string) {
	if c.logger != nil {
		c.logger.Warn("unregistered field classified as NONE",
			"field", qualifiedName,
		)
	}
	if c.metrics != nil {
		entity := qualifiedName
		if i := strings.IndexByte(qualifiedName, '.'); i >= 0 {
			entity = qualifiedName[:i]
		}
		c.metrics.IncClassificationMiss(entity)
	}
}
