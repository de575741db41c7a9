// Package matcher maps matcher names to the weights assigned to the nodes they produce.
package matcher

import (
	"sort"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/fraudlink/internal/apperr"
	"github.com/starford/fraudlink/internal/models"
)

// Normalization modes applied by the extractor before a value becomes a node.
const (
	NormalizeNone  = ""
	NormalizeLower = "lower"
)

// Config is the per-matcher override read from configuration.
type Config struct {
	Confidence int    `yaml:"confidence" toml:"confidence" json:"confidence"`
	Importance int    `yaml:"importance" toml:"importance" json:"importance"`
	Normalize  string `yaml:"normalize" toml:"normalize" json:"normalize,omitempty"`
}

// Validate validates the matcher override.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Confidence, validation.Min(0), validation.Max(100)),
		validation.Field(&c.Importance, validation.Min(0), validation.Max(100)),
		validation.Field(&c.Normalize, validation.In(NormalizeNone, NormalizeLower)),
	)
}

// Registry is an immutable lookup of matcher weights. The zero value answers
// every lookup with the system default and is safe for concurrent use.
type Registry struct {
	overrides map[string]Config
	names     []string
}

// NewRegistry copies and validates the overrides.
func NewRegistry(overrides map[string]Config) (*Registry, error) {
	r := &Registry{overrides: make(map[string]Config, len(overrides))}
	for name, c := range overrides {
		if name == "" {
			return nil, apperr.Invalid("matchers", "matcher name is empty")
		}
		if err := c.Validate(); err != nil {
			return nil, apperr.Invalid("matchers."+name, err.Error())
		}
		r.overrides[name] = c
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

// ConfigFor returns the (confidence, importance) pair for nodes created by matcher.
func (r *Registry) ConfigFor(matcher string) (confidence, importance int) {
	if r != nil {
		if c, ok := r.overrides[matcher]; ok {
			return c.Confidence, c.Importance
		}
	}
	return models.DefaultConfidence, models.DefaultImportance
}

// Normalization returns the normalization mode configured for matcher.
func (r *Registry) Normalization(matcher string) string {
	if r == nil {
		return NormalizeNone
	}
	return r.overrides[matcher].Normalize
}

// Matchers returns the configured matcher names in sorted order.
func (r *Registry) Matchers() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Snapshot returns a copy of every configured override.
func (r *Registry) Snapshot() map[string]Config {
	out := make(map[string]Config)
	if r == nil {
		return out
	}
	for k, v := range r.overrides {
		out[k] = v
	}
	return out
}
