// Package graph resolves direct and transitive connections over the
// transaction/match-node graph. It is storage agnostic: any store.Reader,
// including the in-memory EdgeList, can feed it.
package graph

import "github.com/starford/fraudlink/internal/apperr"

// DefaultMaxDepth bounds exploration when the caller gives no depth.
const DefaultMaxDepth = 10

// Options controls a transitive resolution. Nil fields take their defaults.
type Options struct {
	MaxDepth      *int
	Limit         *int
	MinConfidence *int
}

// Int returns a pointer to v, for filling Options.
func Int(v int) *int { return &v }

// Bounds reports the effective depth and confidence bounds once defaults and
// clamping are applied.
func (o Options) Bounds() (maxDepth, minConfidence int, err error) {
	p, err := o.normalize()
	return p.maxDepth, p.minConfidence, err
}

type params struct {
	maxDepth      int
	minConfidence int
	limit         int
	bounded       bool
}

// normalize applies defaults and clamping. Negative depth or limit is rejected.
func (o Options) normalize() (params, error) {
	p := params{maxDepth: DefaultMaxDepth}

	if o.MaxDepth != nil {
		if *o.MaxDepth < 0 {
			return params{}, apperr.Invalid("max_depth", "must not be negative")
		}
		p.maxDepth = max(*o.MaxDepth, 1)
	}
	if o.MinConfidence != nil {
		p.minConfidence = min(max(*o.MinConfidence, 0), 100)
	}
	if o.Limit != nil {
		if *o.Limit < 0 {
			return params{}, apperr.Invalid("limit", "must not be negative")
		}
		p.limit = *o.Limit
		p.bounded = true
	}
	return p, nil
}
