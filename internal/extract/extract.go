// Package extract pulls matching fields out of raw transaction payloads.
package extract

import (
	"errors"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/starford/fraudlink/internal/matcher"
	"github.com/starford/fraudlink/internal/models"
)

// ErrInvalidPayload is returned for payloads that are not well-formed JSON.
var ErrInvalidPayload = errors.New("extract: payload is not valid JSON")

// Extractor evaluates every configured matcher name as a gjson path.
type Extractor struct {
	registry *matcher.Registry
}

// New creates an extractor over the registry's matchers.
func New(reg *matcher.Registry) *Extractor {
	return &Extractor{registry: reg}
}

// Fields returns the matching fields found in payload, sorted by matcher then
// value with duplicates removed. Missing paths, nulls, objects and blank
// strings yield nothing; arrays yield one field per scalar element.
func (e *Extractor) Fields(payload []byte) ([]models.MatchingField, error) {
	if !gjson.ValidBytes(payload) {
		return nil, ErrInvalidPayload
	}

	seen := make(map[models.MatchingField]struct{})
	var out []models.MatchingField
	add := func(name string, r gjson.Result) {
		v, ok := scalar(r)
		if !ok {
			return
		}
		if e.registry.Normalization(name) == matcher.NormalizeLower {
			v = strings.ToLower(v)
		}
		f := models.MatchingField{Matcher: name, Value: v}
		if _, dup := seen[f]; dup {
			return
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}

	for _, name := range e.registry.Matchers() {
		r := gjson.GetBytes(payload, name)
		if r.IsArray() {
			for _, el := range r.Array() {
				add(name, el)
			}
			continue
		}
		add(name, r)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Matcher != out[j].Matcher {
			return out[i].Matcher < out[j].Matcher
		}
		return out[i].Value < out[j].Value
	})
	return out, nil
}

func scalar(r gjson.Result) (string, bool) {
	switch r.Type {
	case gjson.String, gjson.Number, gjson.True, gjson.False:
		v := strings.TrimSpace(r.String())
		return v, v != ""
	default:
		return "", false
	}
}
