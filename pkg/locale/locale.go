// Package locale maps application locale values to the canonical locale tags
// understood by the backend API.
package locale

import (
	"fmt"
	"strings"
)

// Tag is a canonical API locale tag sent as Accept-Language.
type Tag string

// Canonical tags supported by the backend.
const (
	EnglishUS    Tag = "en-us"
	PortugueseBR Tag = "pt-br"

	// DefaultTag is used whenever a locale value is not recognized.
	DefaultTag = EnglishUS
)

// String implements fmt.Stringer.
func (t Tag) String() string {
	return string(t)
}

// valuer is implemented by reactive wrappers that expose their current value.
type valuer interface {
	Value() string
}

// Resolver resolves raw locale values against a fixed mapping.
// A Resolver is immutable and safe for concurrent use.
type Resolver struct {
	mapping map[string]Tag
	def     Tag
}

// DefaultMapping returns the standard locale mapping.
func DefaultMapping() map[string]Tag {
	return map[string]Tag{
		"pt-br": PortugueseBR,
		"en-us": EnglishUS,
	}
}

// New creates a resolver for the given mapping and default tag.
// Mapping keys are normalized, so "pt_BR" and "pt-br" are the same key.
// An empty default falls back to DefaultTag.
func New(mapping map[string]Tag, def Tag) *Resolver {
	if def == "" {
		def = DefaultTag
	}

	m := make(map[string]Tag, len(mapping))
	for k, v := range mapping {
		if v == "" {
			continue
		}
		m[normalize(k)] = v
	}

	return &Resolver{mapping: m, def: def}
}

// Default returns a resolver using DefaultMapping and DefaultTag.
func Default() *Resolver {
	return New(DefaultMapping(), DefaultTag)
}

// Resolve returns the canonical tag for raw. It never fails: values that are
// nil, empty or unknown resolve to the default tag.
func (r *Resolver) Resolve(raw any) Tag {
	if tag, ok := r.mapping[normalize(coerce(raw))]; ok {
		return tag
	}
	return r.def
}

// DefaultTag returns the tag used for unrecognized values.
func (r *Resolver) DefaultTag() Tag {
	return r.def
}

// Known reports whether raw maps to a tag without falling back.
func (r *Resolver) Known(raw any) bool {
	_, ok := r.mapping[normalize(coerce(raw))]
	return ok
}

func coerce(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case Tag:
		return string(v)
	case valuer:
		return v.Value()
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func normalize(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	return strings.ReplaceAll(s, "_", "-")
}
