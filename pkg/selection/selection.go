// Package selection evaluates stream/field selection rules against a
// discovered catalog. Rules are ordered glob patterns: `stream.field`
// includes matching pairs, `!pattern` suppresses streams or fields.
// Exclusions always win, regardless of their position in the list.
package selection

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/meltworks/melt/pkg/singer"
)

// Rule is a single parsed selection pattern.
type Rule struct {
	Raw     string
	Stream  string
	Field   string
	Exclude bool
}

// ParseRule parses one pattern. Inclusions take the form `stream`,
// `stream.field`, `*.*` etc; exclusions are prefixed with `!`.
func ParseRule(raw string) (Rule, error) {
	pattern := strings.TrimSpace(raw)
	if pattern == "" {
		return Rule{}, fmt.Errorf("empty selection rule")
	}

	r := Rule{Raw: raw}
	if strings.HasPrefix(pattern, "!") {
		r.Exclude = true
		pattern = pattern[1:]
		if pattern == "" {
			return Rule{}, fmt.Errorf("exclusion rule %q has no pattern", raw)
		}
	}

	parts := strings.SplitN(pattern, ".", 2)
	r.Stream = parts[0]
	if len(parts) == 2 {
		r.Field = parts[1]
	}
	if r.Stream == "" {
		return Rule{}, fmt.Errorf("selection rule %q has no stream pattern", raw)
	}
	return r, nil
}

// ParseRules parses an ordered rule list.
func ParseRules(raw []string) ([]Rule, error) {
	rules := make([]Rule, 0, len(raw))
	for _, s := range raw {
		r, err := ParseRule(s)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// Set is the resolved selection: stream name to the set of selected
// field names. A nil field set means the stream is selected whole,
// without field granularity.
type Set map[string]map[string]bool

// Streams returns the selected stream names, sorted.
func (s Set) Streams() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsStreamSelected reports whether any part of the stream is selected.
func (s Set) IsStreamSelected(stream string) bool {
	_, ok := s[stream]
	return ok
}

// IsFieldSelected reports whether a specific field of a stream is
// selected. Streams selected without field granularity include all
// their fields.
func (s Set) IsFieldSelected(stream, field string) bool {
	fields, ok := s[stream]
	if !ok {
		return false
	}
	if fields == nil {
		return true
	}
	return fields[field]
}

func match(pattern, name string) bool {
	if pattern == "*" || pattern == name {
		return true
	}
	ok, err := filepath.Match(pattern, name)
	return err == nil && ok
}

// Apply resolves the rule list against a catalog. Inclusions are
// unioned in order; exclusions are then applied as a suppression layer
// over the whole result, so `['*.*', '!jobs']` and `['!jobs', '*.*']`
// resolve identically.
func Apply(rules []Rule, catalog *singer.Catalog) Set {
	selected := Set{}

	for _, r := range rules {
		if r.Exclude {
			continue
		}
		for _, stream := range catalog.Streams {
			if !match(r.Stream, stream.Name) {
				continue
			}
			existing, ok := selected[stream.Name]

			// Stream-level inclusion, or a stream whose schema carries
			// no field information: selected whole.
			if r.Field == "" || len(stream.Fields()) == 0 {
				selected[stream.Name] = nil
				continue
			}
			if ok && existing == nil {
				// Already selected whole; a narrower inclusion is a no-op.
				continue
			}
			if existing == nil {
				existing = map[string]bool{}
				selected[stream.Name] = existing
			}
			for _, f := range stream.Fields() {
				if match(r.Field, f) {
					existing[f] = true
				}
			}
		}
	}

	for _, r := range rules {
		if !r.Exclude {
			continue
		}
		if r.Field == "" {
			// A bare `!name` removes whole streams, even when they were
			// included at field granularity.
			for stream := range selected {
				if match(r.Stream, stream) {
					delete(selected, stream)
				}
			}
			continue
		}
		for stream, fields := range selected {
			if !match(r.Stream, stream) {
				continue
			}
			if fields == nil {
				// Materialize the field set from the catalog before
				// suppressing individual fields.
				cs := catalog.Stream(stream)
				if cs == nil {
					continue
				}
				fields = map[string]bool{}
				for _, f := range cs.Fields() {
					fields[f] = true
				}
				selected[stream] = fields
			}
			for f := range fields {
				if match(r.Field, f) {
					delete(fields, f)
				}
			}
		}
	}

	return selected
}
