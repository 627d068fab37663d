// Package filter defines the filter data model shared by the listing state
// machine, the URL codec, and the query compiler.
package filter

import (
	"sort"
	"strconv"
	"strings"
)

// Name identifies a recognized filter key. Unknown keys are rejected at the
// boundary so the compiler only ever sees this closed set.
type Name string

const (
	Tags        Name = "tags"
	Author      Name = "author"
	Mentions    Name = "mentions"
	Search      Name = "search"
	OnlyReplies Name = "onlyReplies"

	TagLogic      Name = "tagLogic"
	AuthorLogic   Name = "authorLogic"
	MentionsLogic Name = "mentionsLogic"
	SearchLogic   Name = "searchLogic"
	GlobalLogic   Name = "globalLogic"

	Content  Name = "content"
	Title    Name = "title"
	URL      Name = "url"
	DateFrom Name = "dateFrom"
	DateTo   Name = "dateTo"
)

const (
	LogicAnd = "AND"
	LogicOr  = "OR"
)

var multiValued = map[Name]bool{
	Tags:     true,
	Author:   true,
	Mentions: true,
}

var known = map[Name]bool{
	Tags: true, Author: true, Mentions: true, Search: true, OnlyReplies: true,
	TagLogic: true, AuthorLogic: true, MentionsLogic: true, SearchLogic: true, GlobalLogic: true,
	Content: true, Title: true, URL: true, DateFrom: true, DateTo: true,
}

// Known reports whether name is a recognized filter key.
func Known(name Name) bool { return known[name] }

// MultiValued reports whether a filter type may carry several entries.
func MultiValued(name Name) bool { return multiValued[name] }

// IsLogic reports whether name is one of the AND/OR combinator keys.
func IsLogic(name Name) bool {
	switch name {
	case TagLogic, AuthorLogic, MentionsLogic, SearchLogic, GlobalLogic:
		return true
	}
	return false
}

// NormalizeLogic maps a raw combinator value onto "AND"/"OR", falling back to
// def for anything else.
func NormalizeLogic(value, def string) string {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case LogicAnd:
		return LogicAnd
	case LogicOr:
		return LogicOr
	}
	return def
}

// Filter is one active {name, value} pair narrowing the submission list.
type Filter struct {
	Name  Name
	Value string
}

// Set is an ordered collection of filters. Multi-valued types (tags, author,
// mentions) may appear several times; every other type is a singleton where
// adding replaces. A set never holds two identical (name, value) entries.
type Set struct {
	entries []Filter
}

// NewSet builds a set from the given filters, applying the same
// normalization and dedup rules as Add.
func NewSet(filters ...Filter) Set {
	var s Set
	for _, f := range filters {
		s.Add(f)
	}
	return s
}

// Len returns the number of entries.
func (s Set) Len() int { return len(s.entries) }

// Entries returns a copy of the entries in insertion order.
func (s Set) Entries() []Filter {
	out := make([]Filter, len(s.entries))
	copy(out, s.entries)
	return out
}

// Clone returns an independent copy of the set.
func (s Set) Clone() Set {
	return Set{entries: s.Entries()}
}

// Add inserts a filter. Tag values are normalized and sanitized first; an
// identical (name, value) pair is a no-op; singleton types replace their
// existing entry. Returns true when the set changed.
func (s *Set) Add(f Filter) bool {
	if !known[f.Name] {
		return false
	}
	f.Value = strings.TrimSpace(f.Value)
	if f.Name == Tags {
		f.Value = NormalizeTag(f.Value)
	}
	if IsLogic(f.Name) {
		def := LogicOr
		if f.Name == GlobalLogic {
			def = LogicAnd
		}
		f.Value = NormalizeLogic(f.Value, def)
	}
	if f.Value == "" {
		return false
	}
	for _, existing := range s.entries {
		if existing.Name == f.Name && existing.Value == f.Value {
			return false
		}
	}
	if !multiValued[f.Name] {
		for i, existing := range s.entries {
			if existing.Name == f.Name {
				s.entries[i].Value = f.Value
				return true
			}
		}
	}
	s.entries = append(s.entries, f)
	return true
}

// AddAll applies Add for each filter and reports whether any entry changed.
func (s *Set) AddAll(filters []Filter) bool {
	changed := false
	for _, f := range filters {
		if s.Add(f) {
			changed = true
		}
	}
	return changed
}

// Remove drops every entry with the given name. Returns true when the set
// changed.
func (s *Set) Remove(name Name) bool {
	kept := s.entries[:0]
	changed := false
	for _, f := range s.entries {
		if f.Name == name {
			changed = true
			continue
		}
		kept = append(kept, f)
	}
	s.entries = kept
	return changed
}

// RemoveValue drops a single value for the given name. For comma-composable
// types the value may live inside a joined entry; that one value is stripped
// out and the entry removed entirely once empty.
func (s *Set) RemoveValue(name Name, value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return s.Remove(name)
	}
	kept := s.entries[:0]
	changed := false
	for _, f := range s.entries {
		if f.Name != name {
			kept = append(kept, f)
			continue
		}
		if f.Value == value {
			changed = true
			continue
		}
		if multiValued[name] && strings.Contains(f.Value, ",") {
			parts := splitTrimmed(f.Value)
			remaining := parts[:0]
			for _, p := range parts {
				if p == value {
					changed = true
					continue
				}
				remaining = append(remaining, p)
			}
			if len(remaining) == 0 {
				continue
			}
			f.Value = strings.Join(remaining, ",")
		}
		kept = append(kept, f)
	}
	s.entries = kept
	return changed
}

// RemoveTag drops a tag entry, matching either the "#tag" or bare "tag"
// representation.
func (s *Set) RemoveTag(tag string) bool {
	tag = strings.TrimSpace(tag)
	bare := strings.TrimPrefix(tag, "#")
	if bare == "" {
		return false
	}
	changed := s.RemoveValue(Tags, "#"+bare)
	if s.RemoveValue(Tags, bare) {
		changed = true
	}
	return changed
}

// Update replaces the value of an existing entry with the given name, or
// appends one when absent. Used for singleton toggles such as logic switches.
func (s *Set) Update(name Name, value string) bool {
	for i, f := range s.entries {
		if f.Name == name {
			updated := Filter{Name: name, Value: value}
			if name == Tags {
				updated.Value = NormalizeTag(updated.Value)
			}
			if IsLogic(name) {
				def := LogicOr
				if name == GlobalLogic {
					def = LogicAnd
				}
				updated.Value = NormalizeLogic(updated.Value, def)
			}
			if updated.Value == "" || updated.Value == f.Value {
				return false
			}
			s.entries[i] = updated
			return true
		}
	}
	return s.Add(Filter{Name: name, Value: value})
}

// Clear empties the set.
func (s *Set) Clear() {
	s.entries = nil
}

// Has reports whether an entry with the given name exists; when value is
// non-empty the match is exact on (name, value).
func (s Set) Has(name Name, value string) bool {
	for _, f := range s.entries {
		if f.Name != name {
			continue
		}
		if value == "" || f.Value == value {
			return true
		}
	}
	return false
}

// Values returns every value recorded for the given name, splitting joined
// entries for the comma-composable types.
func (s Set) Values(name Name) []string {
	var out []string
	for _, f := range s.entries {
		if f.Name != name {
			continue
		}
		if multiValued[name] && strings.Contains(f.Value, ",") {
			out = append(out, splitTrimmed(f.Value)...)
			continue
		}
		out = append(out, f.Value)
	}
	return out
}

// First returns the value of the first entry with the given name.
func (s Set) First(name Name) (string, bool) {
	for _, f := range s.entries {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Logic resolves the combinator for a logic key, applying the documented
// defaults: OR within a filter type, AND across types.
func (s Set) Logic(name Name) string {
	def := LogicOr
	if name == GlobalLogic {
		def = LogicAnd
	}
	value, ok := s.First(name)
	if !ok {
		return def
	}
	return NormalizeLogic(value, def)
}

// Signature returns a stable order-independent representation of the set,
// used for request dedup keys.
func (s Set) Signature() string {
	parts := make([]string, 0, len(s.entries))
	for _, f := range s.entries {
		parts = append(parts, string(f.Name)+":"+f.Value)
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

// NormalizeTag trims, sanitizes, and prefixes a tag value with '#'.
// Characters outside [a-zA-Z0-9_-] are dropped silently; a value with
// nothing left collapses to the empty string.
func NormalizeTag(tag string) string {
	bare := SanitizeTag(strings.TrimPrefix(strings.TrimSpace(tag), "#"))
	if bare == "" {
		return ""
	}
	return "#" + bare
}

// SanitizeTag strips every character outside [a-zA-Z0-9_-].
func SanitizeTag(tag string) string {
	var b strings.Builder
	for _, r := range tag {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParseAuthorToken resolves an author/mentions value into a numeric user id.
// Accepts both the "username|userID" pair format and a bare numeric id.
func ParseAuthorToken(token string) (int64, bool) {
	token = strings.TrimSpace(token)
	if i := strings.IndexByte(token, '|'); i >= 0 {
		token = token[i+1:]
	}
	id, err := strconv.ParseInt(token, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// MentionUsername extracts the username half of an author/mentions token.
func MentionUsername(token string) string {
	token = strings.TrimSpace(token)
	if i := strings.IndexByte(token, '|'); i >= 0 {
		return token[:i]
	}
	return token
}

func splitTrimmed(joined string) []string {
	raw := strings.Split(joined, ",")
	out := raw[:0]
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
