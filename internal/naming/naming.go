// Package naming turns display names into identifiers that are safe to use
// as PostgreSQL table names, column names and GeoServer layer names.
package naming

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Unnamed is returned when a name has no usable characters.
const Unnamed = "unnamed"

var identifierRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// Normalize lower-cases raw, replaces every character outside [a-z0-9_]
// with an underscore, collapses underscore runs and trims them from both
// ends. The result is never empty and Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))

	lastUnderscore := false
	for _, r := range strings.ToLower(raw) {
		if !isNameRune(r) {
			r = '_'
		}
		if r == '_' {
			if lastUnderscore {
				continue
			}
			lastUnderscore = true
		} else {
			lastUnderscore = false
		}
		b.WriteRune(r)
	}

	out := strings.Trim(b.String(), "_")
	if out == "" {
		return Unnamed
	}
	return out
}

func isNameRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_'
}

// ValidIdentifier reports whether name is acceptable as a rename target:
// a letter followed by letters, digits or underscores.
func ValidIdentifier(name string) bool {
	return identifierRe.MatchString(name)
}

// WithPrefix normalizes prefix and name joined by an underscore.
// An empty prefix leaves the normalized name unchanged.
func WithPrefix(prefix, name string) string {
	if strings.TrimSpace(prefix) == "" {
		return Normalize(name)
	}
	return Normalize(prefix + "_" + name)
}

// StripExt returns the base name of a path without its extension, the raw
// material for a target name.
func StripExt(base string) string {
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		return base[:i]
	}
	return base
}

// SanitizeColumns normalizes attribute column names so they can be created
// alongside each other. Collisions, either between columns or with one of
// the reserved names, get a numeric suffix starting at _2.
func SanitizeColumns(names []string, reserved ...string) []string {
	taken := make(map[string]bool, len(names)+len(reserved))
	for _, r := range reserved {
		taken[Normalize(r)] = true
	}

	out := make([]string, len(names))
	for i, name := range names {
		base := Normalize(name)
		if base != "" && unicode.IsDigit(rune(base[0])) {
			base = "col_" + base
		}
		candidate := base
		for n := 2; taken[candidate]; n++ {
			candidate = base + "_" + strconv.Itoa(n)
		}
		taken[candidate] = true
		out[i] = candidate
	}
	return out
}
