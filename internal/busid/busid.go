// Package busid normalizes transmission bus identifiers. Upstream data
// carries the same bus under several spellings ("CHARRUA__220",
// "charrua_220", "Charrua 220", "CHARRUA_22O") and every store boundary
// must agree on one form.
package busid

import "strings"

// Canonical returns the canonical form of a bus identifier: upper case,
// single underscores, and the voltage suffix corrected where the source
// replaced the trailing zero with the letter O.
func Canonical(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.Join(strings.Fields(s), "_")
	s = strings.ReplaceAll(s, "-", "_")
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	if strings.HasSuffix(s, "_22O") {
		s = strings.TrimSuffix(s, "_22O") + "_220"
	}
	return s
}

// CanonicalAll maps Canonical over a list, dropping empty entries.
func CanonicalAll(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if c := Canonical(r); c != "" {
			out = append(out, c)
		}
	}
	return out
}
