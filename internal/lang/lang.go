// Package lang canonicalizes language tags to their primary subtag.
package lang

import "strings"

// Normalize returns the lowercase primary subtag of an arbitrary language tag
// (e.g. "en" from "en-US", "es" from "ES_mx"). It returns "" for empty or
// whitespace-only input; absence is modeled as the empty string.
func Normalize(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return ""
	}
	code = strings.ReplaceAll(code, "_", "-")
	primary, _, _ := strings.Cut(code, "-")
	return primary
}
