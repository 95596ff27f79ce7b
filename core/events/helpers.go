package events

import "strings"

// normalizeAsset canonicalizes asset identifiers so feed consumers can
// match on them without caring how callers cased the symbol.
func normalizeAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return ""
	}
	return strings.ToUpper(trimmed)
}
