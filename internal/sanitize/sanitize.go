// Package sanitize provides shared identifier sanitization for vector index names.
//
// Index names in the hosting vector store must match: ^[a-z0-9-]{1,64}$
// This package ensures all identifiers conform to this requirement.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxIndexNameLength is the maximum length for a full index name.
	// The hosting vector store rejects names longer than 64 characters.
	MaxIndexNameLength = 64

	// HashSuffixLength is the length of the hash suffix added to truncated names.
	// Format: -<8-char-hash> = 9 characters total
	HashSuffixLength = 9

	// DefaultIdentifier is used when sanitization produces an empty result.
	DefaultIdentifier = "default"
)

// Identifier sanitizes a string for use as an index name component.
//
// Rules applied:
//   - Converts to lowercase
//   - Replaces invalid characters with hyphens
//   - Collapses multiple hyphens
//   - Trims leading/trailing hyphens
//   - Returns DefaultIdentifier if result would be empty
//
// Examples:
//
//	"Acme Corp."   -> "acme-corp"
//	"my_org/team"  -> "my-org-team"
//	"" or "!!!"    -> "default"
func Identifier(s string) string {
	if s == "" {
		return DefaultIdentifier
	}

	s = strings.ToLower(s)

	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			result.WriteRune(r)
		} else {
			result.WriteRune('-')
		}
	}

	sanitized := result.String()
	for strings.Contains(sanitized, "--") {
		sanitized = strings.ReplaceAll(sanitized, "--", "-")
	}
	sanitized = strings.Trim(sanitized, "-")

	if sanitized == "" {
		return DefaultIdentifier
	}

	return sanitized
}

// truncateWithHash truncates a string to fit within MaxIndexNameLength,
// appending a hash suffix to preserve uniqueness.
//
// Format: <truncated>-<8-char-hash>
// Example: "prod-eu-very-long-org-name..." -> "prod-eu-very-long-or-a1b2c3d4"
func truncateWithHash(s string) string {
	hash := sha256.Sum256([]byte(s))
	hashSuffix := "-" + hex.EncodeToString(hash[:])[:8]

	maxBase := MaxIndexNameLength - HashSuffixLength
	truncated := s[:maxBase]
	truncated = strings.TrimRight(truncated, "-")

	return truncated + hashSuffix
}

// IndexName builds an org index name from its components.
//
// Format: {environment}-{environment_slug}-{org}-{datasource}-{version}
// Example: IndexName("prod", "eu1", "Acme Corp", "drive", "v2")
//
//	-> "prod-eu1-acme-corp-drive-v2"
//
// The result is guaranteed to be valid for vector store index names; names
// exceeding the store's length ceiling are truncated with a hash suffix so
// distinct inputs stay distinct.
func IndexName(environment, environmentSlug, org, datasource, version string) string {
	parts := []string{
		Identifier(environment),
		Identifier(environmentSlug),
		Identifier(org),
		Identifier(datasource),
		Identifier(version),
	}
	name := strings.Join(parts, "-")

	if len(name) > MaxIndexNameLength {
		name = truncateWithHash(name)
	}

	return name
}
