// Package fingerprint computes content fingerprints for chunk deduplication.
//
// A fingerprint is a sha256 over a chunk's normalized text only. Source,
// owner and position are deliberately excluded so that identical content
// contributed by different users or documents resolves to the same
// fingerprint, and therefore to the same stored vector. This is the
// load-bearing property behind store-once deduplication.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// recordNamespace is the UUIDv5 namespace for vector record IDs. Fixed
// forever; changing it would orphan every stored vector.
var recordNamespace = uuid.MustParse("9c1db0a4-4c0f-4ea0-93d5-b17a2f6e8c21")

// Hash returns the hex-encoded sha256 fingerprint of normalized chunk text.
// Identical text always produces identical fingerprints.
func Hash(normalizedText string) string {
	sum := sha256.Sum256([]byte(normalizedText))
	return hex.EncodeToString(sum[:])
}

// RecordID derives the deterministic vector record ID for a content hash
// within an org index. The ID is a UUIDv5 over "{index}:{hash}", which keeps
// it stable across runs and valid as a vector store point ID. Two chunks
// with the same content hash in the same index always map to the same
// record.
func RecordID(indexName, contentHash string) string {
	return uuid.NewSHA1(recordNamespace, []byte(indexName+":"+contentHash)).String()
}
