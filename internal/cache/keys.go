package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Logical namespaces. Every key is "<namespace>:<...>" so flushes and
// hit-rate metrics can be scoped per namespace.
const (
	NamespaceQuery   = "query"
	NamespaceFeature = "feat"
	NamespaceEmbed   = "embed"
)

// Hash128 hashes the joined inputs with SHA-256 truncated to 128 bits.
// Stable across processes, so cache entries survive restarts.
func Hash128(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(h[:16])
}

// QueryKey keys a cached query response. The version tag folds in the
// active models and weight version, so a stale entry can never match.
func QueryKey(queryHash, versionTag string) string {
	return fmt.Sprintf("%s:%s:%s", NamespaceQuery, queryHash, versionTag)
}

// FeatureKey keys one candidate's assembled feature vector
func FeatureKey(chunkID string, schemaVersion int) string {
	return fmt.Sprintf("%s:%s:v%d", NamespaceFeature, chunkID, schemaVersion)
}

// EmbedKey keys a single-text embedding under the embedding model version
func EmbedKey(textHash string, modelVersion string) string {
	return fmt.Sprintf("%s:%s:%s", NamespaceEmbed, textHash, modelVersion)
}

// NamespaceOf extracts the namespace prefix of a key
func NamespaceOf(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}
