package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes. The version suffix allows a future
// change of encoding without colliding with old hashes.
const (
	DomainProjection = "boardreplica/projection/v1"
	DomainStore      = "boardreplica/store/v1"
)

// hashWithDomain computes SHA256(domain || 0x00 || data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash returns the hex SHA-256 of v's canonical encoding under domain.
func Hash(domain string, v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", domain, err)
	}
	return hashWithDomain(domain, data), nil
}

// HashBytes hashes already-canonical bytes under domain.
func HashBytes(domain string, data []byte) string {
	return hashWithDomain(domain, data)
}
