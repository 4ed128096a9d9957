package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for hashed identities.
// Version suffix enables future algorithm migration.
const (
	DomainSnapshot = "pcx/snapshot/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SnapshotHash hashes a record's persistent state: its fields plus the keys
// of its TO_ONE links. Two states hash equal iff their canonical forms match.
func SnapshotHash(fields IRObject, links map[string]RecordKey) (string, error) {
	linkObj := make(IRObject, len(links))
	for name, key := range links {
		if key.IsZero() {
			linkObj[name] = IRNull{}
			continue
		}
		linkObj[name] = IRString(key.String())
	}

	canonical, err := MarshalCanonical(IRObject{
		"fields": fields,
		"links":  linkObj,
	})
	if err != nil {
		return "", fmt.Errorf("SnapshotHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainSnapshot, canonical), nil
}
