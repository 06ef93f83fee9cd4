// Package fingerprint derives content identities for uploaded payloads.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Size is the length of a Fingerprint in hex characters.
const Size = sha256.Size * 2

// Fingerprint is the lowercase hex SHA-256 digest of a payload. It depends on
// the bytes alone, never on filename or content type.
type Fingerprint string

func (f Fingerprint) String() string {
	return string(f)
}

// Of hashes data.
func Of(data []byte) Fingerprint {
	sum := sha256.Sum256(data)
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// Parse accepts a caller-supplied fingerprint in either case.
func Parse(s string) (Fingerprint, error) {
	if len(s) != Size {
		return "", fmt.Errorf("fingerprint must be %d hex characters, got %d", Size, len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("fingerprint is not hex: %w", err)
	}
	return Fingerprint(hex.EncodeToString(raw)), nil
}
