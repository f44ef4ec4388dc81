package models

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// DocumentChecksum computes the BLAKE2b-256 digest stored on KycDocument
// records when inline content is supplied at attach time.
func DocumentChecksum(content []byte) string {
	sum := blake2b.Sum256(content)
	return hex.EncodeToString(sum[:])
}
