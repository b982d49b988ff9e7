package signature

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// GenerateSecret creates a cryptographically random signing secret.
// Format: "whsec_" + 32 bytes hex = 70 characters total.
func GenerateSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("courier: failed to generate random secret: " + err.Error())
	}
	return "whsec_" + hex.EncodeToString(b)
}

// HashSecret derives the stored record for a subscriber secret.
// Format: "salt:hash" where salt is 8 random bytes hex and
// hash = hex(SHA256(salt || secret)). The plaintext secret is never stored.
func HashSecret(secret string) string {
	salt := make([]byte, 8)
	if _, err := rand.Read(salt); err != nil {
		panic("courier: failed to generate secret salt: " + err.Error())
	}
	saltHex := hex.EncodeToString(salt)
	sum := sha256.Sum256([]byte(saltHex + secret))
	return saltHex + ":" + hex.EncodeToString(sum[:])
}

// SigningKey extracts the derived signing key from a stored secret record.
// The key is the hash component of "salt:hash", the value issued to the
// subscriber once at registration, and the only key either side signs with.
// Returns an error for malformed records.
func SigningKey(record string) (string, error) {
	salt, hash, ok := strings.Cut(record, ":")
	if !ok || salt == "" || hash == "" {
		return "", fmt.Errorf("signature: malformed secret record")
	}
	if len(hash) != sha256.Size*2 {
		return "", fmt.Errorf("signature: malformed secret record: bad hash length %d", len(hash))
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return "", fmt.Errorf("signature: malformed secret record: %w", err)
	}
	return hash, nil
}
