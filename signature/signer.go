// Package signature provides HMAC-SHA256 webhook payload signing and
// verification over a canonical JSON encoding.
//
// The subscriber-facing contract: the payload is canonicalized (object keys
// sorted lexicographically, compact separators; see Canonicalize), then
// signed with HMAC-SHA256 using the derived signing key issued to the
// subscriber at registration. Signatures travel as "sha256=<hex>" in the
// X-Hub-Signature-256 header.
//
// The engine never persists the plaintext secret; it stores "salt:hash"
// where hash = hex(SHA256(salt || secret)). That hash is the signing key on
// both sides, so verification reconstructs the expected signature from the
// stored record alone. There is no fallback key of any kind: a payload
// verifies against its own subscription's record or not at all.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// TransportPrefix is the algorithm prefix carried on the wire.
const TransportPrefix = "sha256="

// Sign generates the HMAC-SHA256 signature for the given JSON payload
// using the derived signing key. Returns "sha256=<hex>".
func Sign(payload []byte, key string) (string, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}
	return SignCanonical(canonical, key), nil
}

// SignCanonical signs bytes that are already in canonical form.
func SignCanonical(canonical []byte, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(canonical)
	return TransportPrefix + hex.EncodeToString(mac.Sum(nil))
}
