package signature

import (
	"crypto/hmac"
	"strings"
)

// Verify reports whether the presented signature matches the expected
// HMAC-SHA256 signature for the payload under the subscription's stored
// secret record. It strips the "sha256=" transport prefix before comparing
// and compares in constant time. Malformed records or payloads yield false,
// never an error: ingestion treats false as a client error.
func Verify(payload []byte, secretRecord, presented string) bool {
	key, err := SigningKey(secretRecord)
	if err != nil {
		return false
	}

	canonical, err := Canonicalize(payload)
	if err != nil {
		return false
	}

	expected := SignCanonical(canonical, key)
	got := strings.TrimPrefix(presented, TransportPrefix)
	want := strings.TrimPrefix(expected, TransportPrefix)

	return hmac.Equal([]byte(want), []byte(got))
}
