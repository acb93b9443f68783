package gateway

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// signPayload computes the X-VERIFY value for a request: the SHA-256 of the
// base64 payload concatenated with the request path and the salt key, with
// the salt index appended after a "###" separator.
func signPayload(base64Body, path, saltKey, saltIndex string) string {
	sum := sha256.Sum256([]byte(base64Body + path + saltKey))
	return hex.EncodeToString(sum[:]) + "###" + saltIndex
}

// verifySignature recomputes the webhook signature over the raw base64 body
// and compares it in constant time against the header value. Mismatches drop
// the notification without touching the ledger.
func verifySignature(header, base64Body, saltKey, saltIndex string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	expected := signPayload(base64Body, "", saltKey, saltIndex)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(header)) == 1
}
