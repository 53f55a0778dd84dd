package httpsig

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

// verifyBodyDigest checks the Digest header against a fresh SHA-256 of the
// raw request body. Callers only invoke it when "digest" is in the signed
// set. Mismatch reasons distinguish missing header, unsupported algorithms,
// invalid base64, wrong decoded length and plain mismatch; the digest
// values themselves are already public, so they appear in the reason for
// operator diagnosis.
func verifyBodyDigest(header http.Header, body []byte) *Error {
	digestHeader := header.Get("Digest")
	if digestHeader == "" {
		return newError(http.StatusUnauthorized, "Digest header missing")
	}

	var given string
	var offered []string
	found := false
	for _, part := range strings.Split(digestHeader, ",") {
		alg, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		if strings.EqualFold(alg, "sha-256") {
			given = value
			found = true
			break
		}
		offered = append(offered, alg)
	}
	if !found {
		return newError(http.StatusUnauthorized, fmt.Sprintf(
			"Digest header requires sha-256, offered algorithms: %s",
			strings.Join(offered, ", ")))
	}

	sum := sha256.Sum256(body)
	computed := base64.StdEncoding.EncodeToString(sum[:])
	if given == computed {
		return nil
	}

	decoded, err := base64.StdEncoding.DecodeString(given)
	if err != nil {
		return newError(http.StatusUnauthorized, "invalid base64 value in Digest header")
	}
	if len(decoded) != sha256.Size {
		return newError(http.StatusUnauthorized, fmt.Sprintf(
			"Digest value decodes to %d bytes, expected %d", len(decoded), sha256.Size))
	}
	return newError(http.StatusUnauthorized, fmt.Sprintf(
		"body digest mismatch: computed %s, given %s", computed, given))
}
