package httpsig

import (
	"net/http"
	"slices"
)

// validateStrength enforces the minimum signed-set requirements. Each rule
// failure carries its own reason so the signer can tell which requirement
// was missed. Rules are checked in a fixed order; the first failure wins.
func validateStrength(method string, signed []string) *Error {
	hasDate := slices.Contains(signed, "date") || slices.Contains(signed, CreatedPseudo)
	if !hasDate {
		return newError(http.StatusUnauthorized,
			"signed headers must include the Date header or (created) pseudo-header")
	}

	hasScope := slices.Contains(signed, RequestTarget) || slices.Contains(signed, "digest")
	if !hasScope {
		return newError(http.StatusUnauthorized,
			"signed headers must include the Digest header or (request-target) pseudo-header")
	}

	if method == http.MethodGet && !slices.Contains(signed, "host") {
		return newError(http.StatusUnauthorized,
			"GET requests must have the Host header signed")
	}

	if method == http.MethodPost && !slices.Contains(signed, "digest") {
		return newError(http.StatusUnauthorized,
			"POST requests must have the Digest header signed")
	}

	return nil
}
