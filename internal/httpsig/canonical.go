package httpsig

import (
	"fmt"
	"net/http"
	"strings"
)

// buildSignedString reconstructs the exact canonical string the signer
// signed: one line per signed component, in the declared order, joined with
// "\n" and no trailing newline.
//
// (request-target) expands to the lowercased method and path. (created) and
// (expires) are only valid under hs2019 and require the matching parameter.
// Every other name is an HTTP header lookup (net/textproto canonical form);
// a header the request never carried contributes an empty value, matching
// the signer's literal declared set.
func buildSignedString(req *Request, params Params) (string, *Error) {
	signed := params.SignedHeaders()
	lines := make([]string, 0, len(signed))

	for _, name := range signed {
		switch name {
		case RequestTarget:
			lines = append(lines, fmt.Sprintf("%s: %s %s",
				RequestTarget, strings.ToLower(req.Method), req.Path))

		case CreatedPseudo:
			if params.Algorithm() != AlgorithmHS2019 {
				return "", newError(http.StatusUnauthorized,
					"(created) pseudo-header is only valid for hs2019")
			}
			v, ok := params["created"]
			if !ok || v == "" {
				return "", newError(http.StatusUnauthorized,
					"(created) pseudo-header signed but created parameter missing")
			}
			lines = append(lines, CreatedPseudo+": "+v)

		case ExpiresPseudo:
			if params.Algorithm() != AlgorithmHS2019 {
				return "", newError(http.StatusUnauthorized,
					"(expires) pseudo-header is only valid for hs2019")
			}
			v, ok := params["expires"]
			if !ok || v == "" {
				return "", newError(http.StatusUnauthorized,
					"(expires) pseudo-header signed but expires parameter missing")
			}
			lines = append(lines, ExpiresPseudo+": "+v)

		default:
			lines = append(lines, name+": "+req.Header.Get(name))
		}
	}

	return strings.Join(lines, "\n"), nil
}
