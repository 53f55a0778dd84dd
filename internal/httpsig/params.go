// Package httpsig verifies HTTP-signature (draft-cavage style) signed
// requests in a federated, server-to-server delivery protocol: it parses
// the Signature header, validates signing strength, time window and body
// digest, resolves the signer's public key, and checks the signature with
// a single refresh-and-retry when the cached key may have rotated.
package httpsig

import (
	"encoding/base64"
	"strconv"
	"strings"
)

// Accepted algorithm identifiers. hs2019 is the modern scheme; both map to
// RSASSA-PKCS1-v1_5 with SHA-256.
const (
	AlgorithmHS2019    = "hs2019"
	AlgorithmRSASHA256 = "rsa-sha256"
)

// Pseudo-headers: signed components that are not literal HTTP headers.
const (
	RequestTarget = "(request-target)"
	CreatedPseudo = "(created)"
	ExpiresPseudo = "(expires)"
)

// Params is the parsed Signature header parameter set.
type Params map[string]string

func (p Params) KeyID() string { return p["keyId"] }

// Algorithm returns the declared algorithm, defaulting to hs2019.
func (p Params) Algorithm() string {
	if v, ok := p["algorithm"]; ok && v != "" {
		return v
	}
	return AlgorithmHS2019
}

// Signature returns the decoded signature bytes.
func (p Params) Signature() ([]byte, error) {
	return base64.StdEncoding.DecodeString(p["signature"])
}

// SignedHeaders returns the ordered, lower-cased list of signed component
// names. When absent it defaults to the request-target pseudo-header under
// hs2019 and to the date header otherwise.
func (p Params) SignedHeaders() []string {
	v, ok := p["headers"]
	if !ok || v == "" {
		if p.Algorithm() == AlgorithmHS2019 {
			v = RequestTarget
		} else {
			v = "date"
		}
	}
	return strings.Fields(strings.ToLower(v))
}

// Created returns the (created) parameter as epoch seconds. ok is false
// when the parameter is absent; a present but non-numeric value is an
// error.
func (p Params) Created() (secs int64, ok bool, err error) {
	return p.epochParam("created")
}

// Expires returns the expires parameter as epoch seconds.
func (p Params) Expires() (secs int64, ok bool, err error) {
	return p.epochParam("expires")
}

func (p Params) epochParam(name string) (int64, bool, error) {
	v, ok := p[name]
	if !ok || v == "" {
		return 0, false, nil
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, true, err
	}
	return secs, true, nil
}
