package httpsig

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/arbor-fed/arbor/internal/actor"
)

// Error is a terminal verification failure: a stable human-readable reason
// and the HTTP status the caller should respond with. 401 for everything
// except administratively blocked domains, which carry 403.
type Error struct {
	Code   int
	Reason string
}

func (e *Error) Error() string { return e.Reason }

func newError(code int, reason string) *Error {
	return &Error{Code: code, Reason: reason}
}

// Resolver maps a signature keyId to an actor and supports one forced key
// refresh when verification fails against a possibly rotated key.
type Resolver interface {
	Resolve(ctx context.Context, keyID, origin string) (*actor.Actor, error)
	Refresh(ctx context.Context, a *actor.Actor, origin string) (*actor.Actor, error)
	PossiblyStale(a *actor.Actor) bool
}

// Verifier authenticates inbound federation requests by their HTTP
// signature.
type Verifier struct {
	resolver Resolver
	logger   *slog.Logger
	now      func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithClock overrides the verifier's time source, for deterministic tests.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

func NewVerifier(resolver Resolver, logger *slog.Logger, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		resolver: resolver,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify runs the full verification sequence and returns the authenticated
// actor, or an *Error describing the rejection. Checks run strictly in
// order and short-circuit: the first failure decides the reason. Cheap,
// network-free checks (window, strength, digest) run before key resolution
// so a request with no chance of success never costs a fetch. At most one
// refresh-and-retry happens per request, bounding worst-case network calls
// to two.
func (v *Verifier) Verify(ctx context.Context, req *Request) (*actor.Actor, error) {
	raw := req.Header.Get("Signature")
	if raw == "" {
		return nil, v.reject(newError(http.StatusUnauthorized, "request not signed"))
	}

	params, err := ParseSignatureHeader(raw)
	if err != nil {
		return nil, v.reject(newError(http.StatusUnauthorized, err.Error()))
	}

	if params.KeyID() == "" || params["signature"] == "" {
		return nil, v.reject(newError(http.StatusUnauthorized,
			"incompatible request signature: keyId and signature are required"))
	}

	alg := params.Algorithm()
	if alg != AlgorithmHS2019 && alg != AlgorithmRSASHA256 {
		return nil, v.reject(newError(http.StatusUnauthorized, fmt.Sprintf(
			"unsupported signature algorithm %q (only hs2019 and rsa-sha256 are supported)", alg)))
	}

	if werr := validateTimeWindow(params, req.Header, v.now()); werr != nil {
		return nil, v.reject(werr)
	}

	signed := params.SignedHeaders()
	if serr := validateStrength(req.Method, signed); serr != nil {
		return nil, v.reject(serr)
	}

	if slices.Contains(signed, "digest") {
		if derr := verifyBodyDigest(req.Header, req.Body); derr != nil {
			return nil, v.reject(derr)
		}
	}

	sig, err := params.Signature()
	if err != nil {
		return nil, v.reject(newError(http.StatusUnauthorized,
			"invalid base64 value in signature parameter"))
	}

	keyID := params.KeyID()
	signer, err := v.resolver.Resolve(ctx, keyID, req.Origin)
	if err != nil {
		return nil, v.reject(resolutionError(keyID, err))
	}

	msg, berr := buildSignedString(req, params)
	if berr != nil {
		return nil, v.reject(berr)
	}

	if verifyRSASHA256(signer.PublicKey, msg, sig) == nil {
		return signer, nil
	}

	// First attempt failed. If the cached key is old enough that the
	// origin may have rotated it, refresh once and retry — exactly once.
	if v.resolver.PossiblyStale(signer) {
		fresh, rerr := v.resolver.Refresh(ctx, signer, req.Origin)
		if rerr == nil && fresh != nil && verifyRSASHA256(fresh.PublicKey, msg, sig) == nil {
			return fresh, nil
		}
	}

	return nil, v.reject(newError(http.StatusUnauthorized, fmt.Sprintf(
		"verification failed for %s using %s (RSASSA-PKCS1-v1_5 with SHA-256)", signer.URI, alg)))
}

func (v *Verifier) reject(e *Error) *Error {
	if v.logger != nil {
		v.logger.Debug("signature verification rejected", "reason", e.Reason, "status", e.Code)
	}
	return e
}

// resolutionError translates key-resolution failures into rejections:
// blocked domains carry 403, everything else 401 with the collaborator's
// message where it has one.
func resolutionError(keyID string, err error) *Error {
	if errors.Is(err, actor.ErrDomainBlocked) {
		return newError(http.StatusForbidden, err.Error())
	}
	if errors.Is(err, actor.ErrNotFound) {
		return newError(http.StatusUnauthorized,
			fmt.Sprintf("public key not found for key %s", keyID))
	}
	return newError(http.StatusUnauthorized, err.Error())
}

func verifyRSASHA256(pub *rsa.PublicKey, msg string, sig []byte) error {
	if pub == nil {
		return errors.New("signer has no public key")
	}
	sum := sha256.Sum256([]byte(msg))
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, sum[:], sig)
}
