// Package actor models federation identities and resolves signature key
// identifiers to their owners' public keys.
package actor

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound means no actor exists for the given URI or handle.
	ErrNotFound = errors.New("actor not found")
	// ErrDomainBlocked means the actor's domain is administratively blocked.
	ErrDomainBlocked = errors.New("domain is blocked")
)

// Actor is the purported signer of an inbound request: a URI, the domain it
// lives on, and the public key inbound signatures are verified against.
type Actor struct {
	URI          string
	Username     string
	Domain       string
	Inbox        string
	PublicKeyPEM string
	PublicKey    *rsa.PublicKey
	Local        bool
	// FetchedAt is when the key was last fetched from the origin server.
	// Zero for local actors.
	FetchedAt time.Time
}

// AccountResolver resolves an "acct:user@domain" handle to an actor
// (webfinger-style lookup).
type AccountResolver interface {
	ResolveAccount(ctx context.Context, handle string) (*Actor, error)
}

// KeyFetcher fetches a remote actor's profile document and public key.
type KeyFetcher interface {
	FetchKey(ctx context.Context, keyURI string) (*Actor, error)
	// RefreshKey re-fetches the actor's key, bypassing any cache.
	RefreshKey(ctx context.Context, a *Actor) (*Actor, error)
}

// LocalStore is the persistent actor state: locally-owned actors plus a
// cache of remote actors and their keys.
type LocalStore interface {
	ActorForURI(ctx context.Context, uri string) (*Actor, error)
	SaveRemoteActor(ctx context.Context, a *Actor) error
}

// DomainPolicy is the administrative access-control check consulted before
// any network call.
type DomainPolicy interface {
	IsBlocked(ctx context.Context, domain string) (bool, error)
}

// ErrorKind classifies a remote fetch failure. Only the network-shaped
// kinds count as transient for circuit breaking.
type ErrorKind int

const (
	KindTransport ErrorKind = iota
	KindTimeout
	KindTLS
	KindUnexpectedResponse
	KindPrivateAddress
	KindHostValidation
)

// FetchError is a classified failure from a remote key or account fetch.
type FetchError struct {
	Kind ErrorKind
	URI  string
	Msg  string
}

func (e *FetchError) Error() string {
	if e.URI == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.URI, e.Msg)
}

func fetchErrorf(kind ErrorKind, uri, format string, args ...any) *FetchError {
	return &FetchError{Kind: kind, URI: uri, Msg: fmt.Sprintf(format, args...)}
}

// IsTransient reports whether err is a network-class fetch failure
// (timeout, TLS, transport). These are the only errors that trip the
// circuit breaker; unexpected responses and policy failures surface every
// time.
func IsTransient(err error) bool {
	var fe *FetchError
	if !errors.As(err, &fe) {
		return false
	}
	switch fe.Kind {
	case KindTransport, KindTimeout, KindTLS:
		return true
	default:
		return false
	}
}

// ParseRSAPublicKeyPEM decodes a PEM-encoded RSA public key in either PKIX
// ("PUBLIC KEY") or PKCS#1 ("RSA PUBLIC KEY") form.
func ParseRSAPublicKeyPEM(pemText string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	switch block.Type {
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing public key: %w", err)
		}
		rsaKey, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("unsupported public key type %T", pub)
		}
		return rsaKey, nil
	}
}
