package actor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/arbor-fed/arbor/internal/breaker"
)

// ResolverConfig wires the resolver's collaborators.
type ResolverConfig struct {
	// LocalDomain is the domain this server owns; URIs on it never trigger
	// a remote fetch.
	LocalDomain string
	Store       LocalStore
	Accounts    AccountResolver
	Fetcher     KeyFetcher
	Policy      DomainPolicy
	Breakers    *breaker.Registry
	// KeyMaxAge is how old a cached remote key may get before a failed
	// verification is allowed one refresh-and-retry.
	KeyMaxAge time.Duration
	// Now is the clock, overridable for tests.
	Now func() time.Time
}

// Resolver maps signature key identifiers to actors. Every call that may
// cross the network runs under the circuit breaker keyed by the verifying
// caller's network origin.
type Resolver struct {
	cfg ResolverConfig
}

func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.KeyMaxAge <= 0 {
		cfg.KeyMaxAge = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Resolver{cfg: cfg}
}

// Resolve maps keyID to an actor. Two shapes are understood: an
// "acct:user@domain" handle, and a key URI (whose fragment, e.g.
// "#main-key", points inside the actor document and is dropped).
func (r *Resolver) Resolve(ctx context.Context, keyID, origin string) (*Actor, error) {
	if handle, ok := strings.CutPrefix(keyID, "acct:"); ok {
		return r.resolveHandle(ctx, handle, origin)
	}
	return r.resolveURI(ctx, keyID, origin)
}

func (r *Resolver) resolveHandle(ctx context.Context, handle, origin string) (*Actor, error) {
	_, domain, ok := strings.Cut(handle, "@")
	if !ok || domain == "" {
		return nil, fmt.Errorf("malformed account handle %q: %w", handle, ErrNotFound)
	}
	if err := r.checkDomain(ctx, domain); err != nil {
		return nil, err
	}

	var a *Actor
	err := r.cfg.Breakers.Do(origin, func() error {
		found, err := r.cfg.Accounts.ResolveAccount(ctx, handle)
		if err != nil {
			return err
		}
		a = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.cache(ctx, a)
	return a, nil
}

func (r *Resolver) resolveURI(ctx context.Context, keyID, origin string) (*Actor, error) {
	// The key fragment addresses a key inside the actor document.
	uri, _, _ := strings.Cut(keyID, "#")

	u, err := url.Parse(uri)
	if err != nil || u.Hostname() == "" {
		return nil, fmt.Errorf("malformed key URI %q: %w", keyID, ErrNotFound)
	}
	if err := r.checkDomain(ctx, u.Hostname()); err != nil {
		return nil, err
	}

	// Local state first: locally-owned actors and previously cached
	// remote keys.
	a, err := r.cfg.Store.ActorForURI(ctx, uri)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if u.Hostname() == r.cfg.LocalDomain {
		// Never fetch our own domain.
		return nil, ErrNotFound
	}

	var fetched *Actor
	err = r.cfg.Breakers.Do(origin, func() error {
		found, err := r.cfg.Fetcher.FetchKey(ctx, uri)
		if err != nil {
			return err
		}
		fetched = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.cache(ctx, fetched)
	return fetched, nil
}

// Refresh forces a re-fetch of the actor's key, bypassing the cache. It is
// invoked at most once per verification, when the first signature check
// fails against a possibly rotated key.
func (r *Resolver) Refresh(ctx context.Context, a *Actor, origin string) (*Actor, error) {
	if a.Local {
		return a, nil
	}
	if err := r.checkDomain(ctx, a.Domain); err != nil {
		return nil, err
	}

	var fresh *Actor
	err := r.cfg.Breakers.Do(origin, func() error {
		found, err := r.cfg.Fetcher.RefreshKey(ctx, a)
		if err != nil {
			return err
		}
		fresh = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.cache(ctx, fresh)
	return fresh, nil
}

// PossiblyStale reports whether the actor's cached key is old enough that
// the origin may have rotated it since the last fetch.
func (r *Resolver) PossiblyStale(a *Actor) bool {
	if a.Local {
		return false
	}
	return a.FetchedAt.IsZero() || r.cfg.Now().Sub(a.FetchedAt) > r.cfg.KeyMaxAge
}

func (r *Resolver) checkDomain(ctx context.Context, domain string) error {
	blocked, err := r.cfg.Policy.IsBlocked(ctx, domain)
	if err != nil {
		return fmt.Errorf("checking domain policy for %s: %w", domain, err)
	}
	if blocked {
		return fmt.Errorf("%s: %w", domain, ErrDomainBlocked)
	}
	return nil
}

// cache is best effort: a failed write never fails the verification that
// triggered the fetch.
func (r *Resolver) cache(ctx context.Context, a *Actor) {
	if a == nil || a.Local {
		return
	}
	_ = r.cfg.Store.SaveRemoteActor(ctx, a)
}
