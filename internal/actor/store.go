package actor

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists actors (local and cached remote) and the blocked-domain
// list. It implements LocalStore and DomainPolicy.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ActorForURI returns the actor stored for uri, local or cached remote.
// Returns ErrNotFound when no row exists.
func (s *Store) ActorForURI(ctx context.Context, uri string) (*Actor, error) {
	return s.queryActor(ctx,
		`SELECT uri, username, domain, inbox, public_key_pem, local, COALESCE(fetched_at, 'epoch')
		 FROM actors WHERE uri = $1`, uri)
}

// LocalActorByUsername returns the locally-owned actor with the given
// username, or ErrNotFound.
func (s *Store) LocalActorByUsername(ctx context.Context, username string) (*Actor, error) {
	return s.queryActor(ctx,
		`SELECT uri, username, domain, inbox, public_key_pem, local, COALESCE(fetched_at, 'epoch')
		 FROM actors WHERE username = $1 AND local`, username)
}

func (s *Store) queryActor(ctx context.Context, query string, args ...any) (*Actor, error) {
	var a Actor
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&a.URI, &a.Username, &a.Domain, &a.Inbox, &a.PublicKeyPEM, &a.Local, &a.FetchedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying actor: %w", err)
	}

	if a.PublicKeyPEM != "" {
		key, err := ParseRSAPublicKeyPEM(a.PublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("stored key for %s: %w", a.URI, err)
		}
		a.PublicKey = key
	}
	return &a, nil
}

// SaveRemoteActor caches a fetched remote actor, replacing any previously
// cached key for the same URI.
func (s *Store) SaveRemoteActor(ctx context.Context, a *Actor) error {
	if a.Local {
		return fmt.Errorf("refusing to overwrite local actor %s", a.URI)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO actors (uri, username, domain, inbox, public_key_pem, local, fetched_at)
		 VALUES ($1, $2, $3, $4, $5, FALSE, $6)
		 ON CONFLICT (uri) DO UPDATE
		 SET username = EXCLUDED.username,
		     domain = EXCLUDED.domain,
		     inbox = EXCLUDED.inbox,
		     public_key_pem = EXCLUDED.public_key_pem,
		     fetched_at = EXCLUDED.fetched_at`,
		a.URI, a.Username, a.Domain, a.Inbox, a.PublicKeyPEM, a.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("saving remote actor: %w", err)
	}
	return nil
}

// CreateLocalActor registers a locally-owned actor.
func (s *Store) CreateLocalActor(ctx context.Context, a *Actor) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO actors (uri, username, domain, inbox, public_key_pem, local)
		 VALUES ($1, $2, $3, $4, $5, TRUE)`,
		a.URI, a.Username, a.Domain, a.Inbox, a.PublicKeyPEM,
	)
	if err != nil {
		return fmt.Errorf("creating local actor: %w", err)
	}
	return nil
}

// IsBlocked reports whether domain is administratively blocked.
func (s *Store) IsBlocked(ctx context.Context, domain string) (bool, error) {
	var blocked bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM blocked_domains WHERE domain = $1)", domain,
	).Scan(&blocked)
	if err != nil {
		return false, fmt.Errorf("querying blocked domains: %w", err)
	}
	return blocked, nil
}

// BlockDomain adds domain to the block list; blocking twice is a no-op.
func (s *Store) BlockDomain(ctx context.Context, domain string) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO blocked_domains (domain) VALUES ($1) ON CONFLICT DO NOTHING", domain,
	)
	if err != nil {
		return fmt.Errorf("blocking domain: %w", err)
	}
	return nil
}
