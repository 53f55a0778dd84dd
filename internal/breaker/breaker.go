// Package breaker provides a process-wide registry of per-key circuit
// breakers guarding outbound federation fetches. Keys are supplied by the
// caller (typically the verifying request's network origin), so one noisy
// caller's failures never short-circuit anyone else.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned when a call is skipped because the circuit is open.
var ErrOpen = errors.New("circuit open")

// Config controls breaker behaviour. Transient decides which errors count
// toward opening the circuit; everything else passes through untouched.
type Config struct {
	// Threshold is the number of consecutive qualifying failures that opens
	// the circuit. Defaults to 1.
	Threshold int
	// Cooloff is how long an open circuit short-circuits calls before
	// allowing a trial call. Defaults to 5 minutes.
	Cooloff time.Duration
	// Transient reports whether an error should trip the breaker. A nil
	// predicate counts every error.
	Transient func(error) bool
	// Now is the clock, overridable for tests.
	Now func() time.Time
	// OnOpen, if set, is called each time a circuit opens.
	OnOpen func(key string)
}

type circuit struct {
	failures int
	open     bool
	openedAt time.Time
}

// Registry tracks circuit state per key. Circuits are created lazily on
// first use and never removed; an open circuit expires via its cool-off.
type Registry struct {
	cfg Config

	mu       sync.Mutex
	circuits map[string]*circuit
}

func New(cfg Config) *Registry {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 1
	}
	if cfg.Cooloff <= 0 {
		cfg.Cooloff = 5 * time.Minute
	}
	if cfg.Transient == nil {
		cfg.Transient = func(error) bool { return true }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Registry{
		cfg:      cfg,
		circuits: make(map[string]*circuit),
	}
}

// Do runs fn under the circuit for key.
//
// If the circuit is open and its cool-off has not elapsed, fn is not called
// and an ErrOpen-wrapped failure is returned. A transient error from fn
// counts toward the threshold and is wrapped; any other error propagates
// unchanged and leaves circuit state alone. Success closes the circuit.
func (r *Registry) Do(key string, fn func() error) error {
	r.mu.Lock()
	c, ok := r.circuits[key]
	if !ok {
		c = &circuit{}
		r.circuits[key] = c
	}
	if c.open && r.cfg.Now().Sub(c.openedAt) < r.cfg.Cooloff {
		r.mu.Unlock()
		return fmt.Errorf("%w for %s", ErrOpen, key)
	}
	r.mu.Unlock()

	err := fn()
	if err == nil {
		r.mu.Lock()
		c.failures = 0
		c.open = false
		r.mu.Unlock()
		return nil
	}

	if !r.cfg.Transient(err) {
		return err
	}

	r.mu.Lock()
	c.failures++
	opened := false
	if c.failures >= r.cfg.Threshold {
		opened = !c.open
		c.open = true
		c.openedAt = r.cfg.Now()
	}
	r.mu.Unlock()

	if opened && r.cfg.OnOpen != nil {
		r.cfg.OnOpen(key)
	}
	return fmt.Errorf("suspended calls for %s: %w", key, err)
}
