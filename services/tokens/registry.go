package tokens

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Token is a single-use capability to upload one submission.
type Token struct {
	Value    string
	IssuedAt time.Time
}

// Option customises a Registry.
type Option func(*Registry)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithGenerator replaces the UUIDv4 token generator.
func WithGenerator(gen func() string) Option {
	return func(r *Registry) {
		if gen != nil {
			r.generate = gen
		}
	}
}

// WithTTL makes tokens expire ttl after issuance. Zero keeps tokens valid
// until they are consumed or the process exits.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// Registry holds the live one-time tokens of one process.
type Registry struct {
	ttl      time.Duration
	now      func() time.Time
	generate func() string

	mu     sync.Mutex
	tokens map[string]time.Time
}

// NewRegistry returns an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		now:      time.Now,
		generate: func() string { return uuid.New().String() },
		tokens:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Issue creates a new live token. Expired tokens are pruned on the way.
func (r *Registry) Issue() Token {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.pruneLocked(now)

	value := r.generate()
	for _, taken := r.tokens[value]; taken; _, taken = r.tokens[value] {
		value = r.generate()
	}
	r.tokens[value] = now
	return Token{Value: value, IssuedAt: now}
}

// Valid reports whether value is live, without consuming it.
func (r *Registry) Valid(value string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	issued, ok := r.tokens[value]
	return ok && !r.expired(issued, r.now())
}

// Consume removes value if it is live. Exactly one of any number of
// concurrent callers for the same value observes true.
func (r *Registry) Consume(value string) bool {
	_, ok := r.Claim(value)
	return ok
}

// Claim is Consume returning the removed token, so a caller that fails later
// can hand it back with Restore.
func (r *Registry) Claim(value string) (Token, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	issued, ok := r.tokens[value]
	if !ok {
		return Token{}, false
	}
	delete(r.tokens, value)
	if r.expired(issued, r.now()) {
		return Token{}, false
	}
	return Token{Value: value, IssuedAt: issued}, true
}

// Restore returns a claimed token to the live set with its original issue time.
func (r *Registry) Restore(t Token) {
	if t.Value == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[t.Value] = t.IssuedAt
}

// Prune drops expired tokens and reports how many were removed.
func (r *Registry) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pruneLocked(r.now())
}

// Len returns the number of tokens currently held, expired ones included
// until the next prune.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

func (r *Registry) pruneLocked(now time.Time) int {
	if r.ttl <= 0 {
		return 0
	}
	removed := 0
	for value, issued := range r.tokens {
		if r.expired(issued, now) {
			delete(r.tokens, value)
			removed++
		}
	}
	return removed
}

func (r *Registry) expired(issued, now time.Time) bool {
	return r.ttl > 0 && now.Sub(issued) > r.ttl
}
