// Package session answers whether a shopper is signed in and announces when
// that changes. The engine consults it before every intent and resets the cart
// when the session ends.
package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Transition is a change of session state.
type Transition int

const (
	BecameActive Transition = iota + 1
	BecameInactive
)

func (t Transition) String() string {
	switch t {
	case BecameActive:
		return "became-active"
	case BecameInactive:
		return "became-inactive"
	default:
		return "unknown"
	}
}

// Gate is the session contract the engine depends on.
type Gate interface {
	IsActive() bool
	// Subscribe registers fn for transitions and returns its unsubscribe func.
	Subscribe(fn func(Transition)) (unsubscribe func())
}

// ErrTokenExpired is returned by SetToken for a token already past its exp claim.
var ErrTokenExpired = errors.New("token expired")

// TokenGate is a Gate backed by the bearer token used against the cart service.
// JWT tokens become inactive once their exp claim passes; opaque tokens never
// expire on their own.
type TokenGate struct {
	mu      sync.Mutex
	token   string
	expires time.Time // zero when the token carries no exp
	active  bool

	nextID    int
	observers map[int]func(Transition)
	order     []int

	now func() time.Time
}

// Option configures a TokenGate.
type Option func(*TokenGate)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(g *TokenGate) { g.now = now }
}

// NewTokenGate returns an inactive gate.
func NewTokenGate(opts ...Option) *TokenGate {
	g := &TokenGate{
		observers: make(map[int]func(Transition)),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetToken starts (or refreshes) a session with raw as its bearer token.
// Emits BecameActive when the gate was inactive.
func (g *TokenGate) SetToken(raw string) error {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
	if raw == "" {
		return errors.New("empty token")
	}

	expires, err := expiryOf(raw)
	if err != nil {
		return err
	}
	if !expires.IsZero() && !g.now().Before(expires) {
		return ErrTokenExpired
	}

	g.mu.Lock()
	wasActive := g.active
	g.token = raw
	g.expires = expires
	g.active = true
	g.mu.Unlock()

	if !wasActive {
		g.emit(BecameActive)
	}
	return nil
}

// Clear ends the session. Emits BecameInactive when the gate was active.
func (g *TokenGate) Clear() {
	g.mu.Lock()
	wasActive := g.active
	g.token = ""
	g.expires = time.Time{}
	g.active = false
	g.mu.Unlock()

	if wasActive {
		g.emit(BecameInactive)
	}
}

// IsActive reports whether the session is live. An expired token flips the
// gate to inactive and emits BecameInactive once.
func (g *TokenGate) IsActive() bool {
	g.mu.Lock()
	if !g.active {
		g.mu.Unlock()
		return false
	}
	if g.expires.IsZero() || g.now().Before(g.expires) {
		g.mu.Unlock()
		return true
	}
	g.token = ""
	g.expires = time.Time{}
	g.active = false
	g.mu.Unlock()

	g.emit(BecameInactive)
	return false
}

// Token returns the bearer token for the cart service, empty when inactive.
func (g *TokenGate) Token() string {
	if !g.IsActive() {
		return ""
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.token
}

// ExpiresAt returns the token's exp claim, zero when unknown.
func (g *TokenGate) ExpiresAt() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.expires
}

// Subscribe implements Gate.
func (g *TokenGate) Subscribe(fn func(Transition)) func() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nextID++
	id := g.nextID
	g.observers[id] = fn
	g.order = append(g.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			delete(g.observers, id)
			for i, o := range g.order {
				if o == id {
					g.order = append(g.order[:i:i], g.order[i+1:]...)
					break
				}
			}
		})
	}
}

// emit runs observers without holding the lock so they may call back into the gate.
func (g *TokenGate) emit(t Transition) {
	g.mu.Lock()
	fns := make([]func(Transition), 0, len(g.order))
	for _, id := range g.order {
		fns = append(fns, g.observers[id])
	}
	g.mu.Unlock()

	for _, fn := range fns {
		fn(t)
	}
}

// expiryOf reads the exp claim of a JWT without verifying its signature; the
// cart service does that. Tokens that are not JWTs have no expiry.
func expiryOf(raw string) (time.Time, error) {
	if strings.Count(raw, ".") != 2 {
		return time.Time{}, nil
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, fmt.Errorf("parsing token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}
	return claims.ExpiresAt.Time, nil
}

var _ Gate = (*TokenGate)(nil)
