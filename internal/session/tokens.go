package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"attendance.org/internal/audit"
	"attendance.org/internal/kv"
)

const tokensKey = "session/tokens"

// Tokens is an immutable snapshot of the signed-in session.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

func (t Tokens) SignedIn() bool { return t.AccessToken != "" }

// AccessExpiry reads the exp claim of the access token without verifying
// the signature. It is for display only; the server decides validity.
func (t Tokens) AccessExpiry() (time.Time, bool) {
	if t.AccessToken == "" {
		return time.Time{}, false
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(t.AccessToken, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Store owns the session tokens. It is the single writer; everything else
// reads snapshots.
type Store struct {
	mu      sync.RWMutex
	tokens  Tokens
	backend kv.Store
}

// NewStore returns an in-memory store holding t.
func NewStore(t Tokens) *Store {
	return &Store{tokens: t}
}

// OpenStore loads tokens persisted in backend and keeps writing changes
// back to it.
func OpenStore(ctx context.Context, backend kv.Store) (*Store, error) {
	s := &Store{backend: backend}
	raw, ok, err := backend.Get(ctx, tokensKey)
	if err != nil {
		return nil, err
	}
	if ok {
		if err := json.Unmarshal([]byte(raw), &s.tokens); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) Snapshot() Tokens {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens
}

// Set replaces the session. Persistence failures are audited; the
// in-memory session is still updated.
func (s *Store) Set(ctx context.Context, t Tokens) {
	s.mu.Lock()
	s.tokens = t
	s.mu.Unlock()
	s.persist(ctx, t)
}

// Clear drops both tokens together.
func (s *Store) Clear(ctx context.Context) {
	s.Set(ctx, Tokens{})
}

func (s *Store) persist(ctx context.Context, t Tokens) {
	if s.backend == nil {
		return
	}
	var err error
	if !t.SignedIn() && t.RefreshToken == "" {
		err = s.backend.Delete(ctx, tokensKey)
	} else {
		b, _ := json.Marshal(t)
		err = s.backend.Set(ctx, tokensKey, string(b))
	}
	if err != nil {
		_ = audit.LogEvent(ctx, "session.persist_failed", map[string]any{"error": err})
	}
}
