package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestIssuer(t *testing.T) (*Issuer, *stepClock) {
	t.Helper()
	clk := &stepClock{now: time.Now().UTC()}
	iss, err := NewIssuer([]byte("test-secret"), WithAccessTTL(time.Minute), WithNow(clk.Now))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	return iss, clk
}

func TestIssueAndValidate(t *testing.T) {
	iss, _ := newTestIssuer(t)

	pair, err := iss.IssuePair("emp-42")
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	claims, err := iss.ParseAndValidate(pair.AccessToken)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "emp-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Issuer != defaultIssuer {
		t.Fatalf("unexpected issuer: %s", claims.Issuer)
	}
}

func TestAccessTokenExpires(t *testing.T) {
	iss, clk := newTestIssuer(t)

	pair, err := iss.IssuePair("emp-42")
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	clk.Advance(2 * time.Minute)

	_, err = iss.ParseAndValidate(pair.AccessToken)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if !IsExpired(err) {
		t.Fatalf("expected expiry to be detectable, got %v", err)
	}
}

func TestRejectsForeignSignature(t *testing.T) {
	iss, _ := newTestIssuer(t)
	other, err := NewIssuer([]byte("other-secret"))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	pair, err := other.IssuePair("emp-42")
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	if _, err := iss.ParseAndValidate(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRefreshRotates(t *testing.T) {
	iss, _ := newTestIssuer(t)

	first, err := iss.IssuePair("emp-7")
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	second, err := iss.Refresh(first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}
	claims, err := iss.ParseAndValidate(second.AccessToken)
	if err != nil || claims.Subject != "emp-7" {
		t.Fatalf("refreshed access token invalid: %v", err)
	}

	if _, err := iss.Refresh(first.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("reused refresh token should fail, got %v", err)
	}
	for _, bad := range []string{"", "nodot", "a.b.c", first.RefreshToken + "x"} {
		if _, err := iss.Refresh(bad); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("Refresh(%q) expected ErrInvalidToken, got %v", bad, err)
		}
	}
}

func TestDirectoryAuthenticate(t *testing.T) {
	dir := NewDirectory()
	if err := dir.Add("Asha@Example.com", "emp-1", "s3cret"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	id, err := dir.Authenticate("asha@example.com", "s3cret")
	if err != nil || id != "emp-1" {
		t.Fatalf("Authenticate = %q, %v", id, err)
	}
	if _, err := dir.Authenticate("asha@example.com", "wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := dir.Authenticate("nobody@example.com", "s3cret"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := ContextWithUser(context.Background(), " emp-7 ")
	id, ok := UserIDFromContext(ctx)
	if !ok || id != "emp-7" {
		t.Fatalf("unexpected user id: %q, ok=%v", id, ok)
	}
	if _, ok := UserIDFromContext(context.Background()); ok {
		t.Fatal("expected no user in empty context")
	}
	ctx = ContextWithToken(ctx, "tok")
	if tok, ok := TokenFromContext(ctx); !ok || tok != "tok" {
		t.Fatalf("unexpected token: %q", tok)
	}
}
