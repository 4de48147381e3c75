// Package auth issues and validates the bearer tokens used by the
// development backend: short-lived HS256 access tokens and opaque,
// single-use refresh tokens that rotate on every exchange.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"attendance.org/internal/ids"
)

const (
	defaultIssuer     = "attendance"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 14 * 24 * time.Hour
	secretEnvVariable = "PUNCH_AUTH_SECRET"
)

// Claims carried by access tokens. Subject is the employee id.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenPair is what login and refresh hand back to the client.
type TokenPair struct {
	AccessToken     string    `json:"access_token"`
	RefreshToken    string    `json:"refresh_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
}

type refreshRecord struct {
	userID    string
	tokenHash string
	expiresAt time.Time
	revoked   bool
}

// Issuer mints and verifies tokens. Refresh tokens live in memory.
type Issuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time

	mu      sync.Mutex
	refresh map[string]*refreshRecord
}

type Option func(*Issuer)

func WithIssuer(name string) Option {
	return func(i *Issuer) {
		if name = strings.TrimSpace(name); name != "" {
			i.issuer = name
		}
	}
}

// WithAccessTTL sets the access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.accessTTL = ttl
		}
	}
}

func WithRefreshTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.refreshTTL = ttl
		}
	}
}

// WithNow overrides the time source; tests use it to expire tokens.
func WithNow(now func() time.Time) Option {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

func NewIssuer(secret []byte, opts ...Option) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, errMissingSecret
	}
	i := &Issuer{
		secret:     secret,
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
		refresh:    make(map[string]*refreshRecord),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// SecretFromEnv reads the HMAC secret from PUNCH_AUTH_SECRET.
func SecretFromEnv() ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(secretEnvVariable))
	if raw == "" {
		return nil, errMissingSecret
	}
	return []byte(raw), nil
}

// IssuePair mints a new access token and refresh token for userID.
func (i *Issuer) IssuePair(userID string) (TokenPair, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return TokenPair{}, ErrInvalidInput
	}
	now := i.now().UTC()
	access, exp, err := i.signAccess(userID, now)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := i.newRefresh(userID, now)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, AccessExpiresAt: exp}, nil
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// revoked; presenting it again fails.
func (i *Issuer) Refresh(refreshToken string) (TokenPair, error) {
	id, secret, err := splitRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, ErrInvalidToken
	}

	i.mu.Lock()
	rec, ok := i.refresh[id]
	if !ok || rec.revoked || i.now().After(rec.expiresAt) || !secureCompareHash(rec.tokenHash, secret) {
		i.mu.Unlock()
		return TokenPair{}, ErrInvalidToken
	}
	rec.revoked = true
	userID := rec.userID
	i.mu.Unlock()

	return i.IssuePair(userID)
}

// ParseAndValidate verifies signature, issuer and expiry of an access token.
func (i *Issuer) ParseAndValidate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	parsed, err := parser.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// IsExpired reports whether err came from an expired access token.
func IsExpired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}

func (i *Issuer) signAccess(userID string, now time.Time) (string, time.Time, error) {
	exp := now.Add(i.accessTTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

func (i *Issuer) newRefresh(userID string, now time.Time) (string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	id := ids.New()
	sum := sha256.Sum256([]byte(secret))

	i.mu.Lock()
	i.refresh[id] = &refreshRecord{
		userID:    userID,
		tokenHash: hex.EncodeToString(sum[:]),
		expiresAt: now.Add(i.refreshTTL),
	}
	i.mu.Unlock()
	return id + "." + secret, nil
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errMalformedRefresh
	}
	return parts[0], parts[1], nil
}

func secureCompareHash(expectedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
