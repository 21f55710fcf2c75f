// Package auth issues and verifies the access, refresh and reset tokens and
// hashes passwords.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind distinguishes the three token classes. Each kind has its own secret.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
	KindReset   Kind = "reset"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the verified content of a token.
type Claims struct {
	Kind      Kind
	Subject   string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Remaining returns how long the token stays valid after now.
func (c Claims) Remaining(now time.Time) time.Duration {
	return c.ExpiresAt.Sub(now)
}

// TokenConfig holds secrets and lifetimes for each token kind.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	ResetSecret   string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	ResetTTL      time.Duration
}

// Tokens signs and verifies HS256 JWTs.
type Tokens struct {
	secrets map[Kind][]byte
	ttls    map[Kind]time.Duration
	now     func() time.Time
}

// NewTokens constructs a Tokens from cfg. All three secrets are required.
func NewTokens(cfg TokenConfig) (*Tokens, error) {
	if strings.TrimSpace(cfg.AccessSecret) == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if strings.TrimSpace(cfg.RefreshSecret) == "" {
		return nil, errors.New("REFRESH_SECRET is required")
	}
	if strings.TrimSpace(cfg.ResetSecret) == "" {
		return nil, errors.New("RESET_SECRET is required")
	}

	return &Tokens{
		secrets: map[Kind][]byte{
			KindAccess:  []byte(cfg.AccessSecret),
			KindRefresh: []byte(cfg.RefreshSecret),
			KindReset:   []byte(cfg.ResetSecret),
		},
		ttls: map[Kind]time.Duration{
			KindAccess:  orDefault(cfg.AccessTTL, 15*time.Minute),
			KindRefresh: orDefault(cfg.RefreshTTL, 7*24*time.Hour),
			KindReset:   orDefault(cfg.ResetTTL, 15*time.Minute),
		},
		now: time.Now,
	}, nil
}

func orDefault(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

// TTL returns the lifetime configured for kind.
func (t *Tokens) TTL(kind Kind) time.Duration {
	return t.ttls[kind]
}

// IssueAccess issues a short-lived session token for userID.
func (t *Tokens) IssueAccess(userID string) (string, Claims, error) {
	return t.issue(KindAccess, userID)
}

// IssueRefresh issues a session renewal token for userID.
func (t *Tokens) IssueRefresh(userID string) (string, Claims, error) {
	return t.issue(KindRefresh, userID)
}

// IssueReset issues a password reset token for userID.
func (t *Tokens) IssueReset(userID string) (string, Claims, error) {
	return t.issue(KindReset, userID)
}

// ParseAccess verifies an access token.
func (t *Tokens) ParseAccess(token string) (Claims, error) {
	return t.parse(KindAccess, token)
}

// ParseRefresh verifies a refresh token.
func (t *Tokens) ParseRefresh(token string) (Claims, error) {
	return t.parse(KindRefresh, token)
}

// ParseReset verifies a password reset token.
func (t *Tokens) ParseReset(token string) (Claims, error) {
	return t.parse(KindReset, token)
}

func (t *Tokens) issue(kind Kind, userID string) (string, Claims, error) {
	now := t.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttls[kind])),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secrets[kind])
	if err != nil {
		return "", Claims{}, err
	}
	return signed, toClaims(kind, claims), nil
}

func (t *Tokens) parse(kind Kind, tokenString string) (Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return Claims{}, ErrInvalidToken
	}

	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return t.secrets[kind], nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil {
		return Claims{}, errors.Join(ErrInvalidToken, err)
	}
	if !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, errors.Join(ErrInvalidToken, errors.New("missing subject"))
	}
	return toClaims(kind, claims), nil
}

func toClaims(kind Kind, rc jwt.RegisteredClaims) Claims {
	c := Claims{Kind: kind, Subject: rc.Subject, ID: rc.ID}
	if rc.IssuedAt != nil {
		c.IssuedAt = rc.IssuedAt.Time
	}
	if rc.ExpiresAt != nil {
		c.ExpiresAt = rc.ExpiresAt.Time
	}
	return c
}
