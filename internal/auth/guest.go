// Package auth issues the signed tokens that identify anonymous quiz takers.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wordquiz/wordquiz/internal/model"
)

const (
	issuer       = "wordquiz"
	maxNameRunes = 40
)

var (
	ErrInvalidToken = errors.New("invalid guest token")
	ErrInvalidName  = errors.New("name must be 1 to 40 characters")
)

// GuestClaims scope a token to one share grant.
type GuestClaims struct {
	Name  string `json:"name"`
	Quiz  string `json:"quiz"`
	Share string `json:"share"`
	jwt.RegisteredClaims
}

// Taker returns the identity the grader records for this guest.
func (c *GuestClaims) Taker() model.Taker {
	return model.Taker{AnonymousName: c.Name, ShareToken: c.Share}
}

// Guests signs and verifies guest tokens with an HMAC secret.
type Guests struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewGuests(secret string, ttl time.Duration) (*Guests, error) {
	if secret == "" {
		return nil, errors.New("guest token secret is empty")
	}
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &Guests{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// CleanName trims a display name and checks its length.
func CleanName(name string) (string, error) {
	name = strings.Join(strings.Fields(name), " ")
	if n := utf8.RuneCountInString(name); n == 0 || n > maxNameRunes {
		return "", ErrInvalidName
	}
	return name, nil
}

// Issue signs a token for name on grant. The token never outlives the grant.
func (g *Guests) Issue(grant model.ShareGrant, name string) (string, error) {
	name, err := CleanName(name)
	if err != nil {
		return "", err
	}
	now := g.now()
	exp := now.Add(g.ttl)
	if grant.ExpiresAt != nil && grant.ExpiresAt.Before(exp) {
		exp = *grant.ExpiresAt
	}
	claims := &GuestClaims{
		Name:  name,
		Quiz:  grant.QuizID,
		Share: grant.Token,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "guest",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
}

// Parse verifies a token and returns its claims.
func (g *Guests) Parse(token string) (*GuestClaims, error) {
	claims := &GuestClaims{}
	t, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return g.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !t.Valid || claims.Share == "" || claims.Quiz == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// LooksLikeJWT reports whether a bearer credential has the three-part JWT
// shape. Auth-session tokens are hex without dots.
func LooksLikeJWT(s string) bool {
	return strings.Count(s, ".") == 2
}
