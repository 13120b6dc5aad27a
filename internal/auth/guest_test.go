package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wordquiz/wordquiz/internal/model"
)

func newGuests(t *testing.T, now time.Time) *Guests {
	t.Helper()
	g, err := NewGuests("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewGuests: %v", err)
	}
	g.now = func() time.Time { return now }
	return g
}

func TestIssueParse(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := newGuests(t, now)
	grant := model.ShareGrant{Token: "tok123", QuizID: "quiz1"}

	tok, err := g.Issue(grant, "  Kim   Minji ")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !LooksLikeJWT(tok) {
		t.Errorf("token %q does not look like a JWT", tok)
	}
	c, err := g.Parse(tok)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Name != "Kim Minji" || c.Quiz != "quiz1" || c.Share != "tok123" {
		t.Errorf("claims = %+v", c)
	}
	if taker := c.Taker(); taker.AnonymousName != "Kim Minji" || taker.ShareToken != "tok123" || !taker.Anonymous() {
		t.Errorf("taker = %+v", taker)
	}
}

func TestParseRejects(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := newGuests(t, now)
	grant := model.ShareGrant{Token: "tok", QuizID: "q"}
	tok, _ := g.Issue(grant, "guest")
	tok2, _ := g.Issue(grant, "someone else")
	parts, parts2 := strings.Split(tok, "."), strings.Split(tok2, ".")
	tampered := parts2[0] + "." + parts2[1] + "." + parts[2]

	other, _ := NewGuests("other-secret", time.Hour)
	other.now = g.now

	later := newGuests(t, now.Add(2*time.Hour))
	later.secret = g.secret

	unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, &GuestClaims{
		Name: "x", Quiz: "q", Share: "tok",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		g     *Guests
		token string
	}{
		{"wrong secret", other, tok},
		{"expired", later, tok},
		{"tampered", g, tampered},
		{"alg none", g, unsigned},
		{"garbage", g, "not-a-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.g.Parse(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("err = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestTokenCappedByGrantExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := newGuests(t, now)
	exp := now.Add(10 * time.Minute)
	tok, err := g.Issue(model.ShareGrant{Token: "t", QuizID: "q", ExpiresAt: &exp}, "guest")
	if err != nil {
		t.Fatal(err)
	}
	c, err := g.Parse(tok)
	if err != nil {
		t.Fatal(err)
	}
	if !c.ExpiresAt.Time.Equal(exp) {
		t.Errorf("expires = %v, want %v", c.ExpiresAt.Time, exp)
	}
}

func TestCleanName(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"민지", "민지", true},
		{"  a  b ", "a b", true},
		{"", "", false},
		{"   ", "", false},
		{strings.Repeat("가", 41), "", false},
		{strings.Repeat("가", 40), strings.Repeat("가", 40), true},
	}
	for _, tt := range tests {
		got, err := CleanName(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("CleanName(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestNewGuestsRequiresSecret(t *testing.T) {
	if _, err := NewGuests("", time.Hour); err == nil {
		t.Error("expected error for empty secret")
	}
}
