// Package share issues attempt-limited anonymous access to quizzes.
package share

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wordquiz/wordquiz/internal/model"
	"github.com/wordquiz/wordquiz/internal/store"
)

var (
	ErrInvalid           = errors.New("share link invalid")
	ErrExpired           = errors.New("share link expired")
	ErrAttemptsExhausted = errors.New("share link attempts exhausted")
	// ErrAnonymousNotAllowed means the grant requires a signed-in student.
	ErrAnonymousNotAllowed = errors.New("share link does not allow anonymous takers")
)

// DefaultMaxAttempts is used when Issue is called with maxAttempts < 1.
const DefaultMaxAttempts = 3

// Resolution is what a valid share link opens.
type Resolution struct {
	Grant             model.ShareGrant   `json:"grant"`
	Quiz              *model.StudentQuiz `json:"quiz"`
	TeacherName       string             `json:"teacher_name"`
	RemainingAttempts int                `json:"remaining_attempts"`
}

// Service issues and resolves share grants.
type Service struct {
	store      *store.Store
	ttl        time.Duration
	maxDefault int
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithTTL sets the lifetime of issued grants. Zero means no expiry.
func WithTTL(d time.Duration) Option { return func(s *Service) { s.ttl = d } }

// WithDefaultMaxAttempts overrides DefaultMaxAttempts.
func WithDefaultMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxDefault = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func New(st *store.Store, opts ...Option) *Service {
	s := &Service{store: st, maxDefault: DefaultMaxAttempts, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Issue creates a grant for quizID and returns it with its token.
func (s *Service) Issue(ctx context.Context, quizID string, allowAnonymous bool, maxAttempts int) (model.ShareGrant, error) {
	if _, err := s.store.GetStudentQuiz(ctx, quizID); err != nil {
		return model.ShareGrant{}, err
	}
	if maxAttempts < 1 {
		maxAttempts = s.maxDefault
	}
	g := model.ShareGrant{
		QuizID:         quizID,
		AllowAnonymous: allowAnonymous,
		MaxAttempts:    maxAttempts,
		CreatedAt:      s.now().UTC(),
	}
	if s.ttl > 0 {
		exp := g.CreatedAt.Add(s.ttl)
		g.ExpiresAt = &exp
	}
	g, err := s.store.CreateShareGrant(ctx, g)
	if err != nil {
		return g, err
	}
	slog.Info("issued share link", "quiz_id", quizID, "max_attempts", maxAttempts, "anonymous", allowAnonymous)
	return g, nil
}

// Resolve opens a share link. Every call counts as a view, including calls
// that end in ErrExpired or ErrAttemptsExhausted.
func (s *Service) Resolve(ctx context.Context, token string) (*Resolution, error) {
	g, teacher, err := s.store.ViewShareGrant(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("resolve share: %w", err)
	}
	if err := s.check(*g); err != nil {
		return nil, err
	}
	quiz, err := s.store.GetStudentQuiz(ctx, g.QuizID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalid
	}
	if err != nil {
		return nil, err
	}
	return &Resolution{
		Grant:             *g,
		Quiz:              quiz,
		TeacherName:       teacher,
		RemainingAttempts: g.RemainingAttempts(),
	}, nil
}

// Check validates a grant without counting a view.
func (s *Service) Check(ctx context.Context, token string) (*model.ShareGrant, error) {
	g, err := s.store.GetShareGrant(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalid
	}
	if err != nil {
		return nil, err
	}
	if err := s.check(*g); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Service) check(g model.ShareGrant) error {
	if g.Expired(s.now()) {
		return ErrExpired
	}
	if g.RemainingAttempts() == 0 {
		return ErrAttemptsExhausted
	}
	return nil
}
