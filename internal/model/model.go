package model

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent is a student user role.
	UserRoleStudent UserRole = "student"
	// UserRoleTeacher is a teacher user role.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin is an admin user role.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

type takerCtxKey struct{}

// ContextWithTaker stores the identity of whoever is taking a quiz.
func ContextWithTaker(ctx context.Context, t *Taker) context.Context {
	return context.WithValue(ctx, takerCtxKey{}, t)
}

// TakerFromContext retrieves the quiz taker from context, or nil.
func TakerFromContext(ctx context.Context) *Taker {
	t, _ := ctx.Value(takerCtxKey{}).(*Taker)
	return t
}

// Difficulty is a CEFR proficiency level.
type Difficulty string

const (
	DifficultyA1 Difficulty = "A1"
	DifficultyA2 Difficulty = "A2"
	DifficultyB1 Difficulty = "B1"
	DifficultyB2 Difficulty = "B2"
	DifficultyC1 Difficulty = "C1"
	DifficultyC2 Difficulty = "C2"
)

var difficulties = []Difficulty{DifficultyA1, DifficultyA2, DifficultyB1, DifficultyB2, DifficultyC1, DifficultyC2}

// ParseDifficulty accepts a level in any case ("b1", "B1").
func ParseDifficulty(s string) (Difficulty, error) {
	d := Difficulty(strings.ToUpper(strings.TrimSpace(s)))
	for _, v := range difficulties {
		if d == v {
			return d, nil
		}
	}
	return "", fmt.Errorf("invalid difficulty %q (want one of A1, A2, B1, B2, C1, C2)", s)
}

// ProblemID identifies a problem for its whole lifetime. Audio assets and
// answer-key rows are joined on it, so it is never derived from content or
// position.
type ProblemID string

// Problem is a fill-in-the-blank unit as the teacher sees it.
type Problem struct {
	ID          ProblemID `json:"id"`
	Word        string    `json:"word"`
	Answer      string    `json:"answer"`
	Sentence    string    `json:"sentence"`
	Hint        string    `json:"hint"`
	Translation string    `json:"translation"`
	AudioURL    *string   `json:"audio_url"`
}

// StudentProblem is a problem as served to a taking session. It has no
// answer field at all.
type StudentProblem struct {
	ID          ProblemID `json:"id"`
	Word        string    `json:"word"`
	Sentence    string    `json:"sentence"`
	Hint        string    `json:"hint"`
	Translation string    `json:"translation"`
	AudioURL    *string   `json:"audio_url"`
}

// Quiz is the teacher-facing read model, answers included.
type Quiz struct {
	ID                  string              `json:"id"`
	TeacherID           int64               `json:"teacher_id"`
	Title               string              `json:"title"`
	Words               []string            `json:"words"`
	Difficulty          Difficulty          `json:"difficulty"`
	TranslationLanguage TranslationLanguage `json:"translation_language"`
	WordsPerSet         int                 `json:"words_per_set"`
	TimerEnabled        bool                `json:"timer_enabled"`
	TimerSeconds        *int                `json:"timer_seconds"`
	Problems            []Problem           `json:"problems"`
	CreatedAt           time.Time           `json:"created_at"`
}

// StudentQuiz is the taker-facing read model.
type StudentQuiz struct {
	ID                  string              `json:"id"`
	Title               string              `json:"title"`
	Difficulty          Difficulty          `json:"difficulty"`
	TranslationLanguage TranslationLanguage `json:"translation_language"`
	WordsPerSet         int                 `json:"words_per_set"`
	TimerEnabled        bool                `json:"timer_enabled"`
	TimerSeconds        *int                `json:"timer_seconds"`
	Problems            []StudentProblem    `json:"problems"`
}

// QuizSummary is a row in a teacher's quiz list.
type QuizSummary struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Difficulty   Difficulty `json:"difficulty"`
	NumProblems  int        `json:"num_problems"`
	MissingAudio int        `json:"missing_audio"`
	CreatedAt    time.Time  `json:"created_at"`
}

// AnswerKey is the privileged answer record for one problem.
type AnswerKey struct {
	QuizID        string    `json:"quiz_id"`
	ProblemID     ProblemID `json:"problem_id"`
	CorrectAnswer string    `json:"correct_answer"`
	Word          string    `json:"word"`
}

// Taker identifies who submitted an attempt: an authenticated student or an
// anonymous guest who arrived through a share link.
type Taker struct {
	StudentID     int64  `json:"student_id,omitempty"`
	AnonymousName string `json:"anonymous_name,omitempty"`
	ShareToken    string `json:"-"`
}

// Anonymous reports whether the taker came through a share link.
func (t Taker) Anonymous() bool {
	return t.StudentID == 0
}

// AnswerRecord is one graded line of a result.
type AnswerRecord struct {
	ProblemID     ProblemID `json:"problem_id"`
	Word          string    `json:"word"`
	UserAnswer    string    `json:"user_answer"`
	CorrectAnswer string    `json:"correct_answer"`
	IsCorrect     bool      `json:"is_correct"`
}

// Result is the immutable outcome of one graded submission.
type Result struct {
	ID             string         `json:"id"`
	QuizID         string         `json:"quiz_id"`
	Taker          Taker          `json:"taker"`
	Score          int            `json:"score"`
	TotalQuestions int            `json:"total_questions"`
	Answers        []AnswerRecord `json:"answers"`
	CompletedAt    time.Time      `json:"completed_at"`
}

// ShareGrant is an attempt-limited anonymous access grant to a quiz.
type ShareGrant struct {
	Token           string     `json:"token"`
	QuizID          string     `json:"quiz_id"`
	AllowAnonymous  bool       `json:"allow_anonymous"`
	MaxAttempts     int        `json:"max_attempts"`
	CompletionCount int        `json:"completion_count"`
	ViewCount       int        `json:"view_count"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// RemainingAttempts returns how many graded completions the grant still allows.
func (g ShareGrant) RemainingAttempts() int {
	if n := g.MaxAttempts - g.CompletionCount; n > 0 {
		return n
	}
	return 0
}

// Expired reports whether the grant's expiry has passed at now.
func (g ShareGrant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !now.Before(*g.ExpiresAt)
}

// Fulfillment reports how many of the requested words produced problems.
type Fulfillment struct {
	Requested int `json:"requested"`
	Fulfilled int `json:"fulfilled"`
}

// Partial reports whether generation stopped early.
func (f Fulfillment) Partial() bool {
	return f.Fulfilled < f.Requested
}

func (f Fulfillment) String() string {
	return fmt.Sprintf("%d/%d", f.Fulfilled, f.Requested)
}

// Progress is a snapshot of a sequential pipeline.
type Progress struct {
	Current int  `json:"current"`
	Total   int  `json:"total"`
	Running bool `json:"running"`
	Failed  int  `json:"failed"`
}

// ServerConfig holds runtime parameters set via CLI flags.
type ServerConfig struct {
	BasePath           string        // URL prefix for sub-path deployments
	PublicURL          string        // externally reachable base URL for share links
	SecureCookies      bool          // Set Secure flag on cookies (disable for local dev)
	ShareTTL           time.Duration // 0 means share links never expire
	DefaultMaxAttempts int
}
