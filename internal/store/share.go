package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/wordquiz/wordquiz/internal/model"
)

type shareRow struct {
	Token           string        `db:"token"`
	QuizID          string        `db:"quiz_id"`
	AllowAnonymous  bool          `db:"allow_anonymous"`
	MaxAttempts     int           `db:"max_attempts"`
	CompletionCount int           `db:"completion_count"`
	ViewCount       int           `db:"view_count"`
	ExpiresAt       sql.NullInt64 `db:"expires_at"`
	CreatedAt       int64         `db:"created_at"`
}

const shareColumns = `token, quiz_id, allow_anonymous, max_attempts, completion_count, view_count, expires_at, created_at`

func (r shareRow) model() model.ShareGrant {
	return model.ShareGrant{
		Token:           r.Token,
		QuizID:          r.QuizID,
		AllowAnonymous:  r.AllowAnonymous,
		MaxAttempts:     r.MaxAttempts,
		CompletionCount: r.CompletionCount,
		ViewCount:       r.ViewCount,
		ExpiresAt:       fromNullableMilli(r.ExpiresAt),
		CreatedAt:       fromUnixMilli(r.CreatedAt),
	}
}

// CreateShareGrant stores a new grant. An empty Token is filled with a random
// one. The stored grant is returned.
func (s *Store) CreateShareGrant(ctx context.Context, g model.ShareGrant) (model.ShareGrant, error) {
	if g.Token == "" {
		tok, err := generateToken()
		if err != nil {
			return g, err
		}
		g.Token = tok
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	g.CompletionCount, g.ViewCount = 0, 0
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO share_grants (`+shareColumns+`) VALUES (?, ?, ?, ?, 0, 0, ?, ?)`),
		g.Token, g.QuizID, g.AllowAnonymous, g.MaxAttempts, nullableMilli(g.ExpiresAt), unixMilli(g.CreatedAt),
	)
	if err != nil {
		return g, fmt.Errorf("insert share grant: %w", err)
	}
	return g, nil
}

// GetShareGrant returns a grant without side effects.
func (s *Store) GetShareGrant(ctx context.Context, token string) (*model.ShareGrant, error) {
	var r shareRow
	err := s.db.GetContext(ctx, &r, s.db.Rebind(`SELECT `+shareColumns+` FROM share_grants WHERE token = ?`), token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("share grant: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	g := r.model()
	return &g, nil
}

// ViewShareGrant increments the view count and returns the updated grant
// together with the display name of the quiz owner.
func (s *Store) ViewShareGrant(ctx context.Context, token string) (*model.ShareGrant, string, error) {
	var g model.ShareGrant
	var teacher string
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(
			`UPDATE share_grants SET view_count = view_count + 1 WHERE token = ?`), token)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("share grant: %w", ErrNotFound)
		}
		var r shareRow
		if err := tx.GetContext(ctx, &r, tx.Rebind(`SELECT `+shareColumns+` FROM share_grants WHERE token = ?`), token); err != nil {
			return err
		}
		g = r.model()
		err = tx.GetContext(ctx, &teacher, tx.Rebind(
			`SELECT COALESCE(u.display_name, '') FROM quizzes q LEFT JOIN users u ON u.id = q.teacher_id WHERE q.id = ?`), g.QuizID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("quiz %s: %w", g.QuizID, ErrNotFound)
		}
		return err
	})
	if err != nil {
		return nil, "", err
	}
	return &g, teacher, nil
}

// ListShareGrants returns the grants of a quiz, newest first.
func (s *Store) ListShareGrants(ctx context.Context, quizID string) ([]model.ShareGrant, error) {
	var rows []shareRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT `+shareColumns+` FROM share_grants WHERE quiz_id = ? ORDER BY created_at DESC`), quizID)
	if err != nil {
		return nil, err
	}
	out := make([]model.ShareGrant, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}
