// Package client talks to the taker side of the wordquiz HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/wordquiz/wordquiz/internal/grading"
	"github.com/wordquiz/wordquiz/internal/model"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("server returned %d", e.Status)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// ShareStart is the answer to starting a quiz through a share link.
type ShareStart struct {
	Token             string             `json:"token"`
	Quiz              *model.StudentQuiz `json:"quiz"`
	RemainingAttempts int                `json:"remaining_attempts"`
}

// Client is safe for concurrent use.
type Client struct {
	base string
	http *http.Client
	lang string

	mu    sync.RWMutex
	token string
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

// WithToken sets the bearer credential (auth-session or guest token).
func WithToken(tok string) Option { return func(c *Client) { c.token = tok } }

// WithLanguage sets Accept-Language for localized error messages.
func WithLanguage(lang string) Option { return func(c *Client) { c.lang = lang } }

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Token returns the current bearer credential.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) setToken(tok string) {
	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()
}

// Login signs in a student or teacher and keeps the session token.
func (c *Client) Login(ctx context.Context, username, password string) (*model.User, error) {
	var out struct {
		Token string     `json:"token"`
		User  model.User `json:"user"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", body, &out); err != nil {
		return nil, err
	}
	c.setToken(out.Token)
	return &out.User, nil
}

// StartShare registers an anonymous taker on a share link. The returned
// guest token is kept for the following Submit.
func (c *Client) StartShare(ctx context.Context, shareToken, name string) (*ShareStart, error) {
	var out ShareStart
	p := "/api/share/" + url.PathEscape(shareToken) + "/start"
	if err := c.do(ctx, http.MethodPost, p, map[string]string{"name": name}, &out); err != nil {
		return nil, err
	}
	c.setToken(out.Token)
	return &out, nil
}

// FetchQuiz reads the student view of a quiz.
func (c *Client) FetchQuiz(ctx context.Context, quizID string) (*model.StudentQuiz, error) {
	var q model.StudentQuiz
	if err := c.do(ctx, http.MethodGet, "/api/quizzes/"+url.PathEscape(quizID)+"/take", nil, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// Submit sends the raw answers for grading.
func (c *Client) Submit(ctx context.Context, quizID string, answers grading.Answers) (grading.Outcome, error) {
	var out grading.Outcome
	body := map[string]grading.Answers{"answers": answers}
	err := c.do(ctx, http.MethodPost, "/api/quizzes/"+url.PathEscape(quizID)+"/submit", body, &out)
	return out, err
}

// Result reads a graded result with its breakdown.
func (c *Client) Result(ctx context.Context, id string) (*model.Result, error) {
	var r model.Result
	if err := c.do(ctx, http.MethodGet, "/api/results/"+url.PathEscape(id), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.lang != "" {
		req.Header.Set("Accept-Language", c.lang)
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
