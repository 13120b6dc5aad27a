package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return WithLocalizer(context.Background(), NewLocalizer(lang))
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		lang string
		id   string
		want string
	}{
		{"en", "AppTitle", "WordQuiz"},
		{"ko", "AppTitle", "단어 퀴즈"},
		{"en", "ErrAttemptsExhausted", "This link has no attempts left."},
		{"ko", "ErrShareExpired", "만료된 링크입니다."},
		{"ko-KR", "StartQuiz", "퀴즈 시작"},
		{"fr", "StartQuiz", "Start quiz"},
	}
	for _, tt := range tests {
		t.Run(tt.lang+"/"+tt.id, func(t *testing.T) {
			ctx := initLang(t, tt.lang)
			if got := T(ctx, tt.id); got != tt.want {
				t.Errorf("T(%s) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")
	if got := Tp(ctx, "AttemptsLeft", 1); got != "1 attempt left" {
		t.Errorf("Tp(1) = %q", got)
	}
	if got := Tp(ctx, "AttemptsLeft", 3); got != "3 attempts left" {
		t.Errorf("Tp(3) = %q", got)
	}
	ko := initLang(t, "ko")
	if got := Tp(ko, "AttemptsLeft", 2); got != "남은 응시 횟수 2회" {
		t.Errorf("Tp ko = %q", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")
	got := Td(ctx, "PartialGeneration", map[string]any{"Fulfilled": 10, "Requested": 15})
	if got != "Generated problems for 10 of 15 words." {
		t.Errorf("Td = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")
	if got := T(ctx, "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q", got)
	}
}

func TestLocalesHaveSameKeys(t *testing.T) {
	initLang(t, "en")
	if got := len(Languages()); got != 2 {
		t.Errorf("languages = %d, want 2", got)
	}
	en := WithLocalizer(context.Background(), NewLocalizer("en"))
	ko := WithLocalizer(context.Background(), NewLocalizer("ko"))
	for _, id := range []string{"ErrInternal", "ErrInvalidName", "TakeHelp", "ScoreLine", "YourName"} {
		if a, b := T(en, id), T(ko, id); a == id || b == id || a == b {
			t.Errorf("%s: en=%q ko=%q", id, a, b)
		}
	}
}

func TestMiddleware(t *testing.T) {
	initLang(t, "en")
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(T(r.Context(), "AppTitle")))
	}))

	tests := []struct {
		name   string
		url    string
		header string
		want   string
	}{
		{"header", "/", "ko-KR,ko;q=0.9,en;q=0.8", "단어 퀴즈"},
		{"query wins", "/?lang=en", "ko", "WordQuiz"},
		{"default", "/", "", "WordQuiz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.header != "" {
				req.Header.Set("Accept-Language", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if got := rec.Body.String(); got != tt.want {
				t.Errorf("body = %q, want %q", got, tt.want)
			}
		})
	}
}
