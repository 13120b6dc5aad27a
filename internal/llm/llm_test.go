package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/wordquiz/wordquiz/internal/generation"
	"github.com/wordquiz/wordquiz/internal/model"
)

const validBody = `{"problems": [
	{"word": "학교", "answer": "학교에", "sentence": "저는 매일 ( ) 가요.", "hint": "place + 에", "translation": "I go to school every day."}
]}`

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"single line fence", "```{\"a\":1}```", `{"a":1}`},
		{"surrounding space", "  \n```json\n{\"a\":1}\n```\n ", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripCodeFence(tt.in); got != tt.want {
				t.Errorf("StripCodeFence() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int
		wantErr bool
	}{
		{"valid", validBody, 1, false},
		{"fenced", "```json\n" + validBody + "\n```", 1, false},
		{"not json", "Sure! Here are your problems.", 0, true},
		{"wrong shape", `{"items": []}`, 0, true},
		{"missing field", `{"problems": [{"word": "학교", "sentence": "( ) 가요."}]}`, 0, true},
		{"empty list", `{"problems": []}`, 0, true},
		{"wrong type", `{"problems": [{"word": 1, "answer": "a", "sentence": "( )", "hint": "", "translation": ""}]}`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResponse(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, generation.ErrMalformedResponse) {
					t.Errorf("err = %v, want ErrMalformedResponse", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseResponse: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d drafts, want %d", len(got), tt.want)
			}
		})
	}
}

// fakeOpenAI serves /v1/chat/completions with a canned status and content.
func fakeOpenAI(t *testing.T, status int, content string, gotPrompt *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if gotPrompt != nil && len(req.Messages) > 0 {
			*gotPrompt = req.Messages[0].Content
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error": {"message": "rate limit reached", "type": "requests"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:     "chatcmpl-test",
			Object: "chat.completion",
			Choices: []openai.ChatCompletionChoice{{
				Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
				FinishReason: openai.FinishReasonStop,
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientGenerate(t *testing.T) {
	var prompt string
	srv := fakeOpenAI(t, http.StatusOK, "```json\n"+validBody+"\n```", &prompt)

	c, err := New(srv.URL+"/v1", "test-key", "test-model")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	drafts, err := c.Generate(context.Background(), generation.Request{
		Words:               []string{"학교"},
		Difficulty:          model.DifficultyA1,
		TranslationLanguage: "en",
		WordsPerSet:         5,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(drafts) != 1 || drafts[0].Answer != "학교에" {
		t.Errorf("drafts = %+v", drafts)
	}
	for _, want := range []string{"A1", "학교", "English", "groups of 5"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestClientGenerateRateLimited(t *testing.T) {
	srv := fakeOpenAI(t, http.StatusTooManyRequests, "", nil)

	c, err := New(srv.URL+"/v1", "test-key", "test-model")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.Generate(context.Background(), generation.Request{Words: []string{"학교"}, Difficulty: model.DifficultyA1, TranslationLanguage: "en"})
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) || apiErr.HTTPStatusCode != http.StatusTooManyRequests {
		t.Errorf("err = %v, want API error with status 429", err)
	}
}

func TestRestoreWords(t *testing.T) {
	drafts := []generation.Draft{{Word: "학교"}}
	restoreWords(drafts, []string{"<b>학교</b>"})
	if drafts[0].Word != "<b>학교</b>" {
		t.Errorf("word = %q, want original spelling", drafts[0].Word)
	}
}
