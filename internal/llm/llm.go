package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/xeipuuv/gojsonschema"

	"github.com/wordquiz/wordquiz/internal/generation"
	"github.com/wordquiz/wordquiz/internal/llm/prompts"
)

// responseSchema is the structure every generation response must match.
const responseSchema = `{
	"type": "object",
	"properties": {
		"problems": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"properties": {
					"word": {"type": "string", "minLength": 1},
					"answer": {"type": "string", "minLength": 1},
					"sentence": {"type": "string", "minLength": 1},
					"hint": {"type": "string"},
					"translation": {"type": "string"}
				},
				"required": ["word", "answer", "sentence", "hint", "translation"]
			}
		}
	},
	"required": ["problems"]
}`

var schema = mustSchema(responseSchema)

func mustSchema(s string) *gojsonschema.Schema {
	sc, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic("llm: invalid response schema: " + err.Error())
	}
	return sc
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api         *openai.Client
	model       string
	temperature float32
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string) (*Client, error) {
	if err := prompts.Load(prompts.Templates); err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:         openai.NewClientWithConfig(config),
		model:       modelName,
		temperature: 0.7,
	}, nil
}

// Ping checks that the endpoint is reachable and the model exists.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.GetModel(ctx, c.model); err != nil {
		return fmt.Errorf("LLM endpoint check: %w", err)
	}
	return nil
}

// Generate asks the model for one problem per requested word.
func (c *Client) Generate(ctx context.Context, req generation.Request) ([]generation.Draft, error) {
	systemPrompt, err := prompts.BuildGeneratePrompt(req.Difficulty, req.TranslationLanguage, req.WordsPerSet, req.Words)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Generate the problems now."},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: c.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM API call: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: LLM returned no choices", generation.ErrMalformedResponse)
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "words", len(req.Words), "raw", raw)

	drafts, err := ParseResponse(raw)
	if err != nil {
		return nil, err
	}
	restoreWords(drafts, req.Words)
	return drafts, nil
}

// ParseResponse validates and decodes a generation response. The body may be
// wrapped in a markdown code fence.
func ParseResponse(raw string) ([]generation.Draft, error) {
	body := StripCodeFence(raw)

	result, err := schema.Validate(gojsonschema.NewStringLoader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v (raw: %s)", generation.ErrMalformedResponse, err, truncate(raw, 200))
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%w: %s", generation.ErrMalformedResponse, strings.Join(msgs, "; "))
	}

	var out struct {
		Problems []generation.Draft `json:"problems"`
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", generation.ErrMalformedResponse, err)
	}
	return out.Problems, nil
}

// StripCodeFence removes a surrounding ```json ... ``` or ``` ... ``` block.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[") {
		s = s[nl+1:] // language tag line
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// restoreWords maps sanitized words echoed by the model back to the words the
// caller asked for.
func restoreWords(drafts []generation.Draft, words []string) {
	original := make(map[string]string, len(words))
	for _, w := range words {
		original[prompts.SanitizeWord(w)] = w
	}
	for i := range drafts {
		if w, ok := original[strings.TrimSpace(drafts[i].Word)]; ok {
			drafts[i].Word = w
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
