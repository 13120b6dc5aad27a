package tts

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI synthesizes speech through an OpenAI-compatible /audio/speech
// endpoint.
type OpenAI struct {
	api   *openai.Client
	model openai.SpeechModel
	voice openai.SpeechVoice
}

// NewOpenAI creates an OpenAI speech client.
func NewOpenAI(cfg Config) *OpenAI {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	m := openai.TTSModel1
	if cfg.Model != "" {
		m = openai.SpeechModel(cfg.Model)
	}
	v := openai.VoiceNova
	if cfg.Voice != "" {
		v = openai.SpeechVoice(cfg.Voice)
	}
	return &OpenAI{api: openai.NewClientWithConfig(config), model: m, voice: v}
}

// Synthesize implements Synthesizer.
func (c *OpenAI) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := c.api.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          c.model,
		Input:          text,
		Voice:          c.voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, &StatusError{Provider: "openai", Code: apiErr.HTTPStatusCode, Body: apiErr.Message}
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			return nil, &StatusError{Provider: "openai", Code: reqErr.HTTPStatusCode, Body: reqErr.Error()}
		}
		return nil, fmt.Errorf("TTS request failed: %w", err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("TTS returned empty audio")
	}
	return data, nil
}
