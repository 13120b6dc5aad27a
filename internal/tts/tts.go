// Package tts converts sentences to narrated MP3 audio.
package tts

import (
	"context"
	"fmt"
)

// Synthesizer turns text into an MP3 payload.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// StatusError is returned when the synthesis service answers with a non-2xx
// status.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s TTS API error %d: %s", e.Provider, e.Code, e.Body)
}

// New builds the synthesizer named by provider ("openai" or "google").
func New(provider string, cfg Config) (Synthesizer, error) {
	switch provider {
	case "openai", "":
		return NewOpenAI(cfg), nil
	case "google":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("google TTS requires an API key")
		}
		return NewGoogle(cfg), nil
	default:
		return nil, fmt.Errorf("unknown TTS provider %q (want openai or google)", provider)
	}
}

// Config holds provider settings. Fields a provider does not use are ignored.
type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	Voice        string
	LanguageCode string
}
