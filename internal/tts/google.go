package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const googleEndpoint = "https://texttospeech.googleapis.com/v1/text:synthesize"

// Google synthesizes speech with the Google Cloud Text-to-Speech REST API.
type Google struct {
	endpoint     string
	apiKey       string
	languageCode string
	voice        string
	httpClient   *http.Client
}

// NewGoogle creates a Google TTS client. Korean is the default language.
func NewGoogle(cfg Config) *Google {
	g := &Google{
		endpoint:     googleEndpoint,
		apiKey:       cfg.APIKey,
		languageCode: "ko-KR",
		voice:        cfg.Voice,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
	}
	if cfg.BaseURL != "" {
		g.endpoint = cfg.BaseURL
	}
	if cfg.LanguageCode != "" {
		g.languageCode = cfg.LanguageCode
	}
	return g
}

type googleRequest struct {
	Input struct {
		Text string `json:"text"`
	} `json:"input"`
	Voice struct {
		LanguageCode string `json:"languageCode"`
		Name         string `json:"name,omitempty"`
		SSMLGender   string `json:"ssmlGender,omitempty"`
	} `json:"voice"`
	AudioConfig struct {
		AudioEncoding string `json:"audioEncoding"`
	} `json:"audioConfig"`
}

// Synthesize implements Synthesizer.
func (g *Google) Synthesize(ctx context.Context, text string) ([]byte, error) {
	var reqBody googleRequest
	reqBody.Input.Text = text
	reqBody.Voice.LanguageCode = g.languageCode
	if g.voice != "" {
		reqBody.Voice.Name = g.voice
	} else {
		reqBody.Voice.SSMLGender = "FEMALE"
	}
	reqBody.AudioConfig.AudioEncoding = "MP3"

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	u := g.endpoint + "?key=" + url.QueryEscape(g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("TTS request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Provider: "google", Code: resp.StatusCode, Body: string(body)}
	}

	var result struct {
		AudioContent string `json:"audioContent"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	audio, err := base64.StdEncoding.DecodeString(result.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("TTS returned empty audio")
	}
	return audio, nil
}
