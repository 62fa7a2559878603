// Package googletts provides a Google Cloud Text-to-Speech backed TTS
// provider using the REST API. It implements the tts.Provider interface.
package googletts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/podforge/podforge/pkg/provider/tts"
)

const (
	defaultEndpoint = "https://texttospeech.googleapis.com/v1"
	defaultEncoding = "MP3"
	defaultTimeout  = 60 * time.Second
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithEndpoint overrides the API endpoint. Used by tests to point at a
// local HTTP server.
func WithEndpoint(url string) Option {
	return func(p *Provider) {
		p.endpoint = strings.TrimRight(url, "/")
	}
}

// WithAudioEncoding sets the synthesis output encoding
// ("MP3", "LINEAR16", "OGG_OPUS").
func WithAudioEncoding(enc string) Option {
	return func(p *Provider) {
		p.encoding = enc
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements tts.Provider backed by Google Cloud TTS.
type Provider struct {
	apiKey     string
	endpoint   string
	encoding   string
	httpClient *http.Client
}

var _ tts.Provider = (*Provider)(nil)

// New creates a new Google Cloud TTS Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("googletts: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   defaultEndpoint,
		encoding:   defaultEncoding,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- REST message types ----

type synthesizeRequest struct {
	Input struct {
		Text string `json:"text"`
	} `json:"input"`
	Voice struct {
		LanguageCode string `json:"languageCode"`
		Name         string `json:"name"`
	} `json:"voice"`
	AudioConfig struct {
		AudioEncoding string  `json:"audioEncoding"`
		SpeakingRate  float64 `json:"speakingRate,omitempty"`
		Pitch         float64 `json:"pitch,omitempty"`
	} `json:"audioConfig"`
}

type synthesizeResponse struct {
	AudioContent string `json:"audioContent"`
}

type voicesResponse struct {
	Voices []googleVoice `json:"voices"`
}

type googleVoice struct {
	Name                   string   `json:"name"`
	SSMLGender             string   `json:"ssmlGender"`
	LanguageCodes          []string `json:"languageCodes"`
	NaturalSampleRateHertz int      `json:"naturalSampleRateHertz"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.SynthesisRequest) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("googletts: text must not be empty")
	}
	if req.VoiceID == "" {
		return nil, errors.New("googletts: voice ID must not be empty")
	}

	body := synthesizeRequest{}
	body.Input.Text = req.Text
	body.Voice.Name = req.VoiceID
	body.Voice.LanguageCode = req.LanguageCode
	if body.Voice.LanguageCode == "" {
		body.Voice.LanguageCode = languageFromVoiceID(req.VoiceID)
	}
	body.AudioConfig.AudioEncoding = p.encoding
	body.AudioConfig.SpeakingRate = req.SpeakingRate
	body.AudioConfig.Pitch = req.Pitch

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("googletts: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.endpoint+"/text:synthesize", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("googletts: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Goog-Api-Key", p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("googletts: synthesize HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("googletts: synthesize: status %d: %s", resp.StatusCode, snippet)
	}

	var sr synthesizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("googletts: synthesize decode: %w", err)
	}
	audio, err := base64.StdEncoding.DecodeString(sr.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("googletts: synthesize decode audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("googletts: synthesize returned empty audio")
	}
	return audio, nil
}

// ListVoices implements tts.Provider. It returns the English-family voice
// inventory.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.endpoint+"/voices?languageCode=en", nil)
	if err != nil {
		return nil, fmt.Errorf("googletts: list voices: %w", err)
	}
	httpReq.Header.Set("X-Goog-Api-Key", p.apiKey)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("googletts: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("googletts: list voices: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("googletts: list voices read: %w", err)
	}
	return parseVoicesResponse(data)
}

// AudioFormat implements tts.Provider.
func (p *Provider) AudioFormat() string {
	switch p.encoding {
	case "LINEAR16":
		return "wav"
	case "OGG_OPUS":
		return "ogg"
	default:
		return "mp3"
	}
}

// Name identifies the backend for logs and metrics.
func (p *Provider) Name() string {
	return "googletts"
}

// ---- helpers ----

// parseVoicesResponse parses a raw JSON byte slice (matching the Google
// TTS /v1/voices response) into a slice of Voice values.
func parseVoicesResponse(data []byte) ([]tts.Voice, error) {
	var vr voicesResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return nil, err
	}
	voices := make([]tts.Voice, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		voices = append(voices, tts.Voice{
			ID:                     v.Name,
			Name:                   v.Name,
			SSMLGender:             v.SSMLGender,
			LanguageCodes:          v.LanguageCodes,
			NaturalSampleRateHertz: v.NaturalSampleRateHertz,
		})
	}
	return voices, nil
}

// languageFromVoiceID derives the BCP-47 code from voice names of the
// form "en-US-Chirp3-HD-Puck".
func languageFromVoiceID(voiceID string) string {
	parts := strings.SplitN(voiceID, "-", 3)
	if len(parts) >= 2 {
		return parts[0] + "-" + parts[1]
	}
	return "en-US"
}
