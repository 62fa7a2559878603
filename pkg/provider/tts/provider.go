// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., Google Cloud TTS
// or ElevenLabs) and presents a uniform per-utterance interface. The
// assembler submits one SynthesisRequest per dialogue turn, possibly many
// in parallel, and writes the returned audio to the turn's segment file.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Voice is one entry of a provider's voice inventory.
type Voice struct {
	// ID is the provider-specific voice identifier
	// (e.g., "en-US-Chirp3-HD-Puck").
	ID string

	// Name is the human-readable voice name. Often equal to ID for cloud
	// providers.
	Name string

	// SSMLGender is the provider-reported gender: "MALE", "FEMALE" or
	// "NEUTRAL".
	SSMLGender string

	// LanguageCodes lists the BCP-47 languages the voice supports.
	LanguageCodes []string

	// NaturalSampleRateHertz is the voice's native sample rate, when the
	// provider reports one.
	NaturalSampleRateHertz int
}

// SynthesisRequest carries one utterance to synthesise.
type SynthesisRequest struct {
	// Text is the utterance. Must be non-empty.
	Text string

	// VoiceID selects the voice from the provider's inventory.
	VoiceID string

	// LanguageCode is the BCP-47 language of the utterance. Providers that
	// encode the language in the voice ID may ignore it.
	LanguageCode string

	// SpeakingRate adjusts speed (1.0 = default). Zero means default.
	SpeakingRate float64

	// Pitch adjusts pitch in provider units (0 = default).
	Pitch float64
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts one utterance to encoded audio and returns the
	// raw file bytes. The caller owns persistence.
	Synthesize(ctx context.Context, req SynthesisRequest) ([]byte, error)

	// ListVoices returns the provider's current voice inventory. The
	// result may change between calls if the service adds or removes
	// voices.
	ListVoices(ctx context.Context) ([]Voice, error)

	// AudioFormat returns the file extension of the audio Synthesize
	// produces, without a leading dot (e.g., "mp3", "wav", "pcm").
	AudioFormat() string
}
