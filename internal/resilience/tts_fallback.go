package resilience

import (
	"context"
	"strings"

	"github.com/podforge/podforge/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker.
//
// All registered backends should produce the same audio format; AudioFormat
// always reports the primary's format and the stitcher cannot mix encodings
// within one episode.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize converts one utterance using the first healthy provider.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.SynthesisRequest) ([]byte, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]byte, error) {
		return p.Synthesize(ctx, req)
	})
}

// ListVoices returns the voice inventory of the first healthy provider.
// Inventories are not merged: voice IDs are provider-specific, so a voice
// picked from one backend's list cannot be synthesised by another.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]tts.Voice, error) {
		return p.ListVoices(ctx)
	})
}

// AudioFormat reports the primary backend's output format.
func (f *TTSFallback) AudioFormat() string {
	return f.group.entries[0].value.AudioFormat()
}

// Name lists the backends in failover order, e.g. "fallback(googletts,elevenlabs)".
func (f *TTSFallback) Name() string {
	names := make([]string, len(f.group.entries))
	for i := range f.group.entries {
		names[i] = f.group.entries[i].name
	}
	return "fallback(" + strings.Join(names, ",") + ")"
}
