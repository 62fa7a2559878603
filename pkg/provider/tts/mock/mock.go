// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider in unit tests to feed a controlled voice inventory and
// deterministic audio bytes without a live TTS backend.
package mock

import (
	"context"
	"sync"

	"github.com/podforge/podforge/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Req is the request passed to Synthesize.
	Req tts.SynthesisRequest
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SynthesizeFunc, if non-nil, is invoked by Synthesize instead of the
	// static fields. Use it to fail specific turns or block until a signal.
	SynthesizeFunc func(ctx context.Context, req tts.SynthesisRequest) ([]byte, error)

	// Audio is returned by Synthesize when SynthesizeFunc is nil. Defaults
	// to a non-empty placeholder so that assemblers treat the result as a
	// valid segment.
	Audio []byte

	// SynthesizeErr, if non-nil, is returned by Synthesize.
	SynthesizeErr error

	// Voices is returned by ListVoices.
	Voices []tts.Voice

	// ListVoicesErr, if non-nil, is returned by ListVoices.
	ListVoicesErr error

	// Format is returned by AudioFormat. Defaults to "mp3" when empty.
	Format string

	// --- Call records (read after test) ---

	// SynthesizeCalls records every invocation of Synthesize in order.
	SynthesizeCalls []SynthesizeCall

	// ListVoicesCallCount is the number of times ListVoices was called.
	ListVoicesCallCount int
}

// Synthesize records the call and returns the configured audio.
func (p *Provider) Synthesize(ctx context.Context, req tts.SynthesisRequest) ([]byte, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Req: req})
	fn := p.SynthesizeFunc
	audio, err := p.Audio, p.SynthesizeErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if audio == nil {
		audio = []byte("mock-audio")
	}
	return audio, nil
}

// ListVoices records the call and returns Voices, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]tts.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCallCount++
	voices := make([]tts.Voice, len(p.Voices))
	copy(voices, p.Voices)
	return voices, p.ListVoicesErr
}

// AudioFormat returns Format or "mp3".
func (p *Provider) AudioFormat() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Format != "" {
		return p.Format
	}
	return "mp3"
}

// Calls returns a snapshot of recorded Synthesize calls. Thread-safe.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.SynthesizeCalls))
	copy(out, p.SynthesizeCalls)
	return out
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
