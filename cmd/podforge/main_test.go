package main

import (
	"errors"
	"testing"

	"github.com/podforge/podforge/internal/config"
	"github.com/podforge/podforge/internal/resilience"
	"github.com/podforge/podforge/pkg/provider/llm"
	llmmock "github.com/podforge/podforge/pkg/provider/llm/mock"
	"github.com/podforge/podforge/pkg/provider/tts"
	ttsmock "github.com/podforge/podforge/pkg/provider/tts/mock"
)

func testRegistry() *config.Registry {
	reg := config.NewRegistry()
	for _, name := range []string{"primary-llm", "backup-llm"} {
		reg.RegisterLLM(name, func(config.ProviderEntry) (llm.Provider, error) {
			return &llmmock.Provider{}, nil
		})
	}
	for _, name := range []string{"primary-tts", "backup-tts"} {
		reg.RegisterTTS(name, func(config.ProviderEntry) (tts.Provider, error) {
			return &ttsmock.Provider{}, nil
		})
	}
	return reg
}

func TestBuildProvidersNoFallbacks(t *testing.T) {
	cfg := &config.Config{}
	cfg.Providers.LLM = config.ProviderEntry{Name: "primary-llm"}
	cfg.Providers.TTS = config.ProviderEntry{Name: "primary-tts"}

	ps, err := buildProviders(cfg, testRegistry())
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if _, ok := ps.LLM.(*llmmock.Provider); !ok {
		t.Errorf("llm provider = %T, want unwrapped mock", ps.LLM)
	}
	if _, ok := ps.TTS.(*ttsmock.Provider); !ok {
		t.Errorf("tts provider = %T, want unwrapped mock", ps.TTS)
	}
}

func TestBuildProvidersWrapsFallbacks(t *testing.T) {
	cfg := &config.Config{}
	cfg.Providers.LLM = config.ProviderEntry{
		Name:      "primary-llm",
		Fallbacks: []config.ProviderEntry{{Name: "backup-llm"}},
	}
	cfg.Providers.TTS = config.ProviderEntry{
		Name:      "primary-tts",
		Fallbacks: []config.ProviderEntry{{Name: "backup-tts"}},
	}

	ps, err := buildProviders(cfg, testRegistry())
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if _, ok := ps.LLM.(*resilience.LLMFallback); !ok {
		t.Fatalf("llm provider = %T, want *resilience.LLMFallback", ps.LLM)
	}
	if got, want := ps.LLM.Name(), "fallback(primary-llm,backup-llm)"; got != want {
		t.Errorf("llm name = %q, want %q", got, want)
	}
	group, ok := ps.TTS.(*resilience.TTSFallback)
	if !ok {
		t.Fatalf("tts provider = %T, want *resilience.TTSFallback", ps.TTS)
	}
	if got, want := group.Name(), "fallback(primary-tts,backup-tts)"; got != want {
		t.Errorf("tts name = %q, want %q", got, want)
	}
}

func TestBuildProvidersUnknownFallbackFails(t *testing.T) {
	cfg := &config.Config{}
	cfg.Providers.LLM = config.ProviderEntry{
		Name:      "primary-llm",
		Fallbacks: []config.ProviderEntry{{Name: "nope"}},
	}
	cfg.Providers.TTS = config.ProviderEntry{Name: "primary-tts"}

	_, err := buildProviders(cfg, testRegistry())
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}
