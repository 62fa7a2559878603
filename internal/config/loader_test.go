package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/podforge/podforge/internal/config"
)

func TestLoadFromReader_Defaults(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Workers.Tasks != config.DefaultTaskWorkers {
		t.Errorf("workers.tasks = %d, want %d", cfg.Workers.Tasks, config.DefaultTaskWorkers)
	}
	if cfg.Workers.TTS != config.DefaultTTSWorkers {
		t.Errorf("workers.tts = %d, want %d", cfg.Workers.TTS, config.DefaultTTSWorkers)
	}
	if cfg.Workers.LLM != config.DefaultLLMWorkers {
		t.Errorf("workers.llm = %d, want %d", cfg.Workers.LLM, config.DefaultLLMWorkers)
	}
	if cfg.Voices.CacheTTL != config.DefaultVoiceTTL {
		t.Errorf("voices.cache_ttl = %v, want %v", cfg.Voices.CacheTTL, config.DefaultVoiceTTL)
	}
	if cfg.Output.Root != config.DefaultOutputRoot {
		t.Errorf("output.root = %q, want %q", cfg.Output.Root, config.DefaultOutputRoot)
	}
	if cfg.Store.Backend != config.StoreMemory {
		t.Errorf("store.backend = %q, want memory", cfg.Store.Backend)
	}
	if cfg.Cleanup.Policy != "manual" {
		t.Errorf("cleanup.policy = %q, want manual", cfg.Cleanup.Policy)
	}
	if cfg.Webhook.MaxAttempts != config.DefaultWebhookTries {
		t.Errorf("webhook.max_attempts = %d, want %d", cfg.Webhook.MaxAttempts, config.DefaultWebhookTries)
	}
}

func TestLoadFromReader_FullConfig(t *testing.T) {
	yaml := `
server:
  listen_addr: ":9090"
  log_level: debug
providers:
  llm:
    name: openai
    model: gpt-4o
  tts:
    name: googletts
store:
  backend: postgres
  postgres_dsn: "postgres://localhost/podforge"
workers:
  tasks: 8
  tts: 32
voices:
  cache_ttl: 1h
output:
  root: /var/lib/podforge
cleanup:
  policy: retain_audio_only
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("server.listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Providers.LLM.Model != "gpt-4o" {
		t.Errorf("providers.llm.model = %q", cfg.Providers.LLM.Model)
	}
	if cfg.Workers.Tasks != 8 || cfg.Workers.TTS != 32 {
		t.Errorf("workers = %+v", cfg.Workers)
	}
	if cfg.Voices.CacheTTL != time.Hour {
		t.Errorf("voices.cache_ttl = %v", cfg.Voices.CacheTTL)
	}
	// CacheDir defaults to the output root.
	if cfg.Voices.CacheDir != "/var/lib/podforge" {
		t.Errorf("voices.cache_dir = %q", cfg.Voices.CacheDir)
	}
}

func TestLoadFromReader_ProviderFallbacks(t *testing.T) {
	yaml := `
providers:
  llm:
    name: openai
    fallbacks:
      - name: ollama
        model: llama3
  tts:
    name: googletts
    fallbacks:
      - name: elevenlabs
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Providers.LLM.Fallbacks) != 1 || cfg.Providers.LLM.Fallbacks[0].Name != "ollama" {
		t.Errorf("llm fallbacks = %+v", cfg.Providers.LLM.Fallbacks)
	}
	if cfg.Providers.LLM.Fallbacks[0].Model != "llama3" {
		t.Errorf("llm fallback model = %q", cfg.Providers.LLM.Fallbacks[0].Model)
	}
	if len(cfg.Providers.TTS.Fallbacks) != 1 || cfg.Providers.TTS.Fallbacks[0].Name != "elevenlabs" {
		t.Errorf("tts fallbacks = %+v", cfg.Providers.TTS.Fallbacks)
	}
}

func TestValidate_FallbackConstraints(t *testing.T) {
	yaml := `
providers:
  llm:
    name: openai
    fallbacks:
      - api_key: key-without-name
  tts:
    name: googletts
    fallbacks:
      - name: elevenlabs
        fallbacks:
          - name: googletts
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"fallbacks entries require a name", "cannot nest"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	yaml := `
servr:
  listen_addr: ":9090"
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown top-level field, got nil")
	}
}

func TestValidate_PostgresRequiresDSN(t *testing.T) {
	yaml := `
store:
  backend: postgres
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for postgres backend without DSN, got nil")
	}
	if !strings.Contains(err.Error(), "postgres_dsn") {
		t.Errorf("error should mention postgres_dsn, got: %v", err)
	}
}

func TestValidate_BadLogLevel(t *testing.T) {
	yaml := `
server:
  log_level: loud
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for bad log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_BadCleanupPolicy(t *testing.T) {
	yaml := `
cleanup:
  policy: sometimes
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown cleanup policy, got nil")
	}
}

func TestValidate_AgePolicyNeedsThreshold(t *testing.T) {
	yaml := `
cleanup:
  policy: auto_after_hours
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for auto_after_hours without after_hours, got nil")
	}
	if !strings.Contains(err.Error(), "after_hours") {
		t.Errorf("error should mention after_hours, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	yaml := `
server:
  log_level: loud
store:
  backend: postgres
`
	err := func() error {
		_, err := config.LoadFromReader(strings.NewReader(yaml))
		return err
	}()
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") || !strings.Contains(errStr, "postgres_dsn") {
		t.Errorf("joined error should mention both failures, got: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TASK_WORKERS", "2")
	t.Setenv("OUTPUT_ROOT", "/tmp/forge-out")
	t.Setenv("CLEANUP_DEFAULT_POLICY", "on_completion")
	t.Setenv("VOICE_CACHE_TTL_SECONDS", "3600")

	cfg, err := config.LoadFromReader(strings.NewReader("workers:\n  tasks: 8\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Workers.Tasks != 2 {
		t.Errorf("workers.tasks = %d, want env override 2", cfg.Workers.Tasks)
	}
	if cfg.Output.Root != "/tmp/forge-out" {
		t.Errorf("output.root = %q", cfg.Output.Root)
	}
	if cfg.Cleanup.Policy != "on_completion" {
		t.Errorf("cleanup.policy = %q", cfg.Cleanup.Policy)
	}
	if cfg.Voices.CacheTTL != time.Hour {
		t.Errorf("voices.cache_ttl = %v", cfg.Voices.CacheTTL)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	if len(config.ValidProviderNames["llm"]) == 0 {
		t.Fatal("ValidProviderNames[\"llm\"] should not be empty")
	}
	found := false
	for _, n := range config.ValidProviderNames["tts"] {
		if n == "googletts" {
			found = true
			break
		}
	}
	if !found {
		t.Error("ValidProviderNames[\"tts\"] should contain \"googletts\"")
	}
}
