package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/podforge/podforge/internal/cleanup"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "anyllm"},
	"tts": {"googletts", "elevenlabs"},
}

// Defaults mirroring the documented behaviour of the orchestrator.
const (
	DefaultTaskWorkers  = 4
	DefaultTTSWorkers   = 16
	DefaultLLMWorkers   = 18
	DefaultVoiceTTL     = 24 * time.Hour
	DefaultOutputRoot   = "./output"
	DefaultWebhookTries = 3
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with environment overrides applied. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := &Config{}
		applyEnv(cfg)
		applyDefaults(cfg)
		return cfg, Validate(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment
// overrides and defaults, and validates the result. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyEnv(cfg)
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv layers environment variables over the file values. Environment
// wins so that container deployments can tune a shared config file.
func applyEnv(cfg *Config) {
	if v, ok := envInt("TASK_WORKERS"); ok {
		cfg.Workers.Tasks = v
	}
	if v, ok := envInt("TTS_WORKERS"); ok {
		cfg.Workers.TTS = v
	}
	if v, ok := envInt("LLM_WORKERS"); ok {
		cfg.Workers.LLM = v
	}
	if v, ok := envInt("VOICE_CACHE_TTL_SECONDS"); ok {
		cfg.Voices.CacheTTL = time.Duration(v) * time.Second
	}
	if v := os.Getenv("CLEANUP_DEFAULT_POLICY"); v != "" {
		cfg.Cleanup.Policy = v
	}
	if v, ok := envInt("WEBHOOK_MAX_RETRIES"); ok {
		cfg.Webhook.MaxAttempts = v
	}
	if v := os.Getenv("OUTPUT_ROOT"); v != "" {
		cfg.Output.Root = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Store.Backend = StorePostgres
		cfg.Store.PostgresDSN = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.Providers.LLM.APIKey = v
	}
	if v := os.Getenv("TTS_API_KEY"); v != "" {
		cfg.Providers.TTS.APIKey = v
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring non-numeric environment override", "name", name, "value", v)
		return 0, false
	}
	return n, true
}

func applyDefaults(cfg *Config) {
	if cfg.Workers.Tasks <= 0 {
		cfg.Workers.Tasks = DefaultTaskWorkers
	}
	if cfg.Workers.TTS <= 0 {
		cfg.Workers.TTS = DefaultTTSWorkers
	}
	if cfg.Workers.LLM <= 0 {
		cfg.Workers.LLM = DefaultLLMWorkers
	}
	if cfg.Voices.CacheTTL <= 0 {
		cfg.Voices.CacheTTL = DefaultVoiceTTL
	}
	if cfg.Output.Root == "" {
		cfg.Output.Root = DefaultOutputRoot
	}
	if cfg.Voices.CacheDir == "" {
		cfg.Voices.CacheDir = cfg.Output.Root
	}
	if cfg.Webhook.MaxAttempts <= 0 {
		cfg.Webhook.MaxAttempts = DefaultWebhookTries
	}
	if cfg.Webhook.BaseDelay <= 0 {
		cfg.Webhook.BaseDelay = time.Second
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreMemory
	}
	if cfg.Cleanup.Policy == "" {
		cfg.Cleanup.Policy = string(cleanup.PolicyManual)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)

	for _, fb := range cfg.Providers.LLM.Fallbacks {
		validateProviderName("llm", fb.Name)
		if fb.Name == "" {
			errs = append(errs, errors.New("providers.llm.fallbacks entries require a name"))
		}
		if len(fb.Fallbacks) > 0 {
			errs = append(errs, errors.New("providers.llm.fallbacks entries cannot nest further fallbacks"))
		}
	}
	for _, fb := range cfg.Providers.TTS.Fallbacks {
		validateProviderName("tts", fb.Name)
		if fb.Name == "" {
			errs = append(errs, errors.New("providers.tts.fallbacks entries require a name"))
		}
		if len(fb.Fallbacks) > 0 {
			errs = append(errs, errors.New("providers.tts.fallbacks entries cannot nest further fallbacks"))
		}
	}

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; generation tasks will fail at the analysis phase")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("no TTS provider configured; generation tasks will fail at the audio phase")
	}

	if !cfg.Store.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, postgres", cfg.Store.Backend))
	}
	if cfg.Store.Backend == StorePostgres && cfg.Store.PostgresDSN == "" {
		errs = append(errs, errors.New("store.postgres_dsn is required when store.backend is postgres"))
	}

	if _, err := cleanup.ParsePolicy(cfg.Cleanup.Policy); err != nil {
		errs = append(errs, fmt.Errorf("cleanup.policy: %w", err))
	}
	switch cleanup.Policy(cfg.Cleanup.Policy) {
	case cleanup.PolicyAutoAfterHours:
		if cfg.Cleanup.AfterHours <= 0 {
			errs = append(errs, errors.New("cleanup.after_hours must be positive for the auto_after_hours policy"))
		}
	case cleanup.PolicyAutoAfterDays:
		if cfg.Cleanup.AfterDays <= 0 {
			errs = append(errs, errors.New("cleanup.after_days must be positive for the auto_after_days policy"))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
