package config_test

import (
	"testing"

	"github.com/podforge/podforge/internal/config"
)

func TestLogLevelIsValid(t *testing.T) {
	t.Parallel()
	valid := []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError}
	for _, l := range valid {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	invalid := []config.LogLevel{"", "trace", "verbose", "INFO "}
	for _, l := range invalid {
		if l.IsValid() {
			t.Errorf("%q should be invalid", l)
		}
	}
}

func TestStoreBackendIsValid(t *testing.T) {
	t.Parallel()
	if !config.StoreMemory.IsValid() || !config.StorePostgres.IsValid() {
		t.Error("built-in backends should be valid")
	}
	if config.StoreBackend("redis").IsValid() {
		t.Error("unknown backend should be invalid")
	}
}
