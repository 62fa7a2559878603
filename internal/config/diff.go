package config

// ConfigDiff describes what changed between two configs. Only the log
// level can be applied without a restart; the other flags exist so the
// server can tell the operator a restart is needed.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	CleanupChanged   bool
	WorkersChanged   bool
	ProvidersChanged bool
	StoreChanged     bool
}

// HotApplicable reports whether every detected change can be applied to a
// running server.
func (d ConfigDiff) HotApplicable() bool {
	return !d.CleanupChanged && !d.WorkersChanged && !d.ProvidersChanged && !d.StoreChanged
}

// RestartRequired lists the sections that changed but only take effect
// after a restart.
func (d ConfigDiff) RestartRequired() []string {
	var sections []string
	if d.ProvidersChanged {
		sections = append(sections, "providers")
	}
	if d.StoreChanged {
		sections = append(sections, "store")
	}
	if d.WorkersChanged {
		sections = append(sections, "workers")
	}
	if d.CleanupChanged {
		sections = append(sections, "cleanup")
	}
	return sections
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Cleanup != new.Cleanup {
		d.CleanupChanged = true
	}
	if old.Workers != new.Workers {
		d.WorkersChanged = true
	}
	if old.Store != new.Store {
		d.StoreChanged = true
	}
	if providerChanged(old.Providers.LLM, new.Providers.LLM) || providerChanged(old.Providers.TTS, new.Providers.TTS) {
		d.ProvidersChanged = true
	}
	return d
}

// providerChanged ignores the Options map, which is not comparable; a
// change there alone still needs a restart but is rare enough to accept.
func providerChanged(old, new ProviderEntry) bool {
	return old.Name != new.Name ||
		old.APIKey != new.APIKey ||
		old.BaseURL != new.BaseURL ||
		old.Model != new.Model
}
