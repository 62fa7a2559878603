// Package cleanup applies retention policies to the artifact files a
// finished task left on disk. It only ever touches files; task lifecycle
// state is out of its reach.
package cleanup

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/podforge/podforge/pkg/podcast"
)

// Policy selects when and how aggressively artifacts are removed.
type Policy string

const (
	// PolicyManual never deletes anything automatically.
	PolicyManual Policy = "manual"

	// PolicyAutoAfterHours deletes artifacts of tasks older than a
	// configured number of hours.
	PolicyAutoAfterHours Policy = "auto_after_hours"

	// PolicyAutoAfterDays deletes artifacts of tasks older than a
	// configured number of days.
	PolicyAutoAfterDays Policy = "auto_after_days"

	// PolicyRetainAudioOnly deletes everything but the final audio as
	// soon as the task completes.
	PolicyRetainAudioOnly Policy = "retain_audio_only"

	// PolicyOnCompletion applies the configured retention flags right
	// after completion.
	PolicyOnCompletion Policy = "on_completion"
)

// ParsePolicy validates a policy string.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyManual, PolicyAutoAfterHours, PolicyAutoAfterDays, PolicyRetainAudioOnly, PolicyOnCompletion:
		return p, nil
	case "":
		return PolicyManual, nil
	default:
		return "", fmt.Errorf("cleanup: unknown policy %q", s)
	}
}

// Retention says which artifact classes survive a cleanup.
type Retention struct {
	RetainAudioFiles    bool `json:"retain_audio_files" yaml:"retain_audio_files"`
	RetainTranscripts   bool `json:"retain_transcripts" yaml:"retain_transcripts"`
	RetainLLMOutputs    bool `json:"retain_llm_outputs" yaml:"retain_llm_outputs"`
	RetainAudioSegments bool `json:"retain_audio_segments" yaml:"retain_audio_segments"`
}

// Config is the manager-wide cleanup configuration.
type Config struct {
	Policy     Policy    `json:"policy" yaml:"policy"`
	AfterHours int       `json:"after_hours" yaml:"after_hours"`
	AfterDays  int       `json:"after_days" yaml:"after_days"`
	Retention  Retention `json:"retention" yaml:"retention"`
}

// Result reports what one cleanup pass did.
type Result struct {
	CleanedFiles   []string `json:"cleaned_files"`
	FailedFiles    []string `json:"failed_files"`
	TotalSizeFreed int64    `json:"total_size_freed"`
}

// Option is a functional option for Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager applies retention policies under one output root.
type Manager struct {
	outputRoot string
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Manager. An empty policy defaults to manual.
func New(outputRoot string, cfg Config, opts ...Option) *Manager {
	if cfg.Policy == "" {
		cfg.Policy = PolicyManual
	}
	m := &Manager{
		outputRoot: outputRoot,
		cfg:        cfg,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Config returns the active configuration.
func (m *Manager) Config() Config { return m.cfg }

// CleanOnCompletion reports whether the policy wants an immediate pass
// when a task reaches a terminal state.
func (m *Manager) CleanOnCompletion() bool {
	return m.cfg.Policy == PolicyOnCompletion || m.cfg.Policy == PolicyRetainAudioOnly
}

// Eligible reports whether an age-based policy would clean the task now.
// Manual and completion-triggered policies always return false here.
func (m *Manager) Eligible(st *podcast.TaskStatus) bool {
	if !st.Status.Terminal() {
		return false
	}
	age := m.now().Sub(st.LastUpdatedAt)
	switch m.cfg.Policy {
	case PolicyAutoAfterHours:
		return m.cfg.AfterHours > 0 && age >= time.Duration(m.cfg.AfterHours)*time.Hour
	case PolicyAutoAfterDays:
		return m.cfg.AfterDays > 0 && age >= time.Duration(m.cfg.AfterDays)*24*time.Hour
	default:
		return false
	}
}

// Apply removes the task's non-retained artifact files. override, when
// non-nil, replaces the configured retention flags for this pass only.
// The task directory itself is removed when nothing survives.
func (m *Manager) Apply(taskID string, override *Retention) (Result, error) {
	var res Result

	retain := m.cfg.Retention
	if m.cfg.Policy == PolicyRetainAudioOnly {
		retain = Retention{RetainAudioFiles: true}
	}
	if override != nil {
		retain = *override
	}

	taskDir := filepath.Join(m.outputRoot, taskID)
	if _, err := os.Stat(taskDir); err != nil {
		return res, fmt.Errorf("cleanup: task directory: %w", err)
	}

	err := filepath.WalkDir(taskDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if retained(retain, taskDir, path) {
			return nil
		}
		info, statErr := d.Info()
		if rmErr := os.Remove(path); rmErr != nil {
			res.FailedFiles = append(res.FailedFiles, path)
			m.logger.Warn("cleanup could not remove file", "path", path, "error", rmErr)
			return nil
		}
		res.CleanedFiles = append(res.CleanedFiles, path)
		if statErr == nil {
			res.TotalSizeFreed += info.Size()
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("cleanup: walk %s: %w", taskDir, err)
	}

	pruneEmptyDirs(taskDir)

	m.logger.Info("cleanup applied",
		"task_id", taskID, "cleaned", len(res.CleanedFiles),
		"failed", len(res.FailedFiles), "bytes_freed", res.TotalSizeFreed)
	return res, nil
}

// retained classifies one artifact file against the retention flags.
func retained(r Retention, taskDir, path string) bool {
	rel, err := filepath.Rel(taskDir, path)
	if err != nil {
		return true
	}
	rel = filepath.ToSlash(rel)
	base := filepath.Base(rel)

	switch {
	case strings.HasPrefix(rel, "audio_segments/"):
		return r.RetainAudioSegments
	case strings.HasPrefix(base, "final."):
		return r.RetainAudioFiles
	case base == "dialogue_turns.json":
		return r.RetainTranscripts
	case base == "source_analysis.json",
		base == "podcast_outline.json",
		strings.HasPrefix(base, "persona_research_"):
		return r.RetainLLMOutputs
	default:
		// Unclassified files are never deleted.
		return true
	}
}

// pruneEmptyDirs removes now-empty directories bottom-up, including the
// task directory itself when every artifact is gone.
func pruneEmptyDirs(root string) {
	var dirs []string
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	for i := len(dirs) - 1; i >= 0; i-- {
		entries, err := os.ReadDir(dirs[i])
		if err == nil && len(entries) == 0 {
			os.Remove(dirs[i])
		}
	}
}
