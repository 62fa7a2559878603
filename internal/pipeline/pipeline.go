// Package pipeline executes the podcast generation phases for one task:
// extract, analyse, research, outline, dialogue, synthesis, stitching and
// finalisation. It is the sole writer of task status during a run.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/podforge/podforge/internal/assembler"
	"github.com/podforge/podforge/internal/cleanup"
	"github.com/podforge/podforge/internal/llmjson"
	"github.com/podforge/podforge/internal/observe"
	"github.com/podforge/podforge/internal/persona"
	"github.com/podforge/podforge/internal/planner"
	"github.com/podforge/podforge/internal/status"
	"github.com/podforge/podforge/internal/webhook"
	"github.com/podforge/podforge/pkg/extract"
	"github.com/podforge/podforge/pkg/podcast"
	"github.com/podforge/podforge/pkg/provider/llm"
)

const (
	// DefaultAnalysisTimeout bounds the source analysis completion.
	DefaultAnalysisTimeout = 180 * time.Second

	// DefaultResearchTimeout bounds persona research, outline and
	// per-segment dialogue completions.
	DefaultResearchTimeout = 420 * time.Second

	// DefaultLLMWorkers bounds concurrent LLM completions across all
	// in-flight tasks.
	DefaultLLMWorkers = 18

	// stackLimit truncates captured panic stacks in error details.
	stackLimit = 4096
)

// phaseError is a failure with a client-facing title.
type phaseError struct {
	title  string
	detail string
}

func (e *phaseError) Error() string { return e.title + ": " + e.detail }

// Option is a functional option for Pipeline.
type Option func(*Pipeline)

// WithNotifier wires terminal-state webhook delivery.
func WithNotifier(n *webhook.Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithCleaner wires completion-triggered artifact cleanup.
func WithCleaner(c *cleanup.Manager) Option {
	return func(p *Pipeline) { p.cleaner = c }
}

// WithTimeouts overrides the LLM call timeouts.
func WithTimeouts(analysis, research time.Duration) Option {
	return func(p *Pipeline) {
		if analysis > 0 {
			p.analysisTimeout = analysis
		}
		if research > 0 {
			p.researchTimeout = research
		}
	}
}

// WithLLMWorkers bounds concurrent LLM completions across all tasks.
func WithLLMWorkers(n int64) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.llmSlots = semaphore.NewWeighted(n)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithMetrics overrides the metric instruments, mainly for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// Pipeline orchestrates podcast generation runs. One Pipeline serves all
// tasks; per-task state lives in the status store and on disk.
type Pipeline struct {
	store      status.Store
	llm        llm.Provider
	extractors map[extract.Kind]extract.Extractor
	voices     persona.VoiceSource
	asm        *assembler.Assembler
	notifier   *webhook.Notifier
	cleaner    *cleanup.Manager
	outputRoot string
	llmSlots   *semaphore.Weighted

	analysisTimeout time.Duration
	researchTimeout time.Duration
	logger          *slog.Logger
	metrics         *observe.Metrics
}

// New creates a Pipeline.
func New(store status.Store, provider llm.Provider, extractors map[extract.Kind]extract.Extractor, voiceSource persona.VoiceSource, asm *assembler.Assembler, outputRoot string, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:           store,
		llm:             provider,
		extractors:      extractors,
		voices:          voiceSource,
		asm:             asm,
		outputRoot:      outputRoot,
		llmSlots:        semaphore.NewWeighted(DefaultLLMWorkers),
		analysisTimeout: DefaultAnalysisTimeout,
		researchTimeout: DefaultResearchTimeout,
		logger:          slog.Default(),
		metrics:         observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run executes the full pipeline for one task. It never returns an
// error; every outcome is written to the status store, and terminal
// states trigger the webhook and cleanup hooks.
func (p *Pipeline) Run(ctx context.Context, taskID string, req podcast.Request) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			if len(stack) > stackLimit {
				stack = stack[:stackLimit]
			}
			detail := fmt.Sprintf("%v\n%s", r, stack)
			p.logger.Error("pipeline panicked", "task_id", taskID, "panic", r)
			p.setTerminalError(taskID, "Internal Pipeline Error", detail)
			p.finish(taskID, req, started)
		}
	}()

	err := p.run(ctx, taskID, req)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil:
		detached := context.WithoutCancel(ctx)
		if uerr := p.store.Update(detached, taskID, podcast.StateCancelled, "Task cancelled by request", -1); uerr != nil && !errors.Is(uerr, status.ErrTerminal) {
			p.logger.Error("cancel transition failed", "task_id", taskID, "error", uerr)
		}
	default:
		var pe *phaseError
		if errors.As(err, &pe) {
			p.setTerminalError(taskID, pe.title, pe.detail)
		} else {
			p.setTerminalError(taskID, "Pipeline Error", err.Error())
		}
	}
	p.finish(taskID, req, started)
}

func (p *Pipeline) setTerminalError(taskID, title, detail string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.store.SetError(ctx, taskID, title, detail); err != nil && !errors.Is(err, status.ErrTerminal) {
		p.logger.Error("error transition failed", "task_id", taskID, "error", err)
	}
}

// finish records the terminal outcome, delivers the webhook and applies
// completion-triggered cleanup.
func (p *Pipeline) finish(taskID string, req podcast.Request, started time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	st, err := p.store.Get(ctx, taskID)
	if err != nil {
		p.logger.Error("terminal status read failed", "task_id", taskID, "error", err)
		return
	}
	p.metrics.RecordTaskFinished(ctx, string(st.Status), time.Since(started).Seconds())
	if p.notifier != nil && req.WebhookURL != "" {
		// Best effort; Deliver logs its own failures.
		_ = p.notifier.NotifyTerminal(ctx, req.WebhookURL, st)
	}
	if p.cleaner != nil && p.cleaner.CleanOnCompletion() && st.Status == podcast.StateCompleted {
		if _, err := p.cleaner.Apply(taskID, nil); err != nil {
			p.logger.Warn("completion cleanup failed", "task_id", taskID, "error", err)
		}
	}
}

// checkpoint advances the task to the next phase after verifying the run
// has not been cancelled.
func (p *Pipeline) checkpoint(ctx context.Context, taskID string, state podcast.State, description string, progress int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.store.Update(ctx, taskID, state, description, progress)
}

func (p *Pipeline) warn(ctx context.Context, taskID, message string) {
	p.logger.Warn("pipeline warning", "task_id", taskID, "warning", message)
	if err := p.store.AppendWarning(ctx, taskID, message); err != nil {
		p.logger.Error("append warning failed", "task_id", taskID, "error", err)
	}
}

// complete runs one LLM completion inside the shared worker pool with the
// given per-call timeout.
func (p *Pipeline) complete(ctx context.Context, timeout time.Duration, system, prompt string) (*llm.CompletionResponse, error) {
	if err := p.llmSlots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.llmSlots.Release(1)

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.llm.Complete(cctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	})
	mctx := context.WithoutCancel(ctx)
	p.metrics.LLMDuration.Record(mctx, time.Since(start).Seconds())
	if err != nil {
		p.metrics.RecordProviderRequest(mctx, p.llm.Name(), "llm", "error")
		p.metrics.RecordProviderError(mctx, p.llm.Name(), "llm")
	} else {
		p.metrics.RecordProviderRequest(mctx, p.llm.Name(), "llm", "ok")
	}
	return resp, err
}

func (p *Pipeline) run(ctx context.Context, taskID string, req podcast.Request) error {
	taskDir := filepath.Join(p.outputRoot, taskID)
	if err := os.MkdirAll(taskDir, 0o755); err != nil {
		return fmt.Errorf("pipeline: create task dir: %w", err)
	}

	phaseStart := time.Now()
	endPhase := func(state podcast.State) {
		p.metrics.RecordPhase(context.WithoutCancel(ctx), string(state), time.Since(phaseStart).Seconds())
		phaseStart = time.Now()
	}

	// Phase 1: source ingestion.
	if err := p.checkpoint(ctx, taskID, podcast.StatePreprocessing, "Extracting source content", 5); err != nil {
		return err
	}
	combined, attributions, err := p.ingestSources(ctx, taskID, req)
	if err != nil {
		return err
	}
	if err := p.store.SetArtifact(ctx, taskID, status.ArtifactSourceContent); err != nil {
		return err
	}

	endPhase(podcast.StatePreprocessing)

	// Phase 2: source analysis.
	if err := p.checkpoint(ctx, taskID, podcast.StateAnalyzing, "Analyzing source content", 15); err != nil {
		return err
	}
	analysis := p.analyzeSources(ctx, taskID, combined)
	if !analysis.Empty() {
		p.writeArtifact(taskID, taskDir, "source_analysis.json", analysis)
		if err := p.store.SetArtifact(ctx, taskID, status.ArtifactSourceAnalysis); err != nil {
			return err
		}
	}

	endPhase(podcast.StateAnalyzing)

	// Phase 3: persona research and voice assignment.
	if err := p.checkpoint(ctx, taskID, podcast.StateResearching, "Researching personas", 30); err != nil {
		return err
	}
	personas, err := p.researchPersonas(ctx, taskID, taskDir, req, combined)
	if err != nil {
		return err
	}
	if err := p.store.SetArtifact(ctx, taskID, status.ArtifactPersonaResearch); err != nil {
		return err
	}

	endPhase(podcast.StateResearching)

	// Phase 4: outline.
	if err := p.checkpoint(ctx, taskID, podcast.StateOutlining, "Generating episode outline", 45); err != nil {
		return err
	}
	targetSeconds, derr := planner.ParseDuration(req.DesiredPodcastLength)
	if derr != nil {
		targetSeconds = planner.DefaultDurationSeconds
		if req.DesiredPodcastLength != "" {
			p.warn(ctx, taskID, fmt.Sprintf("could not parse desired length %q, using %d seconds", req.DesiredPodcastLength, targetSeconds))
		}
	}
	outline := p.generateOutline(ctx, taskID, analysis, personas, targetSeconds, req.CustomOutlinePrompt)
	for _, w := range planner.Normalize(&outline, targetSeconds) {
		p.warn(ctx, taskID, w)
	}
	p.writeArtifact(taskID, taskDir, "podcast_outline.json", outline)
	if err := p.store.SetArtifact(ctx, taskID, status.ArtifactOutline); err != nil {
		return err
	}

	endPhase(podcast.StateOutlining)

	// Phase 5: dialogue.
	if err := p.checkpoint(ctx, taskID, podcast.StateDialogue, "Generating dialogue script", 60); err != nil {
		return err
	}
	turns, err := p.generateDialogue(ctx, taskID, outline, personas, req.CustomDialoguePrompt)
	if err != nil {
		return err
	}
	p.writeArtifact(taskID, taskDir, "dialogue_turns.json", turns)
	if err := p.store.SetArtifact(ctx, taskID, status.ArtifactDialogueScript); err != nil {
		return err
	}

	endPhase(podcast.StateDialogue)

	// Phase 6: per-turn audio synthesis.
	if err := p.checkpoint(ctx, taskID, podcast.StateAudioSegments, "Synthesizing audio segments", 75); err != nil {
		return err
	}
	resolve := assembler.ResolverFromCast(personas, nil)
	progress := func(done, total int) {
		pct := 75 + 15*done/total
		desc := fmt.Sprintf("Synthesizing audio segments (%d/%d)", done, total)
		if err := p.store.SetProgress(context.WithoutCancel(ctx), taskID, pct, desc); err != nil {
			p.logger.Debug("progress update failed", "task_id", taskID, "error", err)
		}
	}
	synth, err := p.asm.SynthesizeTurns(ctx, turns, resolve, taskDir, progress)
	for _, w := range synth.Warnings {
		p.warn(context.WithoutCancel(ctx), taskID, w)
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &phaseError{title: "Audio Synthesis Failed", detail: err.Error()}
	}
	if err := p.store.SetArtifact(ctx, taskID, status.ArtifactAudioSegments); err != nil {
		return err
	}

	endPhase(podcast.StateAudioSegments)

	// Phase 7: stitching.
	if err := p.checkpoint(ctx, taskID, podcast.StateStitching, "Stitching final episode", 90); err != nil {
		return err
	}
	finalPath, err := p.asm.StitchEpisode(ctx, synth.SegmentPaths, taskDir)
	if err != nil {
		return &phaseError{title: "Audio Stitching Failed", detail: err.Error()}
	}

	endPhase(podcast.StateStitching)

	// Phase 8: finalisation.
	if err := p.checkpoint(ctx, taskID, podcast.StatePostprocessing, "Building final episode", 95); err != nil {
		return err
	}
	st, err := p.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	episode := podcast.Episode{
		Title:              outline.TitleSuggestion,
		Summary:            outline.SummarySuggestion,
		Transcript:         podcast.Transcript(turns),
		AudioFilepath:      finalPath,
		SourceAttributions: attributions,
		Warnings:           st.Warnings,
		AnalysisPath:       filepath.Join(taskDir, "source_analysis.json"),
		OutlinePath:        filepath.Join(taskDir, "podcast_outline.json"),
		DialoguePath:       filepath.Join(taskDir, "dialogue_turns.json"),
	}
	if episode.Title == "" {
		episode.Title = "Generated Podcast"
	}
	if err := p.store.SetEpisode(ctx, taskID, episode); err != nil {
		return err
	}
	if err := p.store.SetArtifact(ctx, taskID, status.ArtifactFinalAudio); err != nil {
		return err
	}
	if err := p.store.SetArtifact(ctx, taskID, status.ArtifactFinalTranscript); err != nil {
		return err
	}
	if err := p.store.Update(ctx, taskID, podcast.StateCompleted, "Podcast generation complete", 100); err != nil {
		return err
	}
	endPhase(podcast.StatePostprocessing)
	p.logger.Info("pipeline completed", "task_id", taskID, "audio", finalPath, "turns", len(turns))
	return nil
}

// ingestSources extracts every source and concatenates the per-source
// blocks. Per-source failures are warnings; only a fully empty bundle is
// fatal.
func (p *Pipeline) ingestSources(ctx context.Context, taskID string, req podcast.Request) (string, []string, error) {
	sources := append([]string(nil), req.SourceURLs...)
	if req.SourcePDFPath != "" {
		sources = append(sources, req.SourcePDFPath)
	}

	var (
		blocks       []string
		attributions []string
	)
	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}
		ex := p.extractors[extract.Classify(src)]
		if ex == nil {
			p.warn(ctx, taskID, fmt.Sprintf("no extractor for source %s", src))
			continue
		}
		extStart := time.Now()
		res, err := ex.Extract(ctx, src)
		p.metrics.ExtractionDuration.Record(context.WithoutCancel(ctx), time.Since(extStart).Seconds())
		if err != nil {
			p.warn(ctx, taskID, fmt.Sprintf("source %s: extraction failed: %v", src, err))
			continue
		}
		if strings.TrimSpace(res.Text) == "" {
			p.warn(ctx, taskID, fmt.Sprintf("source %s: no text content", src))
			continue
		}
		blocks = append(blocks, fmt.Sprintf("--- SOURCE %d: %s ---\n%s", i+1, res.Attribution, res.Text))
		attributions = append(attributions, res.Attribution)
	}

	if len(blocks) == 0 {
		return "", nil, &phaseError{
			title:  "No Content Extracted",
			detail: fmt.Sprintf("none of the %d sources yielded text content", len(sources)),
		}
	}
	return strings.Join(blocks, "\n\n"), attributions, nil
}

// analyzeSources runs the analysis completion. Failures degrade to an
// empty analysis with a warning.
func (p *Pipeline) analyzeSources(ctx context.Context, taskID, combined string) podcast.SourceAnalysis {
	var analysis podcast.SourceAnalysis

	resp, err := p.complete(ctx, p.analysisTimeout, analysisSystemPrompt, analysisPrompt(combined))
	if err != nil {
		p.warn(ctx, taskID, fmt.Sprintf("source analysis failed, continuing without: %v", err))
		return analysis
	}
	if err := llmjson.Decode(resp.Content, &analysis); err != nil {
		p.warn(ctx, taskID, fmt.Sprintf("source analysis returned invalid structure, continuing without: %v", err))
		return podcast.SourceAnalysis{}
	}
	return analysis
}

// researchPersonas researches each prominent person, assigns stage
// identities and voices, and always appends the synthetic Host last.
//
// Research fans out concurrently; the shared LLM pool bounds the real
// parallelism. Assignment runs sequentially afterwards so name and voice
// picks stay deterministic in request order.
func (p *Pipeline) researchPersonas(ctx context.Context, taskID, taskDir string, req podcast.Request, combined string) ([]podcast.PersonaResearch, error) {
	alloc := persona.New(p.voices, persona.WithLogger(p.logger))

	profiles := make([]podcast.PersonaResearch, len(req.ProminentPersons))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range req.ProminentPersons {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			pr := podcast.PersonaResearch{
				PersonID:          podcast.Slug(name),
				Name:              name,
				CreationTimestamp: time.Now().UTC(),
				SourceContext:     truncate(combined, sourceContextLimit),
			}

			resp, err := p.complete(gctx, p.researchTimeout, researchSystemPrompt, researchPrompt(name, combined))
			switch {
			case err != nil && gctx.Err() != nil:
				return gctx.Err()
			case err != nil:
				p.warn(gctx, taskID, fmt.Sprintf("persona research for %s failed, using minimal profile: %v", name, err))
				pr.DetailedProfile = fmt.Sprintf("%s, a guest on this episode.", name)
			default:
				var reply struct {
					DetailedProfile string `json:"detailed_profile"`
					Gender          string `json:"gender"`
				}
				if derr := llmjson.Decode(resp.Content, &reply); derr != nil {
					p.warn(gctx, taskID, fmt.Sprintf("persona research for %s returned invalid structure: %v", name, derr))
					pr.DetailedProfile = fmt.Sprintf("%s, a guest on this episode.", name)
				} else {
					pr.DetailedProfile = reply.DetailedProfile
					if reply.Gender != "" {
						pr.Gender = podcast.ParseGender(reply.Gender)
					}
				}
			}
			profiles[i] = pr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var personas []podcast.PersonaResearch
	for i := range profiles {
		pr := profiles[i]
		if err := alloc.Assign(ctx, &pr); err != nil {
			return nil, err
		}
		p.writeArtifact(taskID, taskDir, fmt.Sprintf("persona_research_%s.json", pr.PersonID), pr)
		personas = append(personas, pr)
	}

	host, err := alloc.AssignHost(ctx, req.HostInventedName, req.HostGender)
	if err != nil {
		return nil, err
	}
	host.CreationTimestamp = time.Now().UTC()
	p.writeArtifact(taskID, taskDir, fmt.Sprintf("persona_research_%s.json", podcast.Slug(host.PersonID)), host)
	personas = append(personas, host)

	for _, w := range alloc.Warnings() {
		p.warn(ctx, taskID, w)
	}
	for _, w := range persona.Verify(personas) {
		p.warn(ctx, taskID, w)
	}
	return personas, nil
}

// generateOutline runs the outline completion. Failures degrade to an
// empty outline, which Normalize turns into a skeleton.
func (p *Pipeline) generateOutline(ctx context.Context, taskID string, analysis podcast.SourceAnalysis, personas []podcast.PersonaResearch, targetSeconds int, customPrompt string) podcast.Outline {
	var outline podcast.Outline

	resp, err := p.complete(ctx, p.researchTimeout, outlineSystemPrompt, outlinePrompt(analysis, personas, targetSeconds, customPrompt))
	if err != nil {
		p.warn(ctx, taskID, fmt.Sprintf("outline generation failed, using default structure: %v", err))
		return outline
	}
	if err := llmjson.Decode(resp.Content, &outline); err != nil {
		p.warn(ctx, taskID, fmt.Sprintf("outline returned invalid structure, using default structure: %v", err))
		return podcast.Outline{}
	}
	return outline
}

// generateDialogue produces turns segment by segment, renumbering
// globally. Per-segment failures degrade to the fallback turn.
func (p *Pipeline) generateDialogue(ctx context.Context, taskID string, outline podcast.Outline, personas []podcast.PersonaResearch, customPrompt string) ([]podcast.DialogueTurn, error) {
	acc := planner.NewTurnAccumulator(personas)

	for _, seg := range outline.Segments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var turns []podcast.DialogueTurn
		resp, err := p.complete(ctx, p.researchTimeout, dialogueSystemPrompt, planner.BuildSegmentPrompt(seg, outline, personas, customPrompt))
		if err != nil {
			p.warn(ctx, taskID, fmt.Sprintf("dialogue for segment %s failed: %v", seg.SegmentID, err))
		} else if derr := llmjson.Decode(resp.Content, &turns); derr != nil {
			p.warn(ctx, taskID, fmt.Sprintf("dialogue for segment %s returned invalid structure: %v", seg.SegmentID, derr))
			turns = nil
		}

		for _, w := range acc.Append(seg, turns) {
			p.warn(ctx, taskID, w)
		}
	}
	return acc.Turns(), nil
}

// writeArtifact persists one intermediate artifact. Failures are logged
// only; artifacts on disk are a convenience, the store is authoritative.
func (p *Pipeline) writeArtifact(taskID, taskDir, name string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(taskDir, name), data, 0o644)
	}
	if err != nil {
		p.logger.Warn("artifact write failed", "task_id", taskID, "artifact", name, "error", err)
	}
}
