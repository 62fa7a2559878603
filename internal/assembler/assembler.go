// Package assembler turns dialogue into audio. It synthesizes one file
// per turn with bounded parallelism, tolerates per-turn failures, and
// stitches the survivors into the final episode file in turn order.
package assembler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/podforge/podforge/internal/observe"
	"github.com/podforge/podforge/internal/resilience"
	"github.com/podforge/podforge/internal/voices"
	"github.com/podforge/podforge/pkg/audio"
	"github.com/podforge/podforge/pkg/podcast"
	"github.com/podforge/podforge/pkg/provider/tts"
)

// DefaultParallelism is the shared TTS worker budget.
const DefaultParallelism = 16

// SegmentDirName is the per-task directory holding per-turn audio files.
const SegmentDirName = "audio_segments"

// Synthesizer is the slice of the TTS provider the assembler needs.
// Satisfied by any tts.Provider.
type Synthesizer interface {
	Synthesize(ctx context.Context, req tts.SynthesisRequest) ([]byte, error)
	AudioFormat() string
}

// ResolveFunc maps a dialogue turn to the voice that speaks it.
type ResolveFunc func(turn podcast.DialogueTurn) (voiceID string, params podcast.VoiceParams)

// Result is the outcome of one assembly run.
type Result struct {
	SegmentPaths []string
	FinalPath    string
	Warnings     []string
}

// Option is a functional option for Assembler.
type Option func(*Assembler)

// WithParallelism bounds concurrent synthesis calls.
func WithParallelism(n int64) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.sem = semaphore.NewWeighted(n)
		}
	}
}

// WithRetry overrides the per-turn synthesis retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(a *Assembler) { a.retry = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assembler) { a.logger = l }
}

// WithMetrics overrides the metric instruments, mainly for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Assembler) {
		if m != nil {
			a.metrics = m
		}
	}
}

// Assembler synthesizes and stitches episode audio. The semaphore is
// shared across every task using the same Assembler, so the TTS budget
// is process-wide.
type Assembler struct {
	tts      Synthesizer
	stitcher audio.Stitcher
	sem      *semaphore.Weighted
	retry    resilience.RetryConfig
	logger   *slog.Logger
	metrics  *observe.Metrics
}

// New creates an Assembler over the given TTS backend and stitcher.
func New(tts Synthesizer, stitcher audio.Stitcher, opts ...Option) *Assembler {
	a := &Assembler{
		tts:      tts,
		stitcher: stitcher,
		sem:      semaphore.NewWeighted(DefaultParallelism),
		retry:    resilience.DefaultRetryConfig,
		logger:   slog.Default(),
		metrics:  observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Assemble runs SynthesizeTurns and StitchEpisode back to back.
func (a *Assembler) Assemble(ctx context.Context, turns []podcast.DialogueTurn, resolve ResolveFunc, taskDir string, progress func(done, total int)) (Result, error) {
	res, err := a.SynthesizeTurns(ctx, turns, resolve, taskDir, progress)
	if err != nil {
		return res, err
	}
	res.FinalPath, err = a.StitchEpisode(ctx, res.SegmentPaths, taskDir)
	return res, err
}

// SynthesizeTurns synthesizes every turn into taskDir/audio_segments.
//
// Per-turn failures become warnings; the run fails only when no turn
// produced audio. progress is called after each completed turn with
// (done, total) and may be nil. Cancellation is honoured before each
// submission; turns already in flight finish naturally.
func (a *Assembler) SynthesizeTurns(ctx context.Context, turns []podcast.DialogueTurn, resolve ResolveFunc, taskDir string, progress func(done, total int)) (Result, error) {
	var res Result
	if len(turns) == 0 {
		return res, fmt.Errorf("assembler: no dialogue turns to synthesize")
	}

	segDir := filepath.Join(taskDir, SegmentDirName)
	if err := os.MkdirAll(segDir, 0o755); err != nil {
		return res, fmt.Errorf("assembler: create segment dir: %w", err)
	}

	ext := a.tts.AudioFormat()
	paths := make([]string, len(turns))

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		done int
	)
	for i, turn := range turns {
		if ctx.Err() != nil {
			break
		}
		if err := a.sem.Acquire(ctx, 1); err != nil {
			break
		}

		wg.Add(1)
		go func(i int, turn podcast.DialogueTurn) {
			defer wg.Done()
			defer a.sem.Release(1)

			voiceID, params := resolve(turn)
			mctx := context.WithoutCancel(ctx)
			a.metrics.ActiveSyntheses.Add(mctx, 1)
			start := time.Now()
			data, err := resilience.Retry(ctx, a.retry, func(ctx context.Context) ([]byte, error) {
				return a.tts.Synthesize(ctx, tts.SynthesisRequest{
					Text:         turn.Text,
					VoiceID:      voiceID,
					SpeakingRate: params.SpeakingRate,
					Pitch:        params.Pitch,
				})
			})
			a.metrics.TTSDuration.Record(mctx, time.Since(start).Seconds())
			a.metrics.ActiveSyntheses.Add(mctx, -1)
			if err != nil {
				a.metrics.RecordProviderRequest(mctx, a.ttsName(), "tts", "error")
				a.metrics.RecordProviderError(mctx, a.ttsName(), "tts")
			} else {
				a.metrics.RecordProviderRequest(mctx, a.ttsName(), "tts", "ok")
			}

			path := filepath.Join(segDir, fmt.Sprintf("turn_%03d_%s.%s", turn.TurnID, podcast.Slug(turn.SpeakerID), ext))
			if err == nil {
				err = os.WriteFile(path, data, 0o644)
			}

			mu.Lock()
			defer mu.Unlock()
			done++
			if err != nil {
				res.Warnings = append(res.Warnings, fmt.Sprintf("turn %d (%s): synthesis failed: %v", turn.TurnID, turn.SpeakerID, err))
				a.logger.Warn("turn synthesis failed", "turn_id", turn.TurnID, "speaker", turn.SpeakerID, "error", err)
			} else {
				paths[i] = path
			}
			if progress != nil {
				progress(done, len(turns))
			}
		}(i, turn)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return res, err
	}

	for _, p := range paths {
		if p != "" {
			res.SegmentPaths = append(res.SegmentPaths, p)
		}
	}
	if len(res.SegmentPaths) == 0 {
		return res, fmt.Errorf("assembler: all %d turns failed to synthesize", len(turns))
	}
	return res, nil
}

// ttsName labels the TTS backend for metrics. The interface does not
// require a name, so unnamed backends report "tts".
func (a *Assembler) ttsName() string {
	if n, ok := a.tts.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "tts"
}

// StitchEpisode concatenates the segment files, already in turn order,
// into taskDir/final.<ext> and returns the final path.
func (a *Assembler) StitchEpisode(ctx context.Context, segmentPaths []string, taskDir string) (string, error) {
	finalPath := filepath.Join(taskDir, "final."+a.tts.AudioFormat())
	if err := a.stitcher.Stitch(ctx, segmentPaths, finalPath); err != nil {
		return "", fmt.Errorf("assembler: stitch final episode: %w", err)
	}
	return finalPath, nil
}

// ResolverFromCast builds a ResolveFunc over the task's personas.
// Resolution order: the speaker's assigned voice, then the first
// fallback voice for the turn's gender, then Neutral.
func ResolverFromCast(personas []podcast.PersonaResearch, fallback map[podcast.Gender][]voices.Entry) ResolveFunc {
	if fallback == nil {
		fallback = voices.BackupVoices
	}
	byID := make(map[string]podcast.PersonaResearch, len(personas))
	for _, p := range personas {
		byID[p.PersonID] = p
	}
	return func(turn podcast.DialogueTurn) (string, podcast.VoiceParams) {
		if p, ok := byID[turn.SpeakerID]; ok && p.TTSVoiceID != "" {
			return p.TTSVoiceID, p.TTSVoiceParams
		}
		gender := turn.SpeakerGender
		if len(fallback[gender]) == 0 {
			gender = podcast.GenderNeutral
		}
		if entries := fallback[gender]; len(entries) > 0 {
			e := entries[0]
			return e.VoiceID, podcast.VoiceParams{SpeakingRate: e.SpeakingRate, Pitch: e.Pitch}
		}
		return "", podcast.VoiceParams{}
	}
}
