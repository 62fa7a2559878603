// Package status owns the per-task lifecycle records. The store is the
// single source of truth for task state; the pipeline is its only writer
// during a run and every reader gets a consistent snapshot.
package status

import (
	"context"
	"errors"

	"github.com/podforge/podforge/pkg/podcast"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrNotFound indicates the task ID is unknown to the store.
	ErrNotFound = errors.New("status: task not found")

	// ErrAlreadyExists indicates Create was called twice for one task ID.
	ErrAlreadyExists = errors.New("status: task already exists")

	// ErrTerminal indicates a mutation was rejected because the task is in
	// a terminal state. Terminal states are write-once.
	ErrTerminal = errors.New("status: task is in a terminal state")

	// ErrInvalidTransition indicates the requested state does not follow
	// the lifecycle graph.
	ErrInvalidTransition = errors.New("status: invalid state transition")

	// ErrEpisodeSet indicates SetEpisode was called twice for one task.
	ErrEpisodeSet = errors.New("status: episode already set")
)

// Artifact names one ArtifactFlags field for SetArtifact.
type Artifact string

const (
	ArtifactSourceContent   Artifact = "source_content_extracted"
	ArtifactSourceAnalysis  Artifact = "source_analysis_complete"
	ArtifactPersonaResearch Artifact = "persona_research_complete"
	ArtifactOutline         Artifact = "podcast_outline_complete"
	ArtifactDialogueScript  Artifact = "dialogue_script_complete"
	ArtifactAudioSegments   Artifact = "individual_audio_segments_complete"
	ArtifactFinalAudio      Artifact = "final_podcast_audio_available"
	ArtifactFinalTranscript Artifact = "final_podcast_transcript_available"
)

// apply sets the named flag on f. Unknown names are ignored.
func (a Artifact) apply(f *podcast.ArtifactFlags) {
	switch a {
	case ArtifactSourceContent:
		f.SourceContentExtracted = true
	case ArtifactSourceAnalysis:
		f.SourceAnalysisComplete = true
	case ArtifactPersonaResearch:
		f.PersonaResearchComplete = true
	case ArtifactOutline:
		f.PodcastOutlineComplete = true
	case ArtifactDialogueScript:
		f.DialogueScriptComplete = true
	case ArtifactAudioSegments:
		f.IndividualAudioSegmentsComplete = true
	case ArtifactFinalAudio:
		f.FinalPodcastAudioAvailable = true
	case ArtifactFinalTranscript:
		f.FinalPodcastTranscriptAvailable = true
	}
}

// Store is the task status repository.
//
// All mutations are serialised per task. Progress is monotonic within a
// run: an update carrying a lower percentage than the current one keeps
// the current value.
type Store interface {
	// Create initialises a task at state queued, 0%.
	Create(ctx context.Context, taskID string, req podcast.Request) (*podcast.TaskStatus, error)

	// Update transitions the task to state with the given description and
	// anchor progress. A negative progress keeps the current value.
	// Returns ErrTerminal or ErrInvalidTransition on rejected transitions.
	Update(ctx context.Context, taskID string, state podcast.State, description string, progress int) error

	// SetProgress adjusts progress and description within the current
	// phase without a state transition.
	SetProgress(ctx context.Context, taskID string, progress int, description string) error

	// SetArtifact marks one artifact flag true.
	SetArtifact(ctx context.Context, taskID string, flag Artifact) error

	// AppendWarning appends one warning line.
	AppendWarning(ctx context.Context, taskID string, message string) error

	// SetError records error details and transitions to failed. When the
	// task is already terminal the record is left untouched and
	// ErrTerminal is returned.
	SetError(ctx context.Context, taskID string, title, detail string) error

	// SetEpisode attaches the final episode. Write-once.
	SetEpisode(ctx context.Context, taskID string, ep podcast.Episode) error

	// Get returns a snapshot of the task.
	Get(ctx context.Context, taskID string) (*podcast.TaskStatus, error)

	// List returns snapshots ordered newest-first.
	List(ctx context.Context, limit, offset int) ([]*podcast.TaskStatus, error)

	// Delete removes the record. A second delete returns ErrNotFound.
	Delete(ctx context.Context, taskID string) error
}
