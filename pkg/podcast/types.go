// Package podcast defines the shared data model of the podcast generation
// pipeline. Every layer speaks these types: the task runner, the pipeline
// phases, the status store, the MCP surface and the webhook payloads.
//
// The package is intentionally free of behaviour beyond validation and
// small derivations so that it can be imported from anywhere without
// dependency cycles.
package podcast

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// State is the lifecycle state of a generation task.
type State string

// Lifecycle states in pipeline order, followed by the terminal states.
const (
	StateQueued         State = "queued"
	StatePreprocessing  State = "preprocessing_sources"
	StateAnalyzing      State = "analyzing_sources"
	StateResearching    State = "researching_personas"
	StateOutlining      State = "generating_outline"
	StateDialogue       State = "generating_dialogue"
	StateAudioSegments  State = "generating_audio_segments"
	StateStitching      State = "stitching_audio"
	StatePostprocessing State = "postprocessing_final_episode"
	StateCompleted      State = "completed"
	StateFailed         State = "failed"
	StateCancelled      State = "cancelled"
)

// Terminal reports whether s is a terminal state. Terminal states are
// write-once: no transition out of them is ever observable.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// successor maps each non-terminal state to the state that may follow it
// on the happy path. failed and cancelled are reachable from any
// non-terminal state and are not listed here.
var successor = map[State]State{
	StateQueued:         StatePreprocessing,
	StatePreprocessing:  StateAnalyzing,
	StateAnalyzing:      StateResearching,
	StateResearching:    StateOutlining,
	StateOutlining:      StateDialogue,
	StateDialogue:       StateAudioSegments,
	StateAudioSegments:  StateStitching,
	StateStitching:      StatePostprocessing,
	StatePostprocessing: StateCompleted,
}

// CanTransition reports whether the lifecycle graph permits moving from s
// to next. Failure and cancellation are allowed from any non-terminal
// state; forward progress must follow the phase order.
func (s State) CanTransition(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed || next == StateCancelled {
		return true
	}
	return successor[s] == next
}

// Gender classifies a persona's voice. The TTS catalog is partitioned by
// these values.
type Gender string

const (
	GenderMale    Gender = "Male"
	GenderFemale  Gender = "Female"
	GenderNeutral Gender = "Neutral"
)

// ParseGender normalises free-form gender strings coming back from LLM
// output. Unknown values map to Neutral.
func ParseGender(s string) Gender {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "male", "m", "man":
		return GenderMale
	case "female", "f", "woman":
		return GenderFemale
	default:
		return GenderNeutral
	}
}

// Request is the caller input for one generation task.
type Request struct {
	SourceURLs           []string `json:"source_urls" yaml:"source_urls"`
	SourcePDFPath        string   `json:"source_pdf_path,omitempty" yaml:"source_pdf_path,omitempty"`
	ProminentPersons     []string `json:"prominent_persons,omitempty" yaml:"prominent_persons,omitempty"`
	DesiredPodcastLength string   `json:"desired_podcast_length,omitempty" yaml:"desired_podcast_length,omitempty"`
	CustomOutlinePrompt  string   `json:"custom_outline_prompt,omitempty" yaml:"custom_outline_prompt,omitempty"`
	CustomDialoguePrompt string   `json:"custom_dialogue_prompt,omitempty" yaml:"custom_dialogue_prompt,omitempty"`
	HostInventedName     string   `json:"host_invented_name,omitempty" yaml:"host_invented_name,omitempty"`
	HostGender           Gender   `json:"host_gender,omitempty" yaml:"host_gender,omitempty"`
	WebhookURL           string   `json:"webhook_url,omitempty" yaml:"webhook_url,omitempty"`
}

// Validate checks the request invariant: at least one source URL or a PDF
// path must be present.
func (r *Request) Validate() error {
	if len(r.SourceURLs) == 0 && r.SourcePDFPath == "" {
		return fmt.Errorf("podcast: request needs at least one source URL or a PDF path")
	}
	for i, u := range r.SourceURLs {
		if strings.TrimSpace(u) == "" {
			return fmt.Errorf("podcast: source URL %d is empty", i)
		}
	}
	return nil
}

// ArtifactFlags records which derived artifacts of a task exist.
type ArtifactFlags struct {
	SourceContentExtracted          bool `json:"source_content_extracted"`
	SourceAnalysisComplete          bool `json:"source_analysis_complete"`
	PersonaResearchComplete         bool `json:"persona_research_complete"`
	PodcastOutlineComplete          bool `json:"podcast_outline_complete"`
	DialogueScriptComplete          bool `json:"dialogue_script_complete"`
	IndividualAudioSegmentsComplete bool `json:"individual_audio_segments_complete"`
	FinalPodcastAudioAvailable      bool `json:"final_podcast_audio_available"`
	FinalPodcastTranscriptAvailable bool `json:"final_podcast_transcript_available"`
}

// ErrorDetails carries a user-visible failure cause.
type ErrorDetails struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// TaskStatus is the full status record of one task as stored by the
// status store and surfaced to clients.
type TaskStatus struct {
	TaskID             string        `json:"task_id"`
	Status             State         `json:"status"`
	StatusDescription  string        `json:"status_description"`
	ProgressPercentage int           `json:"progress_percentage"`
	RequestData        Request       `json:"request_data"`
	CreatedAt          time.Time     `json:"created_at"`
	LastUpdatedAt      time.Time     `json:"last_updated_at"`
	Artifacts          ArtifactFlags `json:"artifacts"`
	Warnings           []string      `json:"warnings"`
	ErrorDetails       *ErrorDetails `json:"error_details"`
	ResultEpisode      *Episode      `json:"result_episode"`
}

// Clone returns a deep copy so that readers never observe concurrent
// mutation of warnings or the episode.
func (t *TaskStatus) Clone() *TaskStatus {
	cp := *t
	cp.Warnings = append([]string(nil), t.Warnings...)
	if t.ErrorDetails != nil {
		ed := *t.ErrorDetails
		cp.ErrorDetails = &ed
	}
	if t.ResultEpisode != nil {
		ep := t.ResultEpisode.clone()
		cp.ResultEpisode = &ep
	}
	return &cp
}

// SourceAnalysis is the LLM's structured summary of the combined source
// bundle.
type SourceAnalysis struct {
	SummaryPoints    []string `json:"summary_points"`
	DetailedAnalysis string   `json:"detailed_analysis"`
}

// Empty reports whether the analysis carries no usable content.
func (a SourceAnalysis) Empty() bool {
	return len(a.SummaryPoints) == 0 && strings.TrimSpace(a.DetailedAnalysis) == ""
}

// VoiceParams are the per-persona synthesis parameters. SpeakingRate and
// Pitch together make a persona audibly distinct from the others.
type VoiceParams struct {
	SpeakingRate float64 `json:"speaking_rate"`
	Pitch        float64 `json:"pitch"`
}

// PersonaResearch is one researched speaker with their assigned stage
// identity and voice.
type PersonaResearch struct {
	PersonID          string      `json:"person_id"`
	Name              string      `json:"name"`
	DetailedProfile   string      `json:"detailed_profile"`
	Gender            Gender      `json:"gender"`
	InventedName      string      `json:"invented_name"`
	TTSVoiceID        string      `json:"tts_voice_id"`
	TTSVoiceParams    VoiceParams `json:"tts_voice_params"`
	CreationTimestamp time.Time   `json:"creation_timestamp"`
	SourceContext     string      `json:"source_context"`
}

// HostPersonID is the reserved person_id of the synthetic host persona.
const HostPersonID = "Host"

// NarratorPersonID is accepted as a speaker alias in outlines and
// dialogue and resolves to a neutral voice.
const NarratorPersonID = "Narrator"

// OutlineSegment is one timed block of the episode plan.
type OutlineSegment struct {
	SegmentID                string `json:"segment_id"`
	SegmentTitle             string `json:"segment_title"`
	SpeakerID                string `json:"speaker_id"`
	ContentCue               string `json:"content_cue"`
	EstimatedDurationSeconds int    `json:"estimated_duration_seconds"`
	TargetWordCount          int    `json:"target_word_count"`
}

// Outline is the timed plan of segments that constrains dialogue
// generation.
type Outline struct {
	TitleSuggestion   string           `json:"title_suggestion"`
	SummarySuggestion string           `json:"summary_suggestion"`
	Segments          []OutlineSegment `json:"segments"`
}

// TotalDurationSeconds sums the segment durations.
func (o *Outline) TotalDurationSeconds() int {
	total := 0
	for _, s := range o.Segments {
		total += s.EstimatedDurationSeconds
	}
	return total
}

// DialogueTurn is one speaker utterance, the unit of TTS synthesis.
type DialogueTurn struct {
	TurnID         int      `json:"turn_id"`
	SpeakerID      string   `json:"speaker_id"`
	SpeakerGender  Gender   `json:"speaker_gender"`
	Text           string   `json:"text"`
	SourceMentions []string `json:"source_mentions"`
}

// Episode is the final assembled result of a completed task.
type Episode struct {
	Title              string   `json:"title"`
	Summary            string   `json:"summary"`
	Transcript         string   `json:"transcript"`
	AudioFilepath      string   `json:"audio_filepath"`
	SourceAttributions []string `json:"source_attributions"`
	Warnings           []string `json:"warnings"`
	AnalysisPath       string   `json:"analysis_path,omitempty"`
	OutlinePath        string   `json:"outline_path,omitempty"`
	DialoguePath       string   `json:"dialogue_path,omitempty"`
}

func (e Episode) clone() Episode {
	cp := e
	cp.SourceAttributions = append([]string(nil), e.SourceAttributions...)
	cp.Warnings = append([]string(nil), e.Warnings...)
	return cp
}

// Transcript joins turns as "speaker_id: text" lines.
func Transcript(turns []DialogueTurn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(t.SpeakerID)
		b.WriteString(": ")
		b.WriteString(t.Text)
	}
	return b.String()
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slug derives a person_id from a real name: lowercase with runs of
// non-alphanumerics collapsed to a single underscore.
func Slug(name string) string {
	s := slugPattern.ReplaceAllString(strings.ToLower(name), "_")
	return strings.Trim(s, "_")
}
