// Package planner validates and time-normalises podcast outlines, builds
// the per-segment dialogue prompts, and post-processes the turns the
// language model returns.
package planner

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/podforge/podforge/pkg/podcast"
)

const (
	// WordsPerMinute is the speaking pace used to size segments.
	WordsPerMinute = 150

	// MinSegmentSeconds is the floor any segment is clamped to.
	MinSegmentSeconds = 15

	// DefaultDurationSeconds is used when the requested length cannot be
	// parsed.
	DefaultDurationSeconds = 300

	// scaleTolerance is the relative total-duration drift below which the
	// outline is left untouched.
	scaleTolerance = 0.10
)

var durationPattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(hours?|hrs?|h|minutes?|mins?|m|seconds?|secs?|s)\b`)

// ParseDuration converts a free-form length like "5 minutes", "2 mins",
// "1.5 hours" or "90 seconds" into seconds. Multiple clauses add up
// ("1 hour 30 minutes"). The error signals the caller to fall back to
// DefaultDurationSeconds with a warning.
func ParseDuration(s string) (int, error) {
	matches := durationPattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		// A bare number is taken as minutes.
		if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil && n > 0 {
			return int(math.Round(n * 60)), nil
		}
		return 0, fmt.Errorf("planner: unparseable duration %q", s)
	}

	var total float64
	for _, m := range matches {
		n, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, fmt.Errorf("planner: unparseable duration %q", s)
		}
		switch strings.ToLower(m[2])[0] {
		case 'h':
			total += n * 3600
		case 'm':
			total += n * 60
		case 's':
			total += n
		}
	}
	if total <= 0 {
		return 0, fmt.Errorf("planner: non-positive duration %q", s)
	}
	return int(math.Round(total)), nil
}

// Normalize validates the outline in place against the target episode
// length and returns the warnings it produced.
//
// Empty outlines get a three-segment skeleton. Duplicate segment IDs are
// renamed, durations clamped to the minimum, and the whole outline is
// scaled proportionally when its total drifts more than 10% from the
// target. Word counts are always recomputed from the final durations.
func Normalize(outline *podcast.Outline, targetSeconds int) []string {
	var warnings []string
	if targetSeconds <= 0 {
		targetSeconds = DefaultDurationSeconds
	}

	if len(outline.Segments) == 0 {
		warnings = append(warnings, "outline had no segments, using Intro/Body/Conclusion skeleton")
		outline.Segments = skeleton(targetSeconds)
	}

	seen := map[string]bool{}
	for i := range outline.Segments {
		seg := &outline.Segments[i]
		if seg.SegmentID == "" || seen[seg.SegmentID] {
			renamed := fmt.Sprintf("segment_%d", i+1)
			if seg.SegmentID != "" {
				warnings = append(warnings, fmt.Sprintf("duplicate segment id %q renamed to %q", seg.SegmentID, renamed))
			}
			seg.SegmentID = renamed
		}
		seen[seg.SegmentID] = true

		if seg.EstimatedDurationSeconds < MinSegmentSeconds {
			seg.EstimatedDurationSeconds = MinSegmentSeconds
		}
	}

	total := outline.TotalDurationSeconds()
	if total > 0 {
		drift := math.Abs(float64(total-targetSeconds)) / float64(targetSeconds)
		if drift > scaleTolerance {
			factor := float64(targetSeconds) / float64(total)
			for i := range outline.Segments {
				seg := &outline.Segments[i]
				scaled := int(math.Round(float64(seg.EstimatedDurationSeconds) * factor))
				if scaled < MinSegmentSeconds {
					scaled = MinSegmentSeconds
				}
				seg.EstimatedDurationSeconds = scaled
			}
			warnings = append(warnings, fmt.Sprintf(
				"outline duration %ds scaled to target %ds", total, targetSeconds))
		}
	}

	for i := range outline.Segments {
		seg := &outline.Segments[i]
		seg.TargetWordCount = wordCount(seg.EstimatedDurationSeconds)
	}
	return warnings
}

func wordCount(durationSeconds int) int {
	return int(math.Round(float64(durationSeconds) / 60 * WordsPerMinute))
}

func skeleton(targetSeconds int) []podcast.OutlineSegment {
	part := func(share float64) int {
		d := int(math.Round(float64(targetSeconds) * share))
		if d < MinSegmentSeconds {
			d = MinSegmentSeconds
		}
		return d
	}
	return []podcast.OutlineSegment{
		{SegmentID: "intro", SegmentTitle: "Introduction", SpeakerID: podcast.HostPersonID,
			ContentCue: "Welcome the listeners and introduce the topic", EstimatedDurationSeconds: part(0.15)},
		{SegmentID: "body", SegmentTitle: "Main Discussion", SpeakerID: podcast.HostPersonID,
			ContentCue: "Discuss the main points from the source material", EstimatedDurationSeconds: part(0.70)},
		{SegmentID: "conclusion", SegmentTitle: "Conclusion", SpeakerID: podcast.HostPersonID,
			ContentCue: "Summarise the discussion and close the episode", EstimatedDurationSeconds: part(0.15)},
	}
}

// BuildSegmentPrompt renders the dialogue prompt for one segment. The
// speaker's researched profile, the cast list, and the caller's custom
// dialogue prompt are all folded in.
func BuildSegmentPrompt(seg podcast.OutlineSegment, outline podcast.Outline, personas []podcast.PersonaResearch, customPrompt string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are writing dialogue for the podcast %q.\n", outline.TitleSuggestion)
	if outline.SummarySuggestion != "" {
		fmt.Fprintf(&b, "Episode theme: %s\n", outline.SummarySuggestion)
	}
	fmt.Fprintf(&b, "\nSegment: %s\n", seg.SegmentTitle)
	fmt.Fprintf(&b, "Content cue: %s\n", seg.ContentCue)
	fmt.Fprintf(&b, "Target length: about %d words.\n", seg.TargetWordCount)

	if speaker := findPersona(personas, seg.SpeakerID); speaker != nil {
		fmt.Fprintf(&b, "\nPrimary speaker: %s (stage name %s)\n", speaker.Name, speaker.InventedName)
		if speaker.DetailedProfile != "" {
			fmt.Fprintf(&b, "Speaker profile:\n%s\n", speaker.DetailedProfile)
		}
	} else {
		fmt.Fprintf(&b, "\nPrimary speaker: %s\n", seg.SpeakerID)
	}

	var others []string
	for _, p := range personas {
		if p.PersonID == seg.SpeakerID {
			continue
		}
		others = append(others, fmt.Sprintf("%s (speaker_id %q)", p.InventedName, p.PersonID))
	}
	if len(others) > 0 {
		fmt.Fprintf(&b, "\nOther available speakers: %s\n", strings.Join(others, ", "))
	}

	if customPrompt != "" {
		fmt.Fprintf(&b, "\nAdditional instructions from the requester:\n%s\n", customPrompt)
	}

	b.WriteString("\nReturn a JSON array of dialogue turns, each with speaker_id, speaker_gender, text and source_mentions.")
	return b.String()
}

func findPersona(personas []podcast.PersonaResearch, personID string) *podcast.PersonaResearch {
	for i := range personas {
		if personas[i].PersonID == personID {
			return &personas[i]
		}
	}
	return nil
}

// TurnAccumulator renumbers turns globally across segments and fills in
// missing speaker genders from the persona map.
type TurnAccumulator struct {
	genders map[string]podcast.Gender
	next    int
	turns   []podcast.DialogueTurn
}

// NewTurnAccumulator builds an accumulator over the task's cast.
func NewTurnAccumulator(personas []podcast.PersonaResearch) *TurnAccumulator {
	genders := make(map[string]podcast.Gender, len(personas)+2)
	for _, p := range personas {
		genders[p.PersonID] = p.Gender
	}
	if _, ok := genders[podcast.HostPersonID]; !ok {
		genders[podcast.HostPersonID] = podcast.GenderMale
	}
	if _, ok := genders[podcast.NarratorPersonID]; !ok {
		genders[podcast.NarratorPersonID] = podcast.GenderNeutral
	}
	return &TurnAccumulator{genders: genders}
}

// Append takes one segment's turns, assigns globally increasing turn
// IDs, defaults genders, and records warnings for unknown speakers.
// Blank-text turns are dropped first; a segment left with no speakable
// turns gets a minimal fallback turn so the episode never has a silent
// gap.
func (t *TurnAccumulator) Append(seg podcast.OutlineSegment, turns []podcast.DialogueTurn) []string {
	var warnings []string
	kept := make([]podcast.DialogueTurn, 0, len(turns))
	for _, turn := range turns {
		if strings.TrimSpace(turn.Text) == "" {
			continue
		}
		kept = append(kept, turn)
	}
	if len(kept) == 0 {
		warnings = append(warnings, fmt.Sprintf("segment %s produced no dialogue, inserting fallback turn", seg.SegmentID))
		kept = []podcast.DialogueTurn{{
			SpeakerID: podcast.HostPersonID,
			Text:      fmt.Sprintf("Let's talk about %s", seg.ContentCue),
		}}
	}
	for _, turn := range kept {
		if turn.SpeakerID == "" {
			turn.SpeakerID = podcast.HostPersonID
		}
		if turn.SpeakerGender == "" {
			g, known := t.genders[turn.SpeakerID]
			if !known {
				warnings = append(warnings, fmt.Sprintf("unknown speaker %q in segment %s, defaulting to neutral voice", turn.SpeakerID, seg.SegmentID))
				g = podcast.GenderNeutral
			}
			turn.SpeakerGender = g
		}
		t.next++
		turn.TurnID = t.next
		t.turns = append(t.turns, turn)
	}
	return warnings
}

// Turns returns all accumulated turns in order.
func (t *TurnAccumulator) Turns() []podcast.DialogueTurn {
	return t.turns
}
