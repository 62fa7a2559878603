package podcast

import (
	"strings"
	"testing"
)

func TestStateTerminal(t *testing.T) {
	t.Parallel()

	terminal := []State{StateCompleted, StateFailed, StateCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s: expected terminal", s)
		}
	}
	nonTerminal := []State{StateQueued, StatePreprocessing, StateAnalyzing, StateDialogue, StatePostprocessing}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("%s: expected non-terminal", s)
		}
	}
}

func TestStateCanTransition(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		from State
		to   State
		want bool
	}{
		{"queued to preprocessing", StateQueued, StatePreprocessing, true},
		{"preprocessing to analyzing", StatePreprocessing, StateAnalyzing, true},
		{"stitching to postprocessing", StateStitching, StatePostprocessing, true},
		{"postprocessing to completed", StatePostprocessing, StateCompleted, true},
		{"skip a phase", StateQueued, StateAnalyzing, false},
		{"backwards", StateDialogue, StateOutlining, false},
		{"any to failed", StateDialogue, StateFailed, true},
		{"any to cancelled", StateQueued, StateCancelled, true},
		{"out of completed", StateCompleted, StateFailed, false},
		{"out of failed", StateFailed, StateQueued, false},
		{"out of cancelled", StateCancelled, StateCompleted, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.from.CanTransition(tc.to); got != tc.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestRequestValidate(t *testing.T) {
	t.Parallel()

	if err := (&Request{}).Validate(); err == nil {
		t.Error("empty request: expected error")
	}
	if err := (&Request{SourceURLs: []string{"https://example.com"}}).Validate(); err != nil {
		t.Errorf("url-only request: unexpected error: %v", err)
	}
	if err := (&Request{SourcePDFPath: "/tmp/doc.pdf"}).Validate(); err != nil {
		t.Errorf("pdf-only request: unexpected error: %v", err)
	}
	if err := (&Request{SourceURLs: []string{"  "}}).Validate(); err == nil {
		t.Error("blank url: expected error")
	}
}

func TestParseGender(t *testing.T) {
	t.Parallel()

	cases := map[string]Gender{
		"Male":    GenderMale,
		"male":    GenderMale,
		"M":       GenderMale,
		"FEMALE":  GenderFemale,
		"woman":   GenderFemale,
		"neutral": GenderNeutral,
		"robot":   GenderNeutral,
		"":        GenderNeutral,
	}
	for in, want := range cases {
		if got := ParseGender(in); got != want {
			t.Errorf("ParseGender(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestSlug(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Alan Turing":      "alan_turing",
		"Ada Lovelace":     "ada_lovelace",
		"J. R. R. Tolkien": "j_r_r_tolkien",
		"  spaced  out  ":  "spaced_out",
		"Émile":            "mile",
	}
	for in, want := range cases {
		if got := Slug(in); got != want {
			t.Errorf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTranscript(t *testing.T) {
	t.Parallel()

	turns := []DialogueTurn{
		{TurnID: 1, SpeakerID: "Host", Text: "Welcome."},
		{TurnID: 2, SpeakerID: "alan_turing", Text: "Thanks for having me."},
	}
	got := Transcript(turns)
	want := "Host: Welcome.\nalan_turing: Thanks for having me."
	if got != want {
		t.Errorf("Transcript = %q, want %q", got, want)
	}
}

func TestTaskStatusClone(t *testing.T) {
	t.Parallel()

	orig := &TaskStatus{
		TaskID:        "t1",
		Status:        StateCompleted,
		Warnings:      []string{"w1"},
		ErrorDetails:  &ErrorDetails{Title: "x"},
		ResultEpisode: &Episode{Title: "ep", Warnings: []string{"w1"}},
	}
	cp := orig.Clone()
	cp.Warnings[0] = "changed"
	cp.ErrorDetails.Title = "changed"
	cp.ResultEpisode.Warnings[0] = "changed"

	if orig.Warnings[0] != "w1" {
		t.Error("clone shares warnings slice")
	}
	if orig.ErrorDetails.Title != "x" {
		t.Error("clone shares error details")
	}
	if orig.ResultEpisode.Warnings[0] != "w1" {
		t.Error("clone shares episode warnings")
	}
	if !strings.HasPrefix(orig.ResultEpisode.Title, "ep") {
		t.Error("clone mutated episode title")
	}
}
