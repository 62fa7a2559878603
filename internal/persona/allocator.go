// Package persona assigns stage identities to podcast speakers: an
// invented name, a gender, and a TTS voice with distinctness parameters.
// One Allocator serves one task; assignments accumulate so that later
// personas never collide with earlier ones.
package persona

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/podforge/podforge/internal/voices"
	"github.com/podforge/podforge/pkg/podcast"
)

// VoiceSource yields the catalog inventory for a gender. Satisfied by
// *voices.Catalog.
type VoiceSource interface {
	Voices(ctx context.Context, gender podcast.Gender) ([]voices.Entry, error)
}

// genderCycle is the deterministic fallback order for personas whose
// research did not establish a gender.
var genderCycle = []podcast.Gender{podcast.GenderMale, podcast.GenderFemale, podcast.GenderNeutral}

// namePools are the per-gender invented stage names. Order matters:
// earlier names are preferred.
var namePools = map[podcast.Gender][]string{
	podcast.GenderMale: {
		"Orion", "Jasper", "Silas", "Atlas", "Caspian", "Dorian",
		"Evander", "Lucian", "Magnus", "Phineas", "Rowan", "Thaddeus",
	},
	podcast.GenderFemale: {
		"Aurelia", "Celeste", "Isolde", "Lyra", "Marguerite", "Ophelia",
		"Rosalind", "Seraphina", "Thea", "Vivienne", "Wilhelmina", "Zinnia",
	},
	podcast.GenderNeutral: {
		"Ariel", "Ember", "Indigo", "Juniper", "Sage", "Wren",
		"Haven", "Lumen", "Onyx", "Quill", "River", "Vesper",
	},
}

// Option is a functional option for Allocator.
type Option func(*Allocator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Allocator) { a.logger = l }
}

// Allocator hands out invented names and voices for one task.
// Not safe for concurrent use; the pipeline assigns personas serially.
type Allocator struct {
	source VoiceSource
	logger *slog.Logger

	usedNames  map[string]bool
	usedCodes  map[string]bool
	usedVoices map[string]bool
	nameSuffix int
	genderIdx  int
	warnings   []string
}

// New creates an Allocator for one task.
func New(source VoiceSource, opts ...Option) *Allocator {
	a := &Allocator{
		source:     source,
		logger:     slog.Default(),
		usedNames:  make(map[string]bool),
		usedCodes:  make(map[string]bool),
		usedVoices: make(map[string]bool),
		nameSuffix: 1,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Assign fills in the persona's gender (deterministic fallback when
// unset), invented name (kept when the caller already chose one), and
// voice. Guests are assigned in input order; the Host must be assigned
// last via AssignHost so it cannot steal a guest's voice.
func (a *Allocator) Assign(ctx context.Context, p *podcast.PersonaResearch) error {
	if p.Gender == "" {
		p.Gender = genderCycle[a.genderIdx%len(genderCycle)]
		a.genderIdx++
	}
	if p.InventedName == "" {
		p.InventedName = a.pickName(p.Gender)
	} else {
		a.claimName(p.InventedName)
	}

	entry, err := a.pickVoice(ctx, p.Gender)
	if err != nil {
		return fmt.Errorf("persona: assign voice for %s: %w", p.PersonID, err)
	}
	p.TTSVoiceID = entry.VoiceID
	p.TTSVoiceParams = podcast.VoiceParams{SpeakingRate: entry.SpeakingRate, Pitch: entry.Pitch}

	a.logger.Debug("persona assigned",
		"person_id", p.PersonID, "invented_name", p.InventedName,
		"gender", p.Gender, "voice_id", p.TTSVoiceID)
	return nil
}

// AssignHost builds the synthetic Host persona. Call after every guest
// has been assigned.
func (a *Allocator) AssignHost(ctx context.Context, inventedName string, gender podcast.Gender) (podcast.PersonaResearch, error) {
	if gender == "" {
		gender = podcast.GenderMale
	}
	host := podcast.PersonaResearch{
		PersonID:     podcast.HostPersonID,
		Name:         podcast.HostPersonID,
		Gender:       gender,
		InventedName: inventedName,
	}
	if err := a.Assign(ctx, &host); err != nil {
		return podcast.PersonaResearch{}, err
	}
	return host, nil
}

// Warnings returns allocation warnings accumulated so far.
func (a *Allocator) Warnings() []string {
	return append([]string(nil), a.warnings...)
}

// Verify checks the voice uniqueness invariant across all assigned
// personas and returns a warning per duplicated voice_id. Duplicates are
// tolerated; distinctness then rests on the (rate, pitch) parameters.
func Verify(personas []podcast.PersonaResearch) []string {
	seen := map[string]string{}
	var warnings []string
	for _, p := range personas {
		if p.TTSVoiceID == "" {
			continue
		}
		if prev, dup := seen[p.TTSVoiceID]; dup {
			warnings = append(warnings, fmt.Sprintf(
				"voice %s is shared by %s and %s; catalog could not supply enough unique voices",
				p.TTSVoiceID, prev, p.InventedName))
			continue
		}
		seen[p.TTSVoiceID] = p.InventedName
	}
	return warnings
}

// pickName selects an unused name from the gender pool, preferring ones
// that are phonetically distinct from every name already in play. When
// the pool is exhausted it reuses the pool with a numeric suffix.
func (a *Allocator) pickName(gender podcast.Gender) string {
	pool := namePools[gender]
	if pool == nil {
		pool = namePools[podcast.GenderNeutral]
	}

	var fallback string
	for _, name := range pool {
		if a.usedNames[strings.ToLower(name)] {
			continue
		}
		if a.phoneticClash(name) {
			if fallback == "" {
				fallback = name
			}
			continue
		}
		a.claimName(name)
		return name
	}
	// Every distinct candidate clashed phonetically; an unused name
	// still beats a suffixed reuse.
	if fallback != "" {
		a.claimName(fallback)
		return fallback
	}

	a.nameSuffix++
	name := fmt.Sprintf("%s %d", pool[0], a.nameSuffix)
	a.claimName(name)
	a.warnings = append(a.warnings, fmt.Sprintf("invented name pool for %s exhausted, reusing %q", gender, name))
	return name
}

func (a *Allocator) claimName(name string) {
	a.usedNames[strings.ToLower(name)] = true
	for code := range metaphoneCodes(name) {
		a.usedCodes[code] = true
	}
}

// phoneticClash reports whether any Double Metaphone code of name is
// already claimed. Stage names that sound alike confuse listeners even
// when spelled apart.
func (a *Allocator) phoneticClash(name string) bool {
	for code := range metaphoneCodes(name) {
		if a.usedCodes[code] {
			return true
		}
	}
	return false
}

func metaphoneCodes(name string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	for _, tok := range strings.Fields(strings.ToLower(name)) {
		p, s := matchr.DoubleMetaphone(tok)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// pickVoice returns the first unused catalog voice for the gender,
// falling back to the static backup list and finally to reuse with a
// warning.
func (a *Allocator) pickVoice(ctx context.Context, gender podcast.Gender) (voices.Entry, error) {
	entries, err := a.source.Voices(ctx, gender)
	if err != nil {
		a.warnings = append(a.warnings, fmt.Sprintf("voice catalog unavailable for %s, using backup voices: %v", gender, err))
		entries = nil
	}

	for _, e := range entries {
		if !a.usedVoices[e.VoiceID] {
			a.usedVoices[e.VoiceID] = true
			return e, nil
		}
	}
	for _, e := range voices.BackupVoices[gender] {
		if !a.usedVoices[e.VoiceID] {
			a.usedVoices[e.VoiceID] = true
			a.warnings = append(a.warnings, fmt.Sprintf("catalog voices for %s exhausted, using backup voice %s", gender, e.VoiceID))
			return e, nil
		}
	}

	// Everything is taken. Reuse the first available voice; the
	// uniqueness invariant is surfaced via Verify.
	var reuse voices.Entry
	switch {
	case len(entries) > 0:
		reuse = entries[0]
	case len(voices.BackupVoices[gender]) > 0:
		reuse = voices.BackupVoices[gender][0]
	default:
		return voices.Entry{}, fmt.Errorf("persona: no voices available for gender %s", gender)
	}
	a.warnings = append(a.warnings, fmt.Sprintf("all voices for %s in use, reusing %s", gender, reuse.VoiceID))
	return reuse, nil
}
