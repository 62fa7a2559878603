// Package voices maintains the process-wide TTS voice inventory used for
// persona voice assignment. The inventory is partitioned by gender,
// biased towards high-quality voice families, and cached on disk with a
// TTL so that restarts and parallel tasks do not hammer the backend's
// voice listing endpoint.
package voices

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/podforge/podforge/pkg/podcast"
	"github.com/podforge/podforge/pkg/provider/tts"
)

// DefaultTTL is the cache lifetime of the voice inventory.
const DefaultTTL = 24 * time.Hour

// DefaultCacheFile is the on-disk cache file name.
const DefaultCacheFile = "tts_voices_cache.json"

// Entry is one catalog voice with its assigned distinctness parameters.
// The (SpeakingRate, Pitch) pair is what keeps parallel personas audibly
// apart even when voice families sound similar.
type Entry struct {
	VoiceID       string   `json:"voice_id"`
	LanguageCodes []string `json:"language_codes"`
	SpeakingRate  float64  `json:"speaking_rate"`
	Pitch         float64  `json:"pitch"`
}

// cacheFile is the on-disk schema.
type cacheFile struct {
	LastUpdated time.Time                  `json:"last_updated"`
	Voices      map[podcast.Gender][]Entry `json:"voices"`
}

// languageTargets is the per-gender selection target. Doubled across the
// two source genders this yields the en-US:36 / en-GB:12 / en-AU:12
// inventory shape.
var languageTargets = []struct {
	code  string
	count int
}{
	{"en-US", 18},
	{"en-GB", 6},
	{"en-AU", 6},
}

// speakingRates spans 0.85 to 1.15 in steps of 0.03.
var speakingRates = func() []float64 {
	var rates []float64
	for r := 0.85; r <= 1.1501; r += 0.03 {
		// Round to cents to keep JSON output stable.
		rates = append(rates, float64(int(r*100+0.5))/100)
	}
	return rates
}()

// pitchRanges are the per-gender pitch values in provider semitone units.
var pitchRanges = map[podcast.Gender][]float64{
	podcast.GenderMale:    {-4.0, -3.0, -2.0, -1.0, 0.0},
	podcast.GenderFemale:  {0.0, 1.0, 2.0, 3.0, 4.0},
	podcast.GenderNeutral: {-1.0, -0.5, 0.0, 0.5, 1.0},
}

// Catalog is the cached, refresh-on-demand voice inventory.
//
// Reads are lock-free snapshots under an RWMutex; a refresh is
// serialised and swaps the inventory atomically, so a stale read during
// refresh is possible but a torn read is not.
type Catalog struct {
	provider  tts.Provider
	cachePath string
	ttl       time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu          sync.RWMutex
	voices      map[podcast.Gender][]Entry
	lastUpdated time.Time
}

// Option is a functional option for Catalog.
type Option func(*Catalog)

// WithTTL overrides the cache TTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Catalog) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) {
		c.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Catalog) {
		c.logger = l
	}
}

// New creates a Catalog backed by provider with an on-disk cache at
// cachePath.
func New(provider tts.Provider, cachePath string, opts ...Option) *Catalog {
	c := &Catalog{
		provider:  provider,
		cachePath: cachePath,
		ttl:       DefaultTTL,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Voices returns the inventory for one gender, refreshing the catalog
// first when it is stale.
func (c *Catalog) Voices(ctx context.Context, gender podcast.Gender) ([]Entry, error) {
	all, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	return all[gender], nil
}

// All returns the whole inventory, refreshing first when stale. The
// returned map must not be mutated.
func (c *Catalog) All(ctx context.Context) (map[podcast.Gender][]Entry, error) {
	c.mu.RLock()
	if c.voices != nil && c.now().Sub(c.lastUpdated) < c.ttl {
		v := c.voices
		c.mu.RUnlock()
		return v, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have refreshed while we waited for the lock.
	if c.voices != nil && c.now().Sub(c.lastUpdated) < c.ttl {
		return c.voices, nil
	}

	if c.voices == nil {
		if cached, updated, err := c.loadCacheFile(); err == nil {
			c.voices, c.lastUpdated = cached, updated
			if c.now().Sub(updated) < c.ttl {
				return c.voices, nil
			}
		}
	}

	if err := c.refreshLocked(ctx); err != nil {
		// A stale inventory beats no inventory.
		if c.voices != nil {
			c.logger.Warn("voice catalog refresh failed, serving stale inventory",
				"error", err, "age", c.now().Sub(c.lastUpdated))
			return c.voices, nil
		}
		return nil, err
	}
	return c.voices, nil
}

// Refresh forces a backend refresh regardless of TTL.
func (c *Catalog) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

// refreshLocked rebuilds the inventory from the provider and persists
// the cache. Caller holds c.mu.
func (c *Catalog) refreshLocked(ctx context.Context) error {
	raw, err := c.provider.ListVoices(ctx)
	if err != nil {
		return fmt.Errorf("voices: list voices: %w", err)
	}

	built := Build(raw)
	c.voices = built
	c.lastUpdated = c.now()

	if err := c.writeCacheFile(); err != nil {
		c.logger.Warn("voice catalog cache write failed", "path", c.cachePath, "error", err)
	} else {
		c.logger.Info("voice catalog refreshed",
			"male", len(built[podcast.GenderMale]),
			"female", len(built[podcast.GenderFemale]),
			"neutral", len(built[podcast.GenderNeutral]))
	}
	return nil
}

// loadCacheFile reads either the current schema (with last_updated) or
// the legacy direct gender map, which is treated as already expired so
// it is refreshed on first use but still serves as a fallback.
func (c *Catalog) loadCacheFile() (map[podcast.Gender][]Entry, time.Time, error) {
	data, err := os.ReadFile(c.cachePath)
	if err != nil {
		return nil, time.Time{}, err
	}

	var cf cacheFile
	if err := json.Unmarshal(data, &cf); err == nil && cf.Voices != nil {
		return cf.Voices, cf.LastUpdated, nil
	}

	var legacy map[podcast.Gender][]Entry
	if err := json.Unmarshal(data, &legacy); err == nil && len(legacy) > 0 {
		return legacy, time.Time{}, nil
	}
	return nil, time.Time{}, fmt.Errorf("voices: unrecognised cache schema in %s", c.cachePath)
}

// writeCacheFile persists atomically: write to temp file then rename.
func (c *Catalog) writeCacheFile() error {
	data, err := json.MarshalIndent(cacheFile{LastUpdated: c.lastUpdated, Voices: c.voices}, "", "  ")
	if err != nil {
		return err
	}
	tmp := c.cachePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.cachePath)
}

// Build partitions the raw voice list by gender, applies the language
// distribution and quality preferences, and assigns distinct
// (rate, pitch) combinations. Exposed for tests.
func Build(raw []tts.Voice) map[podcast.Gender][]Entry {
	male := selectForGender(raw, "MALE")
	female := selectForGender(raw, "FEMALE")

	out := map[podcast.Gender][]Entry{
		podcast.GenderMale:   assignParams(male, podcast.GenderMale),
		podcast.GenderFemale: assignParams(female, podcast.GenderFemale),
	}
	out[podcast.GenderNeutral] = buildNeutral(male, female)
	return out
}

// selectForGender picks voices of one SSML gender against the language
// targets, preferring Chirp3-HD, then Chirp-HD, then anything else.
func selectForGender(raw []tts.Voice, ssmlGender string) []tts.Voice {
	var selected []tts.Voice
	for _, target := range languageTargets {
		candidates := filter(raw, ssmlGender, target.code)
		sort.SliceStable(candidates, func(i, j int) bool {
			return qualityRank(candidates[i].ID) < qualityRank(candidates[j].ID)
		})
		if len(candidates) > target.count {
			candidates = candidates[:target.count]
		}
		selected = append(selected, candidates...)
	}
	return selected
}

func filter(raw []tts.Voice, ssmlGender, langCode string) []tts.Voice {
	var out []tts.Voice
	for _, v := range raw {
		if !strings.EqualFold(v.SSMLGender, ssmlGender) {
			continue
		}
		for _, lc := range v.LanguageCodes {
			if strings.EqualFold(lc, langCode) {
				out = append(out, v)
				break
			}
		}
	}
	return out
}

func qualityRank(voiceID string) int {
	switch {
	case strings.Contains(voiceID, "Chirp3-HD"):
		return 0
	case strings.Contains(voiceID, "Chirp-HD"):
		return 1
	default:
		return 2
	}
}

// assignParams gives each voice a unique (rate, pitch) combination,
// consumed round-robin over the rate and pitch grids.
func assignParams(voices []tts.Voice, gender podcast.Gender) []Entry {
	pitches := pitchRanges[gender]
	entries := make([]Entry, 0, len(voices))
	for i, v := range voices {
		rate := speakingRates[i%len(speakingRates)]
		pitch := pitches[(i/len(speakingRates))%len(pitches)]
		entries = append(entries, Entry{
			VoiceID:       v.ID,
			LanguageCodes: v.LanguageCodes,
			SpeakingRate:  rate,
			Pitch:         pitch,
		})
	}
	return entries
}

// buildNeutral draws evenly from the selected Male and Female voices and
// re-parameterises them in the neutral pitch range.
func buildNeutral(male, female []tts.Voice) []Entry {
	var interleaved []tts.Voice
	for i := 0; i < len(male) || i < len(female); i++ {
		if i < len(male) {
			interleaved = append(interleaved, male[i])
		}
		if i < len(female) {
			interleaved = append(interleaved, female[i])
		}
	}
	if len(interleaved) > 12 {
		interleaved = interleaved[:12]
	}
	return assignParams(interleaved, podcast.GenderNeutral)
}

// BackupVoices is the per-gender Chirp3-HD fallback used when a task
// exhausts the catalog bucket for a gender.
var BackupVoices = map[podcast.Gender][]Entry{
	podcast.GenderMale: {
		{VoiceID: "en-US-Chirp3-HD-Charon", LanguageCodes: []string{"en-US"}, SpeakingRate: 1.0, Pitch: -2.0},
		{VoiceID: "en-US-Chirp3-HD-Fenrir", LanguageCodes: []string{"en-US"}, SpeakingRate: 0.94, Pitch: -3.0},
		{VoiceID: "en-GB-Chirp3-HD-Puck", LanguageCodes: []string{"en-GB"}, SpeakingRate: 1.06, Pitch: -1.0},
	},
	podcast.GenderFemale: {
		{VoiceID: "en-US-Chirp3-HD-Kore", LanguageCodes: []string{"en-US"}, SpeakingRate: 1.0, Pitch: 2.0},
		{VoiceID: "en-US-Chirp3-HD-Leda", LanguageCodes: []string{"en-US"}, SpeakingRate: 0.94, Pitch: 3.0},
		{VoiceID: "en-GB-Chirp3-HD-Aoede", LanguageCodes: []string{"en-GB"}, SpeakingRate: 1.06, Pitch: 1.0},
	},
	podcast.GenderNeutral: {
		{VoiceID: "en-US-Chirp3-HD-Zephyr", LanguageCodes: []string{"en-US"}, SpeakingRate: 1.0, Pitch: 0.0},
		{VoiceID: "en-AU-Chirp3-HD-Orus", LanguageCodes: []string{"en-AU"}, SpeakingRate: 1.03, Pitch: 0.5},
	},
}
