package pipeline

import (
	"fmt"
	"strings"

	"github.com/podforge/podforge/pkg/podcast"
)

// sourceContextLimit bounds the snippet of combined source text stored on
// each persona record.
const sourceContextLimit = 500

const analysisSystemPrompt = `You are a research assistant preparing material for a podcast.
Respond with a single JSON object matching:
{"summary_points": ["..."], "detailed_analysis": "..."}`

func analysisPrompt(combined string) string {
	var b strings.Builder
	b.WriteString("Analyse the following source material. Produce concise summary points and a detailed analysis suitable for podcast planning.\n\n")
	b.WriteString(combined)
	return b.String()
}

const researchSystemPrompt = `You research real people for podcast appearances.
Respond with a single JSON object matching:
{"detailed_profile": "...", "gender": "Male|Female|Neutral"}`

func researchPrompt(name, combined string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research %s as a podcast guest. Cover their life, work, views and speaking style in a multi-section profile. Note their gender.\n", name)
	if combined != "" {
		b.WriteString("\nSource material mentioning them:\n")
		b.WriteString(truncate(combined, 4000))
	}
	return b.String()
}

const outlineSystemPrompt = `You plan podcast episodes.
Respond with a single JSON object matching:
{"title_suggestion": "...", "summary_suggestion": "...",
 "segments": [{"segment_id": "...", "segment_title": "...", "speaker_id": "...",
               "content_cue": "...", "estimated_duration_seconds": 60}]}`

func outlinePrompt(analysis podcast.SourceAnalysis, personas []podcast.PersonaResearch, targetSeconds int, customPrompt string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan a podcast episode of about %d seconds total.\n", targetSeconds)

	if !analysis.Empty() {
		b.WriteString("\nSource analysis:\n")
		for _, pt := range analysis.SummaryPoints {
			fmt.Fprintf(&b, "- %s\n", pt)
		}
		if analysis.DetailedAnalysis != "" {
			b.WriteString(truncate(analysis.DetailedAnalysis, 3000))
			b.WriteByte('\n')
		}
	}

	b.WriteString("\nAvailable speakers (use these speaker_id values):\n")
	for _, p := range personas {
		fmt.Fprintf(&b, "- %s (stage name %s)\n", p.PersonID, p.InventedName)
	}

	if customPrompt != "" {
		b.WriteString("\nAdditional instructions from the requester:\n")
		b.WriteString(customPrompt)
		b.WriteByte('\n')
	}
	b.WriteString("\nSum of segment durations must be close to the target length.")
	return b.String()
}

const dialogueSystemPrompt = `You write natural podcast dialogue.
Respond with a single JSON array of turns:
[{"speaker_id": "...", "speaker_gender": "Male|Female|Neutral", "text": "...", "source_mentions": []}]`

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
