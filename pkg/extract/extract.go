// Package extract defines the content extraction interface consumed by the
// generation pipeline and ships small built-in extractors for web pages
// and YouTube transcripts.
//
// Extractors are external collaborators from the pipeline's point of
// view: each turns one source locator into a (text, attribution) pair or
// fails. Per-source failures are non-fatal upstream; the pipeline records
// them as warnings.
package extract

import (
	"context"
	"net/url"
	"strings"
)

// Result is the extracted content of one source.
type Result struct {
	// Text is the plain-text content.
	Text string

	// Attribution identifies the source for transcripts and webhook
	// payloads (usually the URL or file name).
	Attribution string
}

// Extractor turns a source locator (URL or file path) into text.
//
// Implementations must be safe for concurrent use; the pipeline may
// extract several sources of one task in sequence but runs many tasks at
// once.
type Extractor interface {
	Extract(ctx context.Context, source string) (*Result, error)
}

// Kind classifies a source locator.
type Kind string

const (
	KindYouTube Kind = "youtube"
	KindWeb     Kind = "web"
	KindPDF     Kind = "pdf"
)

// Classify maps a source locator to the extractor kind that should handle
// it. Anything that is not a YouTube URL or a .pdf path is treated as a
// generic web page.
func Classify(source string) Kind {
	if IsYouTubeURL(source) {
		return KindYouTube
	}
	if strings.HasSuffix(strings.ToLower(source), ".pdf") {
		return KindPDF
	}
	return KindWeb
}

// IsYouTubeURL reports whether the URL points at a YouTube video.
func IsYouTubeURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch host {
	case "youtube.com", "m.youtube.com", "youtube-nocookie.com":
		return u.Query().Get("v") != "" || strings.HasPrefix(u.Path, "/shorts/") || strings.HasPrefix(u.Path, "/embed/")
	case "youtu.be":
		return len(strings.Trim(u.Path, "/")) > 0
	}
	return false
}

// YouTubeVideoID extracts the video ID from any supported YouTube URL
// shape. Returns "" when the URL carries no ID.
func YouTubeVideoID(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch host {
	case "youtube.com", "m.youtube.com", "youtube-nocookie.com":
		if v := u.Query().Get("v"); v != "" {
			return v
		}
		for _, prefix := range []string{"/shorts/", "/embed/"} {
			if strings.HasPrefix(u.Path, prefix) {
				rest := strings.TrimPrefix(u.Path, prefix)
				if i := strings.IndexByte(rest, '/'); i >= 0 {
					rest = rest[:i]
				}
				return rest
			}
		}
	case "youtu.be":
		return strings.Trim(u.Path, "/")
	}
	return ""
}
