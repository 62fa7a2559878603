package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const defaultTranscriptEndpoint = "https://video.google.com/timedtext"

// YouTubeExtractor fetches the public caption track of a YouTube video
// and flattens it to plain text.
type YouTubeExtractor struct {
	client   *http.Client
	endpoint string
	language string
}

var _ Extractor = (*YouTubeExtractor)(nil)

// YouTubeOption is a functional option for YouTubeExtractor.
type YouTubeOption func(*YouTubeExtractor)

// WithTranscriptEndpoint overrides the caption endpoint. Used by tests.
func WithTranscriptEndpoint(endpoint string) YouTubeOption {
	return func(e *YouTubeExtractor) {
		e.endpoint = endpoint
	}
}

// WithLanguage sets the requested caption language (default "en").
func WithLanguage(lang string) YouTubeOption {
	return func(e *YouTubeExtractor) {
		e.language = lang
	}
}

// NewYouTubeExtractor creates a YouTubeExtractor. A nil client gets a
// default with a 30 s timeout.
func NewYouTubeExtractor(client *http.Client, opts ...YouTubeOption) *YouTubeExtractor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	e := &YouTubeExtractor{
		client:   client,
		endpoint: defaultTranscriptEndpoint,
		language: "en",
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract implements Extractor.
func (e *YouTubeExtractor) Extract(ctx context.Context, source string) (*Result, error) {
	videoID := YouTubeVideoID(source)
	if videoID == "" {
		return nil, fmt.Errorf("extract: %s is not a recognisable YouTube URL", source)
	}

	q := url.Values{}
	q.Set("lang", e.language)
	q.Set("v", videoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("extract: build transcript request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extract: fetch transcript for %s: %w", videoID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extract: transcript for %s: status %d", videoID, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("extract: read transcript for %s: %w", videoID, err)
	}

	text := flattenTimedText(string(body))
	if text == "" {
		return nil, fmt.Errorf("extract: video %s has no caption track", videoID)
	}

	return &Result{Text: text, Attribution: source}, nil
}

var timedTextPattern = regexp.MustCompile(`(?s)<text[^>]*>(.*?)</text>`)

// flattenTimedText joins the <text> elements of a timedtext XML document
// into one plain-text transcript.
func flattenTimedText(xml string) string {
	matches := timedTextPattern.FindAllStringSubmatch(xml, -1)
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		line := strings.TrimSpace(unescapeEntities(m[1]))
		if line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, " ")
}
