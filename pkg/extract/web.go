package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	defaultWebTimeout = 30 * time.Second
	maxBodyBytes      = 8 << 20 // 8 MiB cap on fetched pages
	userAgent         = "podforge/1.0 (+https://github.com/podforge/podforge)"
)

// WebExtractor fetches a URL over HTTP and reduces HTML to plain text.
//
// The reduction is deliberately crude: scripts, styles and tags are
// stripped and entities for whitespace collapse. Rich readability
// extraction is the job of an external service; this built-in keeps the
// pipeline usable without one.
type WebExtractor struct {
	client *http.Client
}

var _ Extractor = (*WebExtractor)(nil)

// NewWebExtractor creates a WebExtractor. A nil client gets a default
// with a 30 s timeout.
func NewWebExtractor(client *http.Client) *WebExtractor {
	if client == nil {
		client = &http.Client{Timeout: defaultWebTimeout}
	}
	return &WebExtractor{client: client}
}

// Extract implements Extractor.
func (e *WebExtractor) Extract(ctx context.Context, source string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("extract: build request for %s: %w", source, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html, text/plain;q=0.9, */*;q=0.1")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extract: fetch %s: %w", source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("extract: fetch %s: status %d", source, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("extract: read %s: %w", source, err)
	}

	text := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "html") || looksLikeHTML(text) {
		text = HTMLToText(text)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("extract: %s yielded no text", source)
	}

	return &Result{Text: text, Attribution: source}, nil
}

var (
	scriptPattern = regexp.MustCompile(`(?is)<(script|style|noscript|head)\b.*?</\s*(script|style|noscript|head)\s*>`)
	tagPattern    = regexp.MustCompile(`(?s)<[^>]*>`)
	spacePattern  = regexp.MustCompile(`[ \t]+`)
	blankPattern  = regexp.MustCompile(`\n{3,}`)
)

// HTMLToText strips markup from an HTML document and returns readable
// plain text with collapsed whitespace.
func HTMLToText(html string) string {
	s := scriptPattern.ReplaceAllString(html, " ")
	// Preserve block boundaries as newlines before removing tags.
	s = regexp.MustCompile(`(?i)<(/p|/div|/li|/h[1-6]|br[^>]*)>`).ReplaceAllString(s, "\n")
	s = tagPattern.ReplaceAllString(s, " ")
	s = unescapeEntities(s)
	s = spacePattern.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = blankPattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

var entityReplacer = strings.NewReplacer(
	"&nbsp;", " ",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&apos;", "'",
)

func unescapeEntities(s string) string {
	return entityReplacer.Replace(s)
}

func looksLikeHTML(s string) bool {
	head := strings.ToLower(s[:min(512, len(s))])
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}
