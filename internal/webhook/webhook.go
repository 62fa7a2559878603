// Package webhook delivers terminal-state notifications to the URL a
// request registered, with bounded exponential retry. Delivery is best
// effort: exhausted retries are logged and never touch task state.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/podforge/podforge/internal/observe"
	"github.com/podforge/podforge/pkg/podcast"
)

const (
	// DefaultMaxAttempts is the total number of delivery attempts.
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the delay before the second attempt; it doubles
	// per retry.
	DefaultBaseDelay = time.Second

	// DefaultAttemptTimeout bounds each individual POST.
	DefaultAttemptTimeout = 10 * time.Second
)

// Payload is the JSON body POSTed to the webhook URL.
type Payload struct {
	TaskID    string  `json:"task_id"`
	Status    string  `json:"status"`
	Timestamp string  `json:"timestamp"`
	Result    *Result `json:"result,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// Result summarises a completed episode for the webhook consumer.
type Result struct {
	Title         string   `json:"title"`
	Summary       string   `json:"summary"`
	AudioFilepath string   `json:"audio_filepath"`
	HasTranscript bool     `json:"has_transcript"`
	SourceCount   int      `json:"source_count"`
	Warnings      []string `json:"warnings"`
}

// Option is a functional option for Notifier.
type Option func(*Notifier)

// WithMaxAttempts overrides the attempt budget.
func WithMaxAttempts(n int) Option {
	return func(w *Notifier) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithBaseDelay overrides the first retry delay.
func WithBaseDelay(d time.Duration) Option {
	return func(w *Notifier) {
		if d > 0 {
			w.baseDelay = d
		}
	}
}

// WithHTTPClient injects the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(w *Notifier) { w.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Notifier) { w.logger = l }
}

// WithMetrics overrides the metric instruments, mainly for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(w *Notifier) {
		if m != nil {
			w.metrics = m
		}
	}
}

// Notifier POSTs terminal-state payloads. Safe for concurrent use.
type Notifier struct {
	client      *http.Client
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
	metrics     *observe.Metrics
	now         func() time.Time
}

// New creates a Notifier with the default retry policy.
func New(opts ...Option) *Notifier {
	w := &Notifier{
		client:      &http.Client{Timeout: DefaultAttemptTimeout},
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		logger:      slog.Default(),
		metrics:     observe.DefaultMetrics(),
		now:         time.Now,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// NotifyTerminal builds the payload for a terminal status and delivers
// it to url. The error return is informational; callers must not fail
// the task on it.
func (w *Notifier) NotifyTerminal(ctx context.Context, url string, st *podcast.TaskStatus) error {
	if url == "" {
		return nil
	}
	p := Payload{
		TaskID:    st.TaskID,
		Status:    string(st.Status),
		Timestamp: w.now().UTC().Format(time.RFC3339),
	}
	if st.ErrorDetails != nil {
		p.Error = fmt.Sprintf("%s: %s", st.ErrorDetails.Title, st.ErrorDetails.Detail)
	}
	if ep := st.ResultEpisode; ep != nil {
		p.Result = &Result{
			Title:         ep.Title,
			Summary:       ep.Summary,
			AudioFilepath: ep.AudioFilepath,
			HasTranscript: ep.Transcript != "",
			SourceCount:   len(ep.SourceAttributions),
			Warnings:      st.Warnings,
		}
	}
	return w.Deliver(ctx, url, p)
}

// Deliver POSTs p to url with retry. A non-2xx response counts as a
// failed attempt.
func (w *Notifier) Deliver(ctx context.Context, url string, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	delay := w.baseDelay
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		lastErr = w.post(ctx, url, body)
		if lastErr == nil {
			w.logger.Info("webhook delivered", "task_id", p.TaskID, "url", url, "attempt", attempt)
			w.metrics.RecordWebhookDelivery(ctx, "delivered")
			return nil
		}
		w.logger.Warn("webhook attempt failed",
			"task_id", p.TaskID, "url", url, "attempt", attempt, "error", lastErr)

		if attempt == w.maxAttempts {
			break
		}
		select {
		case <-time.After(delay):
			delay *= 2
		case <-ctx.Done():
			w.metrics.RecordWebhookDelivery(context.WithoutCancel(ctx), "failed")
			return ctx.Err()
		}
	}
	w.logger.Error("webhook delivery abandoned",
		"task_id", p.TaskID, "url", url, "attempts", w.maxAttempts, "error", lastErr)
	w.metrics.RecordWebhookDelivery(ctx, "failed")
	return fmt.Errorf("webhook: delivery to %s failed after %d attempts: %w", url, w.maxAttempts, lastErr)
}

func (w *Notifier) post(ctx context.Context, url string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultAttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
