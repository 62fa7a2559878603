package status

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/podforge/podforge/pkg/podcast"
)

func newTestStore() *MemStore {
	s := NewMemStore()
	// Monotonic fake clock so List ordering is deterministic.
	var mu sync.Mutex
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
	return s
}

func testRequest() podcast.Request {
	return podcast.Request{SourceURLs: []string{"https://example.com"}}
}

func TestCreateAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()

	st, err := s.Create(ctx, "t1", testRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if st.Status != podcast.StateQueued || st.ProgressPercentage != 0 {
		t.Errorf("initial status = %s %d%%", st.Status, st.ProgressPercentage)
	}
	if st.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	if _, err := s.Create(ctx, "t1", testRequest()); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate Create: %v, want ErrAlreadyExists", err)
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing: %v, want ErrNotFound", err)
	}
}

func TestUpdateFollowsLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	s.Create(ctx, "t1", testRequest())

	if err := s.Update(ctx, "t1", podcast.StatePreprocessing, "Fetching sources", 5); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.Update(ctx, "t1", podcast.StateOutlining, "skip ahead", 45); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("skipping phases: %v, want ErrInvalidTransition", err)
	}

	st, _ := s.Get(ctx, "t1")
	if st.Status != podcast.StatePreprocessing || st.ProgressPercentage != 5 {
		t.Errorf("status after rejected update = %s %d%%", st.Status, st.ProgressPercentage)
	}
}

func TestTerminalIsWriteOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	s.Create(ctx, "t1", testRequest())

	if err := s.Update(ctx, "t1", podcast.StateCancelled, "Cancelled by user", -1); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if err := s.Update(ctx, "t1", podcast.StatePreprocessing, "restart", 5); !errors.Is(err, ErrTerminal) {
		t.Errorf("update after terminal: %v, want ErrTerminal", err)
	}
	if err := s.SetError(ctx, "t1", "X", "Y"); !errors.Is(err, ErrTerminal) {
		t.Errorf("SetError after terminal: %v, want ErrTerminal", err)
	}
	if err := s.SetProgress(ctx, "t1", 99, ""); !errors.Is(err, ErrTerminal) {
		t.Errorf("SetProgress after terminal: %v, want ErrTerminal", err)
	}

	st, _ := s.Get(ctx, "t1")
	if st.Status != podcast.StateCancelled {
		t.Errorf("terminal state mutated to %s", st.Status)
	}
}

func TestProgressMonotonic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	s.Create(ctx, "t1", testRequest())

	s.Update(ctx, "t1", podcast.StatePreprocessing, "p", 5)
	if err := s.SetProgress(ctx, "t1", 80, "audio 5/16"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetProgress(ctx, "t1", 60, "stale"); err != nil {
		t.Fatal(err)
	}

	st, _ := s.Get(ctx, "t1")
	if st.ProgressPercentage != 80 {
		t.Errorf("progress = %d, want 80 (monotonic)", st.ProgressPercentage)
	}
}

func TestSetErrorTransitionsToFailed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	s.Create(ctx, "t1", testRequest())
	s.Update(ctx, "t1", podcast.StatePreprocessing, "p", 5)

	if err := s.SetError(ctx, "t1", "No Content Extracted", "all sources failed"); err != nil {
		t.Fatalf("SetError: %v", err)
	}
	st, _ := s.Get(ctx, "t1")
	if st.Status != podcast.StateFailed {
		t.Errorf("status = %s, want failed", st.Status)
	}
	if st.ErrorDetails == nil || st.ErrorDetails.Title != "No Content Extracted" {
		t.Errorf("error details = %+v", st.ErrorDetails)
	}
	if st.ResultEpisode != nil {
		t.Error("failed task must not carry an episode")
	}
}

func TestSetEpisodeWriteOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	s.Create(ctx, "t1", testRequest())

	if err := s.SetEpisode(ctx, "t1", podcast.Episode{Title: "First"}); err != nil {
		t.Fatalf("SetEpisode: %v", err)
	}
	if err := s.SetEpisode(ctx, "t1", podcast.Episode{Title: "Second"}); !errors.Is(err, ErrEpisodeSet) {
		t.Errorf("second SetEpisode: %v, want ErrEpisodeSet", err)
	}
	st, _ := s.Get(ctx, "t1")
	if st.ResultEpisode.Title != "First" {
		t.Errorf("episode overwritten: %q", st.ResultEpisode.Title)
	}
}

func TestArtifactsAndWarnings(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	s.Create(ctx, "t1", testRequest())

	s.SetArtifact(ctx, "t1", ArtifactSourceContent)
	s.SetArtifact(ctx, "t1", ArtifactFinalAudio)
	s.AppendWarning(ctx, "t1", "source 2 failed")
	s.AppendWarning(ctx, "t1", "segment 7 skipped")

	st, _ := s.Get(ctx, "t1")
	if !st.Artifacts.SourceContentExtracted || !st.Artifacts.FinalPodcastAudioAvailable {
		t.Errorf("artifacts = %+v", st.Artifacts)
	}
	if st.Artifacts.PodcastOutlineComplete {
		t.Error("unset artifact flag is true")
	}
	if len(st.Warnings) != 2 || st.Warnings[0] != "source 2 failed" {
		t.Errorf("warnings = %v", st.Warnings)
	}
}

func TestListPagination(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	for i := 0; i < 5; i++ {
		s.Create(ctx, fmt.Sprintf("t%d", i), testRequest())
	}

	all, err := s.List(ctx, 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("len = %d, want 5", len(all))
	}
	// Newest first.
	if all[0].TaskID != "t4" || all[4].TaskID != "t0" {
		t.Errorf("order = %s ... %s", all[0].TaskID, all[4].TaskID)
	}

	page, _ := s.List(ctx, 2, 1)
	if len(page) != 2 || page[0].TaskID != "t3" || page[1].TaskID != "t2" {
		t.Errorf("page = %v", ids(page))
	}
	empty, _ := s.List(ctx, 2, 10)
	if len(empty) != 0 {
		t.Errorf("offset beyond end: %v", ids(empty))
	}
}

func ids(statuses []*podcast.TaskStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = s.TaskID
	}
	return out
}

func TestDeleteIdempotency(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	s.Create(ctx, "t1", testRequest())

	if err := s.Delete(ctx, "t1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete: %v, want ErrNotFound", err)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	s.Create(ctx, "t1", testRequest())
	s.AppendWarning(ctx, "t1", "w1")

	snap, _ := s.Get(ctx, "t1")
	s.AppendWarning(ctx, "t1", "w2")

	if len(snap.Warnings) != 1 {
		t.Errorf("snapshot saw later mutation: %v", snap.Warnings)
	}
}

func TestConcurrentMutation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore()
	s.Create(ctx, "t1", testRequest())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.AppendWarning(ctx, "t1", fmt.Sprintf("w%d", i))
			s.Get(ctx, "t1")
		}(i)
	}
	wg.Wait()

	st, _ := s.Get(ctx, "t1")
	if len(st.Warnings) != 50 {
		t.Errorf("warnings = %d, want 50", len(st.Warnings))
	}
}
