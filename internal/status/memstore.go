package status

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/podforge/podforge/pkg/podcast"
)

// MemStore is the in-memory Store used by default. Each task carries its
// own lock so that concurrent jobs never contend; the store-level lock
// only guards the map itself.
type MemStore struct {
	mu    sync.RWMutex
	tasks map[string]*taskEntry

	// now is injectable for tests.
	now func() time.Time
}

type taskEntry struct {
	mu     sync.Mutex
	status podcast.TaskStatus
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		tasks: make(map[string]*taskEntry),
		now:   time.Now,
	}
}

// Create implements Store.
func (s *MemStore) Create(_ context.Context, taskID string, req podcast.Request) (*podcast.TaskStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[taskID]; ok {
		return nil, ErrAlreadyExists
	}

	now := s.now()
	entry := &taskEntry{
		status: podcast.TaskStatus{
			TaskID:            taskID,
			Status:            podcast.StateQueued,
			StatusDescription: "Task queued",
			RequestData:       req,
			CreatedAt:         now,
			LastUpdatedAt:     now,
		},
	}
	s.tasks[taskID] = entry
	return entry.status.Clone(), nil
}

// entry looks up the task entry under the read lock.
func (s *MemStore) entry(taskID string) (*taskEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// Update implements Store.
func (s *MemStore) Update(_ context.Context, taskID string, state podcast.State, description string, progress int) error {
	e, err := s.entry(taskID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.status.Status
	if cur.Terminal() {
		return ErrTerminal
	}
	if !cur.CanTransition(state) {
		return ErrInvalidTransition
	}

	e.status.Status = state
	e.status.StatusDescription = description
	if progress > e.status.ProgressPercentage {
		e.status.ProgressPercentage = progress
	}
	e.status.LastUpdatedAt = s.now()
	return nil
}

// SetProgress implements Store.
func (s *MemStore) SetProgress(_ context.Context, taskID string, progress int, description string) error {
	e, err := s.entry(taskID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status.Status.Terminal() {
		return ErrTerminal
	}
	if progress > e.status.ProgressPercentage {
		e.status.ProgressPercentage = progress
	}
	if description != "" {
		e.status.StatusDescription = description
	}
	e.status.LastUpdatedAt = s.now()
	return nil
}

// SetArtifact implements Store.
func (s *MemStore) SetArtifact(_ context.Context, taskID string, flag Artifact) error {
	e, err := s.entry(taskID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	flag.apply(&e.status.Artifacts)
	e.status.LastUpdatedAt = s.now()
	return nil
}

// AppendWarning implements Store.
func (s *MemStore) AppendWarning(_ context.Context, taskID string, message string) error {
	e, err := s.entry(taskID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.status.Warnings = append(e.status.Warnings, message)
	e.status.LastUpdatedAt = s.now()
	return nil
}

// SetError implements Store.
func (s *MemStore) SetError(_ context.Context, taskID string, title, detail string) error {
	e, err := s.entry(taskID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status.Status.Terminal() {
		return ErrTerminal
	}
	e.status.Status = podcast.StateFailed
	e.status.StatusDescription = title
	e.status.ErrorDetails = &podcast.ErrorDetails{Title: title, Detail: detail}
	e.status.LastUpdatedAt = s.now()
	return nil
}

// SetEpisode implements Store.
func (s *MemStore) SetEpisode(_ context.Context, taskID string, ep podcast.Episode) error {
	e, err := s.entry(taskID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status.ResultEpisode != nil {
		return ErrEpisodeSet
	}
	e.status.ResultEpisode = &ep
	e.status.LastUpdatedAt = s.now()
	return nil
}

// Get implements Store.
func (s *MemStore) Get(_ context.Context, taskID string) (*podcast.TaskStatus, error) {
	e, err := s.entry(taskID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status.Clone(), nil
}

// List implements Store.
func (s *MemStore) List(_ context.Context, limit, offset int) ([]*podcast.TaskStatus, error) {
	s.mu.RLock()
	entries := make([]*taskEntry, 0, len(s.tasks))
	for _, e := range s.tasks {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	snapshots := make([]*podcast.TaskStatus, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		snapshots = append(snapshots, e.status.Clone())
		e.mu.Unlock()
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
	})

	if offset >= len(snapshots) {
		return nil, nil
	}
	snapshots = snapshots[offset:]
	if limit > 0 && limit < len(snapshots) {
		snapshots = snapshots[:limit]
	}
	return snapshots, nil
}

// Delete implements Store.
func (s *MemStore) Delete(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[taskID]; !ok {
		return ErrNotFound
	}
	delete(s.tasks, taskID)
	return nil
}
