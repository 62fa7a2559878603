// Package postgres provides a status.Store backed by PostgreSQL, for
// deployments where task state must survive process restarts. Structured
// sub-fields (request, artifacts, warnings, episode) are stored as JSONB.
//
// Every mutation is a single guarded UPDATE so that the lifecycle
// invariants hold without client-side locking: the WHERE clause encodes
// the allowed source states and a zero row count is mapped back to the
// store's sentinel errors.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/podforge/podforge/internal/status"
	"github.com/podforge/podforge/pkg/podcast"
)

// Schema is the SQL DDL for the podcast_tasks table. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS podcast_tasks (
    task_id        TEXT PRIMARY KEY,
    status         TEXT NOT NULL DEFAULT 'queued',
    description    TEXT NOT NULL DEFAULT '',
    progress       INT NOT NULL DEFAULT 0,
    request        JSONB NOT NULL DEFAULT '{}',
    artifacts      JSONB NOT NULL DEFAULT '{}',
    warnings       JSONB NOT NULL DEFAULT '[]',
    error_details  JSONB,
    episode        JSONB,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_podcast_tasks_status ON podcast_tasks(status);
CREATE INDEX IF NOT EXISTS idx_podcast_tasks_created ON podcast_tasks(created_at DESC);
`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a status.Store backed by a PostgreSQL database.
type Store struct {
	db DB
}

// Compile-time interface check.
var _ status.Store = (*Store)(nil)

// New creates a Store using the given connection or pool. The caller is
// responsible for calling [Store.Migrate] before issuing queries.
func New(db DB) *Store {
	return &Store{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("status/postgres: migrate: %w", err)
	}
	return nil
}

const terminalGuard = `status NOT IN ('completed','failed','cancelled')`

// phaseOrder is the happy-path lifecycle, used to derive the allowed
// predecessor of a forward transition.
var phaseOrder = []podcast.State{
	podcast.StateQueued,
	podcast.StatePreprocessing,
	podcast.StateAnalyzing,
	podcast.StateResearching,
	podcast.StateOutlining,
	podcast.StateDialogue,
	podcast.StateAudioSegments,
	podcast.StateStitching,
	podcast.StatePostprocessing,
	podcast.StateCompleted,
}

func predecessor(state podcast.State) (podcast.State, bool) {
	for i := 1; i < len(phaseOrder); i++ {
		if phaseOrder[i] == state {
			return phaseOrder[i-1], true
		}
	}
	return "", false
}

// Create implements status.Store.
func (s *Store) Create(ctx context.Context, taskID string, req podcast.Request) (*podcast.TaskStatus, error) {
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("status/postgres: marshal request: %w", err)
	}
	artJSON, _ := json.Marshal(podcast.ArtifactFlags{})

	const query = `
		INSERT INTO podcast_tasks (task_id, status, description, request, artifacts)
		VALUES ($1, 'queued', 'Task queued', $2, $3)
		RETURNING created_at, updated_at`

	st := &podcast.TaskStatus{
		TaskID:            taskID,
		Status:            podcast.StateQueued,
		StatusDescription: "Task queued",
		RequestData:       req,
	}
	err = s.db.QueryRow(ctx, query, taskID, reqJSON, artJSON).Scan(&st.CreatedAt, &st.LastUpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, status.ErrAlreadyExists
		}
		return nil, fmt.Errorf("status/postgres: create: %w", err)
	}
	return st, nil
}

// Update implements status.Store.
func (s *Store) Update(ctx context.Context, taskID string, state podcast.State, description string, progress int) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if state == podcast.StateFailed || state == podcast.StateCancelled {
		const query = `
			UPDATE podcast_tasks
			SET status = $2, description = $3,
			    progress = GREATEST(progress, $4),
			    updated_at = now()
			WHERE task_id = $1 AND ` + terminalGuard
		tag, err = s.db.Exec(ctx, query, taskID, string(state), description, max(progress, 0))
	} else {
		pred, ok := predecessor(state)
		if !ok {
			return status.ErrInvalidTransition
		}
		const query = `
			UPDATE podcast_tasks
			SET status = $2, description = $3,
			    progress = GREATEST(progress, $4),
			    updated_at = now()
			WHERE task_id = $1 AND status = $5`
		tag, err = s.db.Exec(ctx, query, taskID, string(state), description, max(progress, 0), string(pred))
	}
	if err != nil {
		return fmt.Errorf("status/postgres: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.rejectReason(ctx, taskID)
	}
	return nil
}

// rejectReason distinguishes not-found, terminal and invalid-transition
// after a guarded UPDATE touched zero rows.
func (s *Store) rejectReason(ctx context.Context, taskID string) error {
	var cur string
	err := s.db.QueryRow(ctx, `SELECT status FROM podcast_tasks WHERE task_id = $1`, taskID).Scan(&cur)
	if errors.Is(err, pgx.ErrNoRows) {
		return status.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("status/postgres: reject reason: %w", err)
	}
	if podcast.State(cur).Terminal() {
		return status.ErrTerminal
	}
	return status.ErrInvalidTransition
}

// SetProgress implements status.Store.
func (s *Store) SetProgress(ctx context.Context, taskID string, progress int, description string) error {
	const query = `
		UPDATE podcast_tasks
		SET progress = GREATEST(progress, $2),
		    description = CASE WHEN $3 = '' THEN description ELSE $3 END,
		    updated_at = now()
		WHERE task_id = $1 AND ` + terminalGuard
	tag, err := s.db.Exec(ctx, query, taskID, progress, description)
	if err != nil {
		return fmt.Errorf("status/postgres: set progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.rejectReason(ctx, taskID)
	}
	return nil
}

// SetArtifact implements status.Store.
func (s *Store) SetArtifact(ctx context.Context, taskID string, flag status.Artifact) error {
	const query = `
		UPDATE podcast_tasks
		SET artifacts = jsonb_set(artifacts, ARRAY[$2::text], 'true'::jsonb),
		    updated_at = now()
		WHERE task_id = $1`
	tag, err := s.db.Exec(ctx, query, taskID, string(flag))
	if err != nil {
		return fmt.Errorf("status/postgres: set artifact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return status.ErrNotFound
	}
	return nil
}

// AppendWarning implements status.Store.
func (s *Store) AppendWarning(ctx context.Context, taskID string, message string) error {
	const query = `
		UPDATE podcast_tasks
		SET warnings = warnings || to_jsonb($2::text),
		    updated_at = now()
		WHERE task_id = $1`
	tag, err := s.db.Exec(ctx, query, taskID, message)
	if err != nil {
		return fmt.Errorf("status/postgres: append warning: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return status.ErrNotFound
	}
	return nil
}

// SetError implements status.Store.
func (s *Store) SetError(ctx context.Context, taskID string, title, detail string) error {
	details, err := json.Marshal(podcast.ErrorDetails{Title: title, Detail: detail})
	if err != nil {
		return fmt.Errorf("status/postgres: marshal error details: %w", err)
	}
	const query = `
		UPDATE podcast_tasks
		SET status = 'failed', description = $2, error_details = $3,
		    updated_at = now()
		WHERE task_id = $1 AND ` + terminalGuard
	tag, err := s.db.Exec(ctx, query, taskID, title, details)
	if err != nil {
		return fmt.Errorf("status/postgres: set error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.rejectReason(ctx, taskID)
	}
	return nil
}

// SetEpisode implements status.Store.
func (s *Store) SetEpisode(ctx context.Context, taskID string, ep podcast.Episode) error {
	epJSON, err := json.Marshal(ep)
	if err != nil {
		return fmt.Errorf("status/postgres: marshal episode: %w", err)
	}
	const query = `
		UPDATE podcast_tasks
		SET episode = $2, updated_at = now()
		WHERE task_id = $1 AND episode IS NULL`
	tag, err := s.db.Exec(ctx, query, taskID, epJSON)
	if err != nil {
		return fmt.Errorf("status/postgres: set episode: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.db.QueryRow(ctx, `SELECT true FROM podcast_tasks WHERE task_id = $1`, taskID).Scan(&exists); errors.Is(err, pgx.ErrNoRows) {
			return status.ErrNotFound
		}
		return status.ErrEpisodeSet
	}
	return nil
}

const selectColumns = `
	task_id, status, description, progress,
	request, artifacts, warnings, error_details, episode,
	created_at, updated_at`

// Get implements status.Store.
func (s *Store) Get(ctx context.Context, taskID string) (*podcast.TaskStatus, error) {
	row := s.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM podcast_tasks WHERE task_id = $1`, taskID)
	st, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, status.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("status/postgres: get %q: %w", taskID, err)
	}
	return st, nil
}

// List implements status.Store.
func (s *Store) List(ctx context.Context, limit, offset int) ([]*podcast.TaskStatus, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+selectColumns+` FROM podcast_tasks ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("status/postgres: list: %w", err)
	}
	defer rows.Close()

	var out []*podcast.TaskStatus
	for rows.Next() {
		st, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("status/postgres: list scan: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("status/postgres: list: %w", err)
	}
	return out, nil
}

// Delete implements status.Store.
func (s *Store) Delete(ctx context.Context, taskID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM podcast_tasks WHERE task_id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("status/postgres: delete %q: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return status.ErrNotFound
	}
	return nil
}

// scanTask reads one row into a TaskStatus, deserialising the JSONB
// columns.
func scanTask(row pgx.Row) (*podcast.TaskStatus, error) {
	var (
		st                         podcast.TaskStatus
		state                      string
		reqJSON, artJSON, warnJSON []byte
		errJSON, epJSON            []byte
	)
	if err := row.Scan(
		&st.TaskID, &state, &st.StatusDescription, &st.ProgressPercentage,
		&reqJSON, &artJSON, &warnJSON, &errJSON, &epJSON,
		&st.CreatedAt, &st.LastUpdatedAt,
	); err != nil {
		return nil, err
	}
	st.Status = podcast.State(state)

	if err := json.Unmarshal(reqJSON, &st.RequestData); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}
	if err := json.Unmarshal(artJSON, &st.Artifacts); err != nil {
		return nil, fmt.Errorf("unmarshal artifacts: %w", err)
	}
	if err := json.Unmarshal(warnJSON, &st.Warnings); err != nil {
		return nil, fmt.Errorf("unmarshal warnings: %w", err)
	}
	if len(errJSON) > 0 {
		st.ErrorDetails = &podcast.ErrorDetails{}
		if err := json.Unmarshal(errJSON, st.ErrorDetails); err != nil {
			return nil, fmt.Errorf("unmarshal error details: %w", err)
		}
	}
	if len(epJSON) > 0 {
		st.ResultEpisode = &podcast.Episode{}
		if err := json.Unmarshal(epJSON, st.ResultEpisode); err != nil {
			return nil, fmt.Errorf("unmarshal episode: %w", err)
		}
	}
	return &st, nil
}

// isDuplicateKeyError checks whether a PostgreSQL error is a
// unique-violation (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
