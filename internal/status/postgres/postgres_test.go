package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/podforge/podforge/internal/status"
	"github.com/podforge/podforge/pkg/podcast"
)

// ---------------------------------------------------------------------------
// Test helpers — mock DB types
// ---------------------------------------------------------------------------

// mockRow implements pgx.Row for testing.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

// mockDB implements the DB interface for testing.
type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)

	execSQL []string
}

func (db *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if db.queryRowFunc != nil {
		return db.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(...any) error { return pgx.ErrNoRows }}
}

func (db *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if db.queryFunc != nil {
		return db.queryFunc(ctx, sql, args...)
	}
	return nil, errors.New("query not configured")
}

func (db *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.execSQL = append(db.execSQL, sql)
	if db.execFunc != nil {
		return db.execFunc(ctx, sql, args...)
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

// ---------------------------------------------------------------------------

func TestMigrateExecutesSchema(t *testing.T) {
	t.Parallel()

	db := &mockDB{}
	s := New(db)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if len(db.execSQL) != 1 || !strings.Contains(db.execSQL[0], "CREATE TABLE IF NOT EXISTS podcast_tasks") {
		t.Errorf("unexpected DDL: %v", db.execSQL)
	}
}

func TestUpdateForwardGuardsOnPredecessor(t *testing.T) {
	t.Parallel()

	var gotArgs []any
	db := &mockDB{
		execFunc: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			gotArgs = args
			if !strings.Contains(sql, "status = $5") {
				t.Errorf("forward update must guard on predecessor state: %s", sql)
			}
			return pgconn.NewCommandTag("UPDATE 1"), nil
		},
	}
	s := New(db)

	err := s.Update(context.Background(), "t1", podcast.StateAnalyzing, "Analyzing", 15)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if gotArgs[4] != string(podcast.StatePreprocessing) {
		t.Errorf("predecessor arg = %v, want preprocessing_sources", gotArgs[4])
	}
}

func TestUpdateTerminalTargetGuardsOnNonTerminal(t *testing.T) {
	t.Parallel()

	db := &mockDB{
		execFunc: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
			if !strings.Contains(sql, "NOT IN ('completed','failed','cancelled')") {
				t.Errorf("cancel must guard on non-terminal: %s", sql)
			}
			return pgconn.NewCommandTag("UPDATE 1"), nil
		},
	}
	if err := New(db).Update(context.Background(), "t1", podcast.StateCancelled, "Cancelled", -1); err != nil {
		t.Fatalf("Update: %v", err)
	}
}

func TestUpdateRejectReasons(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		rowStatus string
		rowErr    error
		want      error
	}{
		{"missing task", "", pgx.ErrNoRows, status.ErrNotFound},
		{"terminal task", "completed", nil, status.ErrTerminal},
		{"wrong phase", "queued", nil, status.ErrInvalidTransition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := &mockDB{
				execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
					return pgconn.NewCommandTag("UPDATE 0"), nil
				},
				queryRowFunc: func(_ context.Context, _ string, _ ...any) pgx.Row {
					return &mockRow{scanFunc: func(dest ...any) error {
						if tc.rowErr != nil {
							return tc.rowErr
						}
						*(dest[0].(*string)) = tc.rowStatus
						return nil
					}}
				},
			}
			err := New(db).Update(context.Background(), "t1", podcast.StateOutlining, "x", 45)
			if !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestSetEpisodeWriteOnce(t *testing.T) {
	t.Parallel()

	db := &mockDB{
		execFunc: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
			if !strings.Contains(sql, "episode IS NULL") {
				t.Errorf("episode update must be write-once guarded: %s", sql)
			}
			return pgconn.NewCommandTag("UPDATE 0"), nil
		},
		queryRowFunc: func(_ context.Context, _ string, _ ...any) pgx.Row {
			return &mockRow{scanFunc: func(dest ...any) error {
				*(dest[0].(*bool)) = true
				return nil
			}}
		},
	}
	err := New(db).SetEpisode(context.Background(), "t1", podcast.Episode{Title: "Ep"})
	if !errors.Is(err, status.ErrEpisodeSet) {
		t.Errorf("err = %v, want ErrEpisodeSet", err)
	}
}

func TestGetScansJSONB(t *testing.T) {
	t.Parallel()

	reqJSON, _ := json.Marshal(podcast.Request{SourceURLs: []string{"https://example.com"}})
	artJSON, _ := json.Marshal(podcast.ArtifactFlags{FinalPodcastAudioAvailable: true})
	warnJSON, _ := json.Marshal([]string{"w1"})
	epJSON, _ := json.Marshal(podcast.Episode{Title: "Ep"})
	now := time.Now()

	db := &mockDB{
		queryRowFunc: func(_ context.Context, _ string, _ ...any) pgx.Row {
			return &mockRow{scanFunc: func(dest ...any) error {
				*(dest[0].(*string)) = "t1"
				*(dest[1].(*string)) = "completed"
				*(dest[2].(*string)) = "Done"
				*(dest[3].(*int)) = 100
				*(dest[4].(*[]byte)) = reqJSON
				*(dest[5].(*[]byte)) = artJSON
				*(dest[6].(*[]byte)) = warnJSON
				*(dest[7].(*[]byte)) = nil
				*(dest[8].(*[]byte)) = epJSON
				*(dest[9].(*time.Time)) = now
				*(dest[10].(*time.Time)) = now
				return nil
			}}
		},
	}

	st, err := New(db).Get(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if st.Status != podcast.StateCompleted || st.ProgressPercentage != 100 {
		t.Errorf("status = %s %d%%", st.Status, st.ProgressPercentage)
	}
	if !st.Artifacts.FinalPodcastAudioAvailable {
		t.Error("artifact flag lost in scan")
	}
	if st.ErrorDetails != nil {
		t.Error("nil error_details column should stay nil")
	}
	if st.ResultEpisode == nil || st.ResultEpisode.Title != "Ep" {
		t.Errorf("episode = %+v", st.ResultEpisode)
	}
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()

	db := &mockDB{}
	if _, err := New(db).Get(context.Background(), "missing"); !errors.Is(err, status.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteNotFound(t *testing.T) {
	t.Parallel()

	db := &mockDB{
		execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("DELETE 0"), nil
		},
	}
	if err := New(db).Delete(context.Background(), "missing"); !errors.Is(err, status.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
