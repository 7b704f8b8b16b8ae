package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/keagan/reelcutter/pkg/util"
)

// ErrNotFound is returned when a run id is unknown
var ErrNotFound = errors.New("run not found")

// Store is the run ledger backed by SQLite
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or connects to the ledger at path
func Open(ctx context.Context, path string) (*Store, error) {
	if err := util.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("ensure ledger dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// pragmas are per connection
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the ledger file location
func (s *Store) Path() string { return s.path }

// CreateRun records a new running run for input
func (s *Store) CreateRun(ctx context.Context, input string) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		InputPath: input,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, input_path, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.InputPath, string(run.Status), formatTime(run.StartedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// AddReel appends a rendered reel to a run
func (s *Store) AddReel(ctx context.Context, reel Reel) error {
	if reel.CreatedAt.IsZero() {
		reel.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reels (
            run_id, reel_index, start_seconds, end_seconds, score, reason,
            output_path, srt_path, caption_groups, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		reel.RunID,
		reel.Index,
		reel.Start,
		reel.End,
		reel.Score,
		nullableString(reel.Reason),
		reel.OutputPath,
		nullableString(reel.SRTPath),
		reel.CaptionGroups,
		formatTime(reel.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert reel %d: %w", reel.Index, err)
	}
	return nil
}

// FinishRun stores the outcome of a run
func (s *Store) FinishRun(ctx context.Context, id string, outcome Outcome) error {
	var message any
	if outcome.Err != nil {
		message = outcome.Err.Error()
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error_message = ?, candidates = ?, skipped = ?,
            report_path = ?, finished_at = ? WHERE id = ?`,
		string(outcome.Status),
		message,
		outcome.Candidates,
		outcome.Skipped,
		nullableString(outcome.ReportPath),
		formatTime(time.Now().UTC()),
		id,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// GetRun fetches a run together with its reels
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	reels, err := s.listReels(ctx, id)
	if err != nil {
		return nil, err
	}
	run.Reels = reels
	return run, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := "SELECT " + runColumns + " FROM runs ORDER BY started_at DESC, rowid DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// FailStale marks runs left running by a crashed process as failed
func (s *Store) FailStale(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error_message = ?, finished_at = ? WHERE status = ?`,
		string(StatusFailed),
		"interrupted",
		formatTime(time.Now().UTC()),
		string(StatusRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("fail stale runs: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) listReels(ctx context.Context, runID string) ([]Reel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, reel_index, start_seconds, end_seconds, score, reason,
            output_path, srt_path, caption_groups, created_at
        FROM reels WHERE run_id = ? ORDER BY reel_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("list reels: %w", err)
	}
	defer rows.Close()

	var reels []Reel
	for rows.Next() {
		var (
			reel       Reel
			reason     sql.NullString
			srtPath    sql.NullString
			createdRaw string
		)
		if err := rows.Scan(
			&reel.RunID,
			&reel.Index,
			&reel.Start,
			&reel.End,
			&reel.Score,
			&reason,
			&reel.OutputPath,
			&srtPath,
			&reel.CaptionGroups,
			&createdRaw,
		); err != nil {
			return nil, fmt.Errorf("scan reel: %w", err)
		}
		reel.Reason = reason.String
		reel.SRTPath = srtPath.String
		reel.CreatedAt = parseTime(createdRaw)
		reels = append(reels, reel)
	}
	return reels, rows.Err()
}

const runColumns = "id, input_path, status, error_message, candidates, skipped, report_path, started_at, finished_at"

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run         Run
		status      string
		errMessage  sql.NullString
		reportPath  sql.NullString
		startedRaw  string
		finishedRaw sql.NullString
	)
	if err := scanner.Scan(
		&run.ID,
		&run.InputPath,
		&status,
		&errMessage,
		&run.Candidates,
		&run.Skipped,
		&reportPath,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}

	run.Status = Status(status)
	run.ErrorMessage = errMessage.String
	run.ReportPath = reportPath.String
	run.StartedAt = parseTime(startedRaw)
	if finishedRaw.Valid {
		finished := parseTime(finishedRaw.String)
		run.FinishedAt = &finished
	}
	return &run, nil
}

// timeLayout is fixed width so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
