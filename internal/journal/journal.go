// Package journal persists failures handed to the log strategy, grouped by run.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/redispatch/internal/dispatch"
	"github.com/mattjoyce/redispatch/internal/log"
	"github.com/mattjoyce/redispatch/internal/unit"
)

var ErrRunNotFound = errors.New("run not found")

// Run is one drain session.
type Run struct {
	ID          string         `json:"id"`
	Service     string         `json:"service"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
	Stats       dispatch.Stats `json:"stats"`
}

// Entry is one logged failure.
type Entry struct {
	ID          string           `json:"id"`
	RunID       string           `json:"run_id"`
	FailureKind unit.FailureKind `json:"failure_kind"`
	Message     string           `json:"message"`
	// Depth counts retry escalations wrapped around the original failure.
	Depth    int       `json:"depth"`
	LoggedAt time.Time `json:"logged_at"`
}

type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

func New(db *sql.DB) *Journal {
	return &Journal{db: db, logger: log.WithComponent("journal")}
}

// StartRun opens a run row and returns its id.
func (j *Journal) StartRun(ctx context.Context, service, fingerprint string) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := j.db.ExecContext(ctx, `
INSERT INTO journal_run(id, service, fingerprint, started_at)
VALUES(?, ?, ?, ?);
`, id, service, fingerprint, now)
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

// FinishRun stamps the run with its drain stats.
func (j *Journal) FinishRun(ctx context.Context, runID string, stats dispatch.Stats) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := j.db.ExecContext(ctx, `
UPDATE journal_run
SET finished_at = ?, executed = ?, succeeded = ?, failed = ?, handled = ?, dropped = ?
WHERE id = ?;
`, now, stats.Executed, stats.Succeeded, stats.Failed, stats.Handled, stats.Dropped, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// Record stores failure under runID.
func (j *Journal) Record(ctx context.Context, runID string, failure error) (Entry, error) {
	if failure == nil {
		return Entry{}, fmt.Errorf("record: failure is nil")
	}
	e := Entry{
		ID:          uuid.NewString(),
		RunID:       runID,
		FailureKind: unit.KindOf(failure),
		Message:     failure.Error(),
		Depth:       escalationDepth(failure),
		LoggedAt:    time.Now().UTC(),
	}

	_, err := j.db.ExecContext(ctx, `
INSERT INTO failure_log(id, run_id, failure_kind, message, depth, logged_at)
VALUES(?, ?, ?, ?, ?, ?);
`, e.ID, e.RunID, e.FailureKind, e.Message, e.Depth, e.LoggedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Entry{}, fmt.Errorf("insert failure_log: %w", err)
	}
	return e, nil
}

// LogFunc returns a logging callback that records failures under runID.
// Storage errors are logged, since the callback's return is never consulted.
// Cancelling ctx does not stop a failure from being recorded.
func (j *Journal) LogFunc(ctx context.Context, runID string) unit.LogFunc {
	ctx = context.WithoutCancel(ctx)
	return func(failure error) {
		e, err := j.Record(ctx, runID, failure)
		if err != nil {
			j.logger.Error("failed to journal failure", "run_id", runID, "error", err)
			return
		}
		j.logger.Info("failure journaled",
			"run_id", runID,
			"failure", e.FailureKind,
			"depth", e.Depth,
			"message", e.Message,
		)
	}
}

// Entries lists failures for runID in logging order.
func (j *Journal) Entries(ctx context.Context, runID string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT id, run_id, failure_kind, message, depth, logged_at
FROM failure_log
WHERE run_id = ?
ORDER BY logged_at ASC, rowid ASC;
`, runID)
	if err != nil {
		return nil, fmt.Errorf("query failure_log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			kind     string
			loggedAt string
		)
		if err := rows.Scan(&e.ID, &e.RunID, &kind, &e.Message, &e.Depth, &loggedAt); err != nil {
			return nil, fmt.Errorf("scan failure_log: %w", err)
		}
		e.FailureKind = unit.FailureKind(kind)
		if t, err := time.Parse(time.RFC3339Nano, loggedAt); err == nil {
			e.LoggedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Runs lists runs, newest first.
func (j *Journal) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, service, fingerprint, started_at, finished_at, executed, succeeded, failed, handled, dropped
FROM journal_run
ORDER BY started_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal_run: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Run returns one run by id, or ErrRunNotFound.
func (j *Journal) Run(ctx context.Context, runID string) (Run, error) {
	row := j.db.QueryRowContext(ctx, `
SELECT id, service, fingerprint, started_at, finished_at, executed, succeeded, failed, handled, dropped
FROM journal_run
WHERE id = ?;
`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	return r, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		r           Run
		fingerprint sql.NullString
		startedAt   string
		finishedAt  sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Service, &fingerprint, &startedAt, &finishedAt,
		&r.Stats.Executed, &r.Stats.Succeeded, &r.Stats.Failed, &r.Stats.Handled, &r.Stats.Dropped); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan journal_run: %w", err)
	}
	r.Fingerprint = fingerprint.String
	if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
		r.StartedAt = t
	}
	if finishedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, finishedAt.String); err == nil {
			r.FinishedAt = &t
		}
	}
	return r, nil
}

func escalationDepth(err error) int {
	depth := 0
	for e := err; e != nil; e = errors.Unwrap(e) {
		if _, ok := e.(*unit.EscalationError); ok {
			depth++
		}
	}
	return depth
}
