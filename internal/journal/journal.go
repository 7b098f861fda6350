// Package journal keeps an audit log of job lifecycles in sqlite. It is
// written from the event bus and only ever read for reporting; the
// coordinator never restores state from it.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Iron-Ham/fanout/internal/errors"
	"github.com/Iron-Ham/fanout/internal/event"
	"github.com/Iron-Ham/fanout/internal/logging"
)

// Status is a job's last recorded lifecycle step.
type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusSealed    Status = "sealed"
	StatusFinalized Status = "finalized"
)

// Job is one row of the jobs table.
type Job struct {
	ReplyAddress string
	Bucket       string
	InputKey     string
	BatchSize    int
	Terminate    bool
	Status       Status
	Units        int
	Skipped      int
	Duplicates   int
	OutputKey    string
	AcceptedAt   time.Time
	UpdatedAt    time.Time
	FinalizedAt  *time.Time
}

// Entry is one row of the job_events table.
type Entry struct {
	ReplyAddress string
	Type         string
	Detail       string
	CreatedAt    time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	reply_address TEXT PRIMARY KEY,
	bucket TEXT NOT NULL,
	input_key TEXT NOT NULL,
	batch_size INTEGER NOT NULL,
	terminate INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	units INTEGER NOT NULL DEFAULT 0,
	skipped INTEGER NOT NULL DEFAULT 0,
	duplicates INTEGER NOT NULL DEFAULT 0,
	output_key TEXT NOT NULL DEFAULT '',
	accepted_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	finalized_at DATETIME
);
CREATE TABLE IF NOT EXISTS job_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	reply_address TEXT NOT NULL,
	type TEXT NOT NULL,
	detail TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS job_events_reply ON job_events (reply_address);
`

// Journal writes job history to a sqlite database.
type Journal struct {
	db     *sql.DB
	logger *logging.Logger

	bus   *event.Bus
	subID string
}

// Open opens (creating if needed) the journal at path. ":memory:" keeps
// the journal in memory for the life of the value.
func Open(path string, logger *logging.Logger) (*Journal, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "create journal directory")
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "open journal")
	}
	// One connection keeps an in-memory database alive and serializes
	// writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create journal schema")
	}
	return &Journal{db: db, logger: logger.WithComponent("journal")}, nil
}

// Attach records every event published on bus from now on.
func (j *Journal) Attach(bus *event.Bus) {
	j.bus = bus
	j.subID = bus.SubscribeAll(func(e event.Event) {
		if err := j.Record(context.Background(), e); err != nil {
			j.logger.Warn("journal write failed", "event", e.EventType(), "error", err)
		}
	})
}

// Close detaches from the bus and closes the database.
func (j *Journal) Close() error {
	if j.bus != nil {
		j.bus.Unsubscribe(j.subID)
		j.bus = nil
	}
	return j.db.Close()
}

// Record applies one event. Events unrelated to jobs are ignored.
func (j *Journal) Record(ctx context.Context, e event.Event) error {
	at := e.Timestamp().UTC()
	switch e := e.(type) {
	case event.JobAcceptedEvent:
		_, err := j.db.ExecContext(ctx, `
			INSERT INTO jobs (reply_address, bucket, input_key, batch_size, terminate, status, accepted_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(reply_address) DO UPDATE SET
				bucket = excluded.bucket, input_key = excluded.input_key, batch_size = excluded.batch_size,
				terminate = excluded.terminate, status = excluded.status, units = 0, skipped = 0,
				duplicates = 0, output_key = '', accepted_at = excluded.accepted_at,
				updated_at = excluded.updated_at, finalized_at = NULL`,
			e.ReplyAddress, e.Bucket, e.Key, e.BatchSize, e.Terminate, StatusAccepted, at, at)
		if err != nil {
			return errors.Wrap(err, "record accepted job")
		}
		return j.entry(ctx, e.ReplyAddress, e.EventType(), fmt.Sprintf("bucket=%s key=%s n=%d terminate=%t",
			e.Bucket, e.Key, e.BatchSize, e.Terminate), at)

	case event.JobSealedEvent:
		if _, err := j.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, units = ?, skipped = ?, updated_at = ? WHERE reply_address = ?`,
			StatusSealed, e.Units, e.Skipped, at, e.ReplyAddress); err != nil {
			return errors.Wrap(err, "record sealed job")
		}
		return j.entry(ctx, e.ReplyAddress, e.EventType(), fmt.Sprintf("units=%d skipped=%d", e.Units, e.Skipped), at)

	case event.JobFinalizedEvent:
		if _, err := j.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, units = ?, output_key = ?, updated_at = ?, finalized_at = ? WHERE reply_address = ?`,
			StatusFinalized, e.Units, e.OutputKey, at, at, e.ReplyAddress); err != nil {
			return errors.Wrap(err, "record finalized job")
		}
		return j.entry(ctx, e.ReplyAddress, e.EventType(), "output="+e.OutputKey, at)

	case event.DuplicateResultEvent:
		if _, err := j.db.ExecContext(ctx,
			`UPDATE jobs SET duplicates = duplicates + 1, updated_at = ? WHERE reply_address = ?`,
			at, e.ReplyAddress); err != nil {
			return errors.Wrap(err, "record duplicate result")
		}
		return j.entry(ctx, e.ReplyAddress, e.EventType(), fmt.Sprintf("unit=%s reason=%s", e.UnitID, e.Reason), at)
	}
	return nil
}

func (j *Journal) entry(ctx context.Context, reply, typ, detail string, at time.Time) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO job_events (reply_address, type, detail, created_at) VALUES (?, ?, ?, ?)`,
		reply, typ, detail, at)
	if err != nil {
		return errors.Wrap(err, "record job event")
	}
	return nil
}

// List returns the most recently accepted jobs, newest first. A limit
// below 1 returns every job.
func (j *Journal) List(ctx context.Context, limit int) ([]Job, error) {
	if limit < 1 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT reply_address, bucket, input_key, batch_size, terminate, status, units, skipped,
			duplicates, output_key, accepted_at, updated_at, finalized_at
		FROM jobs ORDER BY accepted_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list jobs")
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var (
			job       Job
			status    string
			finalized sql.NullTime
		)
		if err := rows.Scan(&job.ReplyAddress, &job.Bucket, &job.InputKey, &job.BatchSize, &job.Terminate,
			&status, &job.Units, &job.Skipped, &job.Duplicates, &job.OutputKey,
			&job.AcceptedAt, &job.UpdatedAt, &finalized); err != nil {
			return nil, errors.Wrap(err, "scan job")
		}
		job.Status = Status(status)
		if finalized.Valid {
			t := finalized.Time
			job.FinalizedAt = &t
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Events returns a job's recorded events in order.
func (j *Journal) Events(ctx context.Context, reply string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT reply_address, type, detail, created_at FROM job_events WHERE reply_address = ? ORDER BY id`, reply)
	if err != nil {
		return nil, errors.Wrap(err, "list job events")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ReplyAddress, &e.Type, &e.Detail, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan job event")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
