// Package ledger records pipeline stage failures per run in Postgres.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/sirupsen/logrus"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS pipeline_failures (
	id            BIGSERIAL PRIMARY KEY,
	run_id        TEXT NOT NULL,
	project_id    TEXT NOT NULL,
	stage         TEXT NOT NULL,
	error_type    TEXT NOT NULL,
	error_message TEXT NOT NULL,
	attempts      INT NOT NULL DEFAULT 1,
	metadata      JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (run_id, stage)
);
CREATE INDEX IF NOT EXISTS idx_pipeline_failures_project ON pipeline_failures (project_id, updated_at DESC);
`

// Failure is one failed stage of one pipeline run.
type Failure struct {
	ID           int64
	RunID        string
	ProjectID    string
	Stage        string
	ErrorType    string
	ErrorMessage string
	Attempts     int
	Metadata     map[string]interface{}
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Stats summarizes a project's recorded failures.
type Stats struct {
	ProjectID string
	Total     int
	Runs      int
	ByStage   map[string]int
}

// Ledger stores stage failures.
type Ledger struct {
	db     *sql.DB
	logger logrus.FieldLogger
}

// Open connects with lib/pq and creates the table when missing.
func Open(ctx context.Context, dsn string, logger logrus.FieldLogger) (*Ledger, error) {
	if dsn == "" {
		return nil, errors.ConfigErrorf("ledger postgres DSN is empty")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.DatabaseError(err, "open ledger database")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.DatabaseError(err, "ping ledger database")
	}
	l := New(db, logger)
	if err := l.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func New(db *sql.DB, logger logrus.FieldLogger) *Ledger {
	return &Ledger{db: db, logger: logger.WithField("component", "ledger")}
}

func (l *Ledger) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return errors.DatabaseError(err, "create ledger schema")
	}
	return nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// RecordFailure stores a stage failure. Recording the same stage of the
// same run again bumps attempts and replaces the message.
func (l *Ledger) RecordFailure(ctx context.Context, runID, projectID, stage string, cause error, metadata map[string]interface{}) error {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return errors.InternalErrorf("encode ledger metadata: %v", err)
	}
	message := ""
	if cause != nil {
		message = cause.Error()
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO pipeline_failures (run_id, project_id, stage, error_type, error_message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id, stage) DO UPDATE
		SET attempts = pipeline_failures.attempts + 1,
		    error_type = EXCLUDED.error_type,
		    error_message = EXCLUDED.error_message,
		    metadata = EXCLUDED.metadata,
		    updated_at = NOW()
	`, runID, projectID, stage, errors.GetType(cause).String(), message, metadataJSON)
	if err != nil {
		return errors.DatabaseErrorf(err, "record failure of stage %s", stage)
	}

	l.logger.WithFields(logrus.Fields{
		"run_id":     runID,
		"project_id": projectID,
		"stage":      stage,
	}).Warn("stage failure recorded")
	return nil
}

// RunFailures lists the failures of one run in stage order of recording.
func (l *Ledger) RunFailures(ctx context.Context, runID string) ([]Failure, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, run_id, project_id, stage, error_type, error_message, attempts, metadata, created_at, updated_at
		FROM pipeline_failures
		WHERE run_id = $1
		ORDER BY created_at ASC, id ASC
	`, runID)
	if err != nil {
		return nil, errors.DatabaseError(err, "query run failures")
	}
	return l.scan(rows)
}

// RecentFailures returns the newest failures of a project.
func (l *Ledger) RecentFailures(ctx context.Context, projectID string, limit int) ([]Failure, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, run_id, project_id, stage, error_type, error_message, attempts, metadata, created_at, updated_at
		FROM pipeline_failures
		WHERE project_id = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`, projectID, limit)
	if err != nil {
		return nil, errors.DatabaseError(err, "query recent failures")
	}
	return l.scan(rows)
}

func (l *Ledger) scan(rows *sql.Rows) ([]Failure, error) {
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		var metadataJSON []byte
		if err := rows.Scan(&f.ID, &f.RunID, &f.ProjectID, &f.Stage, &f.ErrorType, &f.ErrorMessage,
			&f.Attempts, &metadataJSON, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, errors.DatabaseError(err, "scan ledger row")
		}
		f.Metadata = map[string]interface{}{}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &f.Metadata); err != nil {
				l.logger.WithError(err).WithField("id", f.ID).Warn("unreadable failure metadata")
			}
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.DatabaseError(err, "iterate ledger rows")
	}
	return out, nil
}

// ProjectStats counts a project's failures by stage.
func (l *Ledger) ProjectStats(ctx context.Context, projectID string) (*Stats, error) {
	stats := &Stats{ProjectID: projectID, ByStage: map[string]int{}}
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT run_id)
		FROM pipeline_failures
		WHERE project_id = $1
	`, projectID).Scan(&stats.Total, &stats.Runs)
	if err != nil {
		return nil, errors.DatabaseError(err, "count failures")
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT stage, COUNT(*)
		FROM pipeline_failures
		WHERE project_id = $1
		GROUP BY stage
	`, projectID)
	if err != nil {
		return nil, errors.DatabaseError(err, "count failures by stage")
	}
	defer rows.Close()
	for rows.Next() {
		var stage string
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, errors.DatabaseError(err, "scan stage count")
		}
		stats.ByStage[stage] = n
	}
	return stats, rows.Err()
}

// PurgeOld deletes failures last updated before now-olderThan.
func (l *Ledger) PurgeOld(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	result, err := l.db.ExecContext(ctx, `DELETE FROM pipeline_failures WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, errors.DatabaseError(err, "purge old failures")
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		l.logger.WithFields(logrus.Fields{"count": n, "older_than": olderThan.String()}).Info("purged old failures")
	}
	return int(n), nil
}

func (f Failure) String() string {
	return fmt.Sprintf("%s/%s: %s", f.RunID, f.Stage, f.ErrorMessage)
}
