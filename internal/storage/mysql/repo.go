package mysql

import (
	"context"
	"database/sql"
	"time"

	"thebestitaly/internal/domain"
)

func valStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// RunLog is the MySQL audit trail of snapshot generations and repairs.
type RunLog struct{ db *sql.DB }

func New(db *sql.DB) *RunLog { return &RunLog{db: db} }

func (r *RunLog) RecordRun(ctx context.Context, run domain.GenerationRun) error {
	_, err := r.db.ExecContext(ctx, insertRunSQL,
		run.Lang,
		string(run.Kind),
		run.OK,
		run.Regions,
		run.Provinces,
		run.Municipalities,
		valStr(run.Error),
		run.StartedAt.UTC(),
		run.Duration.Milliseconds(),
	)
	return err
}

func (r *RunLog) LogMiss(ctx context.Context, lang, level string, parentID int64, reason string) error {
	if len(reason) > 512 {
		reason = reason[:512]
	}
	_, err := r.db.ExecContext(ctx, upsertMissSQL, lang, level, parentID, reason)
	return err
}

// LastRuns returns the most recent run of every language that has one.
func (r *RunLog) LastRuns(ctx context.Context) (map[string]domain.GenerationRun, error) {
	rows, err := r.db.QueryContext(ctx, lastRunsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]domain.GenerationRun{}
	for rows.Next() {
		var (
			run      domain.GenerationRun
			kind     string
			errText  sql.NullString
			duration int64
		)
		if err := rows.Scan(
			&run.Lang,
			&kind,
			&run.OK,
			&run.Regions,
			&run.Provinces,
			&run.Municipalities,
			&errText,
			&run.StartedAt,
			&duration,
		); err != nil {
			return nil, err
		}
		run.Kind = domain.RunKind(kind)
		if errText.Valid {
			run.Error = errText.String
		}
		run.Duration = time.Duration(duration) * time.Millisecond
		out[run.Lang] = run
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

var _ domain.RunLog = (*RunLog)(nil)
