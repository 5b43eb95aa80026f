package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/lexleads/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	query      TEXT NOT NULL,
	intent     TEXT,
	status     TEXT NOT NULL,
	strategy   TEXT NOT NULL DEFAULT '',
	lead_count INTEGER NOT NULL DEFAULT 0,
	leads      TEXT,
	error      TEXT NOT NULL DEFAULT '',
	elapsed_ms INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS usage_stats (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	leads_total   INTEGER NOT NULL DEFAULT 0,
	queries_total INTEGER NOT NULL DEFAULT 0,
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run *model.Run) error {
	prepareRun(run)

	intentJSON, leadsJSON, err := marshalRun(run)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, query, intent, status, strategy, lead_count, leads, error, elapsed_ms, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			intent = excluded.intent, status = excluded.status, strategy = excluded.strategy,
			lead_count = excluded.lead_count, leads = excluded.leads, error = excluded.error,
			elapsed_ms = excluded.elapsed_ms, updated_at = excluded.updated_at`,
		run.ID, run.Query, nullString(intentJSON), string(run.Status), run.Strategy, run.LeadCount,
		nullString(leadsJSON), run.ErrorMessage, run.ElapsedMs, run.CreatedAt, run.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: save run %s", run.ID)
}

const runColumns = `id, query, intent, status, strategy, lead_count, leads, error, elapsed_ms, created_at, updated_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, defaultLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) Summarize(ctx context.Context, since time.Time) (*RunSummary, error) {
	var sum RunSummary
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'complete' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(CASE WHEN status = 'complete' THEN lead_count END), 0),
			COALESCE(AVG(elapsed_ms), 0)
		 FROM runs WHERE created_at >= ?`,
		since.UTC(),
	).Scan(&sum.Total, &sum.Complete, &sum.Failed, &sum.AvgLeads, &sum.AvgElapsedMs)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: summarize runs")
	}
	return &sum, nil
}

func (s *SQLiteStore) IncrementStats(ctx context.Context, leadsDelta, queriesDelta int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_stats (id, leads_total, queries_total, updated_at) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			leads_total = leads_total + excluded.leads_total,
			queries_total = queries_total + excluded.queries_total,
			updated_at = excluded.updated_at`,
		leadsDelta, queriesDelta, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: increment stats")
}

func (s *SQLiteStore) GetStats(ctx context.Context) (*model.UsageStats, error) {
	var st model.UsageStats
	err := s.db.QueryRowContext(ctx,
		`SELECT leads_total, queries_total, updated_at FROM usage_stats WHERE id = 1`,
	).Scan(&st.LeadsTotal, &st.QueriesTotal, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.UsageStats{}, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get stats")
	}
	return &st, nil
}

// helpers

// prepareRun fills in the identity and timestamps of a run being saved.
func prepareRun(run *model.Run) {
	now := time.Now().UTC()
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	run.LeadCount = len(run.Leads)
}

func marshalRun(run *model.Run) (intentJSON, leadsJSON []byte, err error) {
	if run.Intent != nil {
		if intentJSON, err = json.Marshal(run.Intent); err != nil {
			return nil, nil, err
		}
	}
	if run.Leads != nil {
		if leadsJSON, err = json.Marshal(run.Leads); err != nil {
			return nil, nil, err
		}
	}
	return intentJSON, leadsJSON, nil
}

func nullString(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var (
		r          model.Run
		status     string
		intentJSON sql.NullString
		leadsJSON  sql.NullString
	)

	err := row.Scan(&r.ID, &r.Query, &intentJSON, &status, &r.Strategy, &r.LeadCount,
		&leadsJSON, &r.ErrorMessage, &r.ElapsedMs, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	r.Status = model.WorkflowStatus(status)

	if err := unmarshalRun(&r, []byte(intentJSON.String), []byte(leadsJSON.String)); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal run")
	}
	return &r, nil
}

func unmarshalRun(r *model.Run, intentJSON, leadsJSON []byte) error {
	if len(intentJSON) > 0 {
		r.Intent = &model.Intent{}
		if err := json.Unmarshal(intentJSON, r.Intent); err != nil {
			return eris.Wrap(err, "intent")
		}
	}
	if len(leadsJSON) > 0 {
		if err := json.Unmarshal(leadsJSON, &r.Leads); err != nil {
			return eris.Wrap(err, "leads")
		}
	}
	return nil
}
