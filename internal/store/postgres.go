package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lexleads/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	query      TEXT NOT NULL,
	intent     JSONB,
	status     TEXT NOT NULL,
	strategy   TEXT NOT NULL DEFAULT '',
	lead_count INTEGER NOT NULL DEFAULT 0,
	leads      JSONB,
	error      TEXT NOT NULL DEFAULT '',
	elapsed_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS usage_stats (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	leads_total   BIGINT NOT NULL DEFAULT 0,
	queries_total BIGINT NOT NULL DEFAULT 0,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveRun(ctx context.Context, run *model.Run) error {
	prepareRun(run)

	intentJSON, leadsJSON, err := marshalRun(run)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, query, intent, status, strategy, lead_count, leads, error, elapsed_ms, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
			intent = EXCLUDED.intent, status = EXCLUDED.status, strategy = EXCLUDED.strategy,
			lead_count = EXCLUDED.lead_count, leads = EXCLUDED.leads, error = EXCLUDED.error,
			elapsed_ms = EXCLUDED.elapsed_ms, updated_at = EXCLUDED.updated_at`,
		run.ID, run.Query, intentJSON, string(run.Status), run.Strategy, run.LeadCount,
		leadsJSON, run.ErrorMessage, run.ElapsedMs, run.CreatedAt, run.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: save run %s", run.ID)
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, runID)
	r, err := scanPgRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	args := []any{}

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` WHERE status = $1`
	}
	args = append(args, defaultLimit(filter.Limit), filter.Offset)
	query += ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) Summarize(ctx context.Context, since time.Time) (*RunSummary, error) {
	var sum RunSummary
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'complete'),
			COUNT(*) FILTER (WHERE status = 'error'),
			COALESCE(AVG(lead_count) FILTER (WHERE status = 'complete'), 0)::float8,
			COALESCE(AVG(elapsed_ms), 0)::float8
		 FROM runs WHERE created_at >= $1`,
		since.UTC(),
	).Scan(&sum.Total, &sum.Complete, &sum.Failed, &sum.AvgLeads, &sum.AvgElapsedMs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: summarize runs")
	}
	return &sum, nil
}

func (s *PostgresStore) IncrementStats(ctx context.Context, leadsDelta, queriesDelta int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_stats (id, leads_total, queries_total, updated_at) VALUES (1, $1, $2, now())
		 ON CONFLICT (id) DO UPDATE SET
			leads_total = usage_stats.leads_total + EXCLUDED.leads_total,
			queries_total = usage_stats.queries_total + EXCLUDED.queries_total,
			updated_at = now()`,
		leadsDelta, queriesDelta,
	)
	return eris.Wrap(err, "postgres: increment stats")
}

func (s *PostgresStore) GetStats(ctx context.Context) (*model.UsageStats, error) {
	var st model.UsageStats
	err := s.pool.QueryRow(ctx,
		`SELECT leads_total, queries_total, updated_at FROM usage_stats WHERE id = 1`,
	).Scan(&st.LeadsTotal, &st.QueriesTotal, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &model.UsageStats{}, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get stats")
	}
	return &st, nil
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var (
		r          model.Run
		status     string
		intentJSON []byte
		leadsJSON  []byte
	)
	if err := row.Scan(&r.ID, &r.Query, &intentJSON, &status, &r.Strategy, &r.LeadCount,
		&leadsJSON, &r.ErrorMessage, &r.ElapsedMs, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = model.WorkflowStatus(status)
	if err := unmarshalRun(&r, intentJSON, leadsJSON); err != nil {
		return nil, err
	}
	return &r, nil
}

