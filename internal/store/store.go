// Package store persists run history and usage counters.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lexleads/internal/config"
	"github.com/sells-group/lexleads/internal/model"
)

// DefaultSQLitePath is used when the sqlite driver has no database_url.
const DefaultSQLitePath = "lexleads.db"

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("run not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.WorkflowStatus `json:"status,omitempty"`
	Limit  int                  `json:"limit,omitempty"`
	Offset int                  `json:"offset,omitempty"`
}

// RunSummary aggregates runs created since a point in time.
type RunSummary struct {
	Total        int     `json:"total"`
	Complete     int     `json:"complete"`
	Failed       int     `json:"failed"`
	AvgLeads     float64 `json:"avg_leads"`
	AvgElapsedMs float64 `json:"avg_elapsed_ms"`
}

// Store defines the persistence interface for run history and usage stats.
type Store interface {
	// Runs
	SaveRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	Summarize(ctx context.Context, since time.Time) (*RunSummary, error)

	// Usage
	IncrementStats(ctx context.Context, leadsDelta, queriesDelta int) error
	GetStats(ctx context.Context) (*model.UsageStats, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates the store selected by cfg and migrates it. The "none" driver
// returns a nil Store.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		st  Store
		err error
	)
	switch cfg.Driver {
	case "none":
		return nil, nil
	case "postgres":
		st, err = NewPostgres(ctx, cfg.DatabaseURL, nil)
	case "sqlite", "":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = DefaultSQLitePath
		}
		st, err = NewSQLite(dsn)
	default:
		return nil, eris.Errorf("store: unsupported driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

func defaultLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}
