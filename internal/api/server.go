// Package api exposes the discovery orchestrator over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/sells-group/lexleads/internal/config"
	"github.com/sells-group/lexleads/internal/model"
	"github.com/sells-group/lexleads/internal/monitoring"
	"github.com/sells-group/lexleads/internal/store"
)

// Orchestrator is the run control surface the API drives.
type Orchestrator interface {
	Start(ctx context.Context, query string) (string, error)
	Retry(ctx context.Context) (string, error)
	Cancel() bool
	Snapshot() model.Snapshot
}

// RunReader reads persisted run history.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// StatsCollector builds a stats snapshot.
type StatsCollector interface {
	Collect(ctx context.Context, lookbackHours int) (*monitoring.MetricsSnapshot, error)
}

// Pinger is a dependency checked by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures a Server. Runs, Stats and Checks are optional.
type Options struct {
	Runs           RunReader
	Stats          StatsCollector
	Checks         map[string]Pinger
	Export         config.ExportConfig
	AllowedOrigins []string
	MetricsPath    string
}

// Server holds the dependencies for the HTTP API.
type Server struct {
	// baseCtx outlives requests; runs started over HTTP are bound to it.
	baseCtx context.Context
	orch    Orchestrator
	opts    Options
	router  http.Handler
}

// NewServer creates a Server. Runs started through the API are bound to
// baseCtx rather than to the request that started them.
func NewServer(baseCtx context.Context, orch Orchestrator, opts Options) *Server {
	s := &Server{baseCtx: baseCtx, orch: orch, opts: opts}
	s.router = s.setupRouter()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}
