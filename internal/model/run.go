package model

import "time"

// WorkflowStatus represents the current state of a discovery run.
type WorkflowStatus string

const (
	StatusIdle        WorkflowStatus = "idle"
	StatusIdentifying WorkflowStatus = "identifying"
	StatusSearching   WorkflowStatus = "searching"
	StatusProcessing  WorkflowStatus = "processing"
	StatusComplete    WorkflowStatus = "complete"
	StatusError       WorkflowStatus = "error"
)

// IsTerminal reports whether no further transitions happen without a new run.
func (s WorkflowStatus) IsTerminal() bool {
	return s == StatusComplete || s == StatusError
}

// IsActive reports whether a run is in flight.
func (s WorkflowStatus) IsActive() bool {
	switch s {
	case StatusIdentifying, StatusSearching, StatusProcessing:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s WorkflowStatus) Valid() bool {
	switch s {
	case StatusIdle, StatusIdentifying, StatusSearching, StatusProcessing, StatusComplete, StatusError:
		return true
	default:
		return false
	}
}

// Telemetry is the user-visible progress of a run.
type Telemetry struct {
	ElapsedSeconds  float64 `json:"elapsed_seconds"`
	ProgressPercent int     `json:"progress_percent"`
	ErrorMessage    string  `json:"error_message,omitempty"`
}

// Snapshot is a point-in-time copy of an orchestrator's run state.
type Snapshot struct {
	RunID      string         `json:"run_id,omitempty"`
	Query      string         `json:"query"`
	Status     WorkflowStatus `json:"status"`
	Telemetry  Telemetry      `json:"telemetry"`
	Intent     *Intent        `json:"intent,omitempty"`
	Strategy   string         `json:"strategy,omitempty"`
	Grounded   bool           `json:"grounded"`
	Links      []SearchResult `json:"links"`
	Leads      []Lead         `json:"leads"`
	StartedAt  time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// Run is the persisted summary of a finished discovery run.
type Run struct {
	ID           string         `json:"id"`
	Query        string         `json:"query"`
	Intent       *Intent        `json:"intent,omitempty"`
	Status       WorkflowStatus `json:"status"`
	Strategy     string         `json:"strategy,omitempty"`
	LeadCount    int            `json:"lead_count"`
	Leads        []Lead         `json:"leads,omitempty"`
	ErrorMessage string         `json:"error,omitempty"`
	ElapsedMs    int64          `json:"elapsed_ms"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// UsageStats holds cumulative usage counters.
type UsageStats struct {
	LeadsTotal   int64     `json:"leads_total"`
	QueriesTotal int64     `json:"queries_total"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}
