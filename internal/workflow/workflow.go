// Package workflow drives one discovery run through intent extraction,
// search and structuring, and exposes its progress as snapshots.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lexleads/internal/metrics"
	"github.com/sells-group/lexleads/internal/model"
	"github.com/sells-group/lexleads/internal/resilience"
	"github.com/sells-group/lexleads/internal/search"
	"github.com/sells-group/lexleads/internal/structure"
	"github.com/sells-group/lexleads/internal/usage"
)

var (
	// ErrBlankQuery is returned when a run is started without a query.
	ErrBlankQuery = eris.New("query is blank")
	// ErrRunActive is returned when a run is already in progress.
	ErrRunActive = eris.New("a run is already in progress")
	// ErrNothingToRetry is returned by Retry before any run has finished.
	ErrNothingToRetry = eris.New("no finished run to retry")
)

const (
	quotaAdvice   = "rate limit or quota exhausted; wait a minute and retry"
	genericAdvice = "check provider keys and configuration"
)

// IntentExtractor turns a query into an intent.
type IntentExtractor interface {
	Extract(ctx context.Context, query string) (model.Intent, error)
}

// Searcher runs the search strategy chain. It never fails; failures are
// reported through the payload's Error flag.
type Searcher interface {
	Select(ctx context.Context, query string) *model.RawSearchPayload
}

// Structurer streams leads out of search text.
type Structurer interface {
	Structure(ctx context.Context, text string, onProgress structure.ProgressFunc) ([]model.Lead, error)
}

// RunRecorder persists finished runs.
type RunRecorder interface {
	SaveRun(ctx context.Context, run *model.Run) error
}

// Options configures an Orchestrator.
type Options struct {
	// APIKey is the LLM key. A blank key fails every run before any
	// provider call.
	APIKey       string
	Qualifier    string
	StageDelay   time.Duration
	TickInterval time.Duration
	Usage        usage.Sink
	Runs         RunRecorder
	OnChange     func(model.Snapshot)
}

// Orchestrator owns the state of the current run. One run executes at a time.
type Orchestrator struct {
	intent     IntentExtractor
	searcher   Searcher
	structurer Structurer
	opts       Options

	mu        sync.Mutex
	state     model.Snapshot
	startMono time.Time
	cancelCh  chan struct{}
	stopTick  chan struct{}
	cancelled bool

	bg sync.WaitGroup
}

// New creates an Orchestrator.
func New(ix IntentExtractor, s Searcher, st Structurer, opts Options) *Orchestrator {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 100 * time.Millisecond
	}
	if opts.StageDelay < 0 {
		opts.StageDelay = 0
	}
	if opts.Usage == nil {
		opts.Usage = usage.Noop{}
	}
	return &Orchestrator{
		intent:     ix,
		searcher:   s,
		structurer: st,
		opts:       opts,
		state:      model.Snapshot{Status: model.StatusIdle, Links: []model.SearchResult{}, Leads: []model.Lead{}},
	}
}

// Snapshot returns a copy of the current run state.
func (o *Orchestrator) Snapshot() model.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() model.Snapshot {
	s := o.state
	s.Links = append([]model.SearchResult{}, o.state.Links...)
	s.Leads = append([]model.Lead{}, o.state.Leads...)
	if o.state.Intent != nil {
		in := *o.state.Intent
		s.Intent = &in
	}
	if o.state.FinishedAt != nil {
		t := *o.state.FinishedAt
		s.FinishedAt = &t
	}
	return s
}

// Run executes the pipeline for query and blocks until it reaches complete
// or error. The returned error is the stage failure, if any.
func (o *Orchestrator) Run(ctx context.Context, query string) (model.Snapshot, error) {
	if err := o.begin(query); err != nil {
		return o.Snapshot(), err
	}
	err := o.execute(ctx)
	return o.Snapshot(), err
}

// Start launches the pipeline for query in the background and returns the
// new run ID.
func (o *Orchestrator) Start(ctx context.Context, query string) (string, error) {
	if err := o.begin(query); err != nil {
		return "", err
	}
	runID := o.Snapshot().RunID

	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		_ = o.execute(ctx)
	}()
	return runID, nil
}

// Retry re-runs the full pipeline for the last query. It is only allowed
// once the previous run has finished.
func (o *Orchestrator) Retry(ctx context.Context) (string, error) {
	o.mu.Lock()
	status, query := o.state.Status, o.state.Query
	o.mu.Unlock()

	if status.IsActive() {
		return "", ErrRunActive
	}
	if !status.IsTerminal() || query == "" {
		return "", ErrNothingToRetry
	}
	return o.Start(ctx, query)
}

// Cancel asks the in-flight run to stop at the next stage boundary.
// It reports whether a run was active.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.state.Status.IsActive() || o.cancelled {
		return false
	}
	o.cancelled = true
	close(o.cancelCh)
	return true
}

// Wait blocks until background runs and usage updates have finished.
func (o *Orchestrator) Wait() {
	o.bg.Wait()
}

// begin validates the query and resets all run-scoped state.
func (o *Orchestrator) begin(query string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return ErrBlankQuery
	}

	o.mu.Lock()
	if o.state.Status.IsActive() {
		o.mu.Unlock()
		return ErrRunActive
	}
	o.state = model.Snapshot{
		RunID:     uuid.New().String(),
		Query:     query,
		Status:    model.StatusIdentifying,
		Links:     []model.SearchResult{},
		Leads:     []model.Lead{},
		StartedAt: time.Now().UTC(),
	}
	o.startMono = time.Now()
	o.cancelCh = make(chan struct{})
	o.stopTick = make(chan struct{})
	o.cancelled = false
	snap := o.snapshotLocked()
	o.mu.Unlock()

	metrics.RunsActive.Inc()
	go o.tick(o.stopTick)
	o.notify(snap)
	return nil
}

// tick refreshes the elapsed time until stop is closed.
func (o *Orchestrator) tick(stop <-chan struct{}) {
	t := time.NewTicker(o.opts.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			o.mu.Lock()
			if o.state.Status.IsActive() {
				o.state.Telemetry.ElapsedSeconds = roundTenth(time.Since(o.startMono).Seconds())
			}
			o.mu.Unlock()
		}
	}
}

// execute runs the stages. Any panic in a stage ends the run in error.
func (o *Orchestrator) execute(ctx context.Context) (err error) {
	log := zap.L().With(zap.String("run_id", o.Snapshot().RunID))

	defer func() {
		if r := recover(); r != nil {
			log.Error("run panicked", zap.Any("panic", r))
			err = eris.Errorf("internal error: %v", r)
			o.fail(ctx, "Internal error: "+fmt.Sprint(r)+". "+capitalize(genericAdvice)+".")
		}
	}()

	if strings.TrimSpace(o.opts.APIKey) == "" {
		err = model.NewStageError(model.KindConfiguration, "Anthropic API key is not configured", nil)
		o.fail(ctx, "Anthropic API key is not configured. Set LEXLEADS_ANTHROPIC_KEY or anthropic.key in config.yaml.")
		return err
	}

	query := o.Snapshot().Query

	// identifying
	stageStart := time.Now()
	in, err := o.intent.Extract(ctx, query)
	if err != nil {
		observeStage("identifying", "error", stageStart)
		o.fail(ctx, stageMessage("Could not understand the query", err))
		return err
	}
	observeStage("identifying", "ok", stageStart)
	log.Info("intent ready", zap.String("event", in.Event), zap.String("location", in.Location))

	o.update(func(s *model.Snapshot) { s.Intent = &in })
	if err := o.boundary(ctx); err != nil {
		return err
	}
	o.transition(model.StatusSearching)

	// searching
	stageStart = time.Now()
	payload := o.searcher.Select(ctx, search.BuildQuery(in, o.opts.Qualifier))
	if payload == nil || payload.Error {
		observeStage("searching", "error", stageStart)
		msg := "Search failed"
		if payload != nil && payload.ErrorMessage != "" {
			msg = payload.ErrorMessage
		}
		o.fail(ctx, withAdvice(msg))
		return model.NewStageError(model.KindSearch, msg, nil)
	}
	observeStage("searching", "ok", stageStart)

	o.update(func(s *model.Snapshot) {
		s.Strategy = payload.Strategy
		s.Grounded = payload.Grounded
		s.Links = append([]model.SearchResult{}, payload.Links...)
	})
	if err := o.boundary(ctx); err != nil {
		return err
	}
	o.transition(model.StatusProcessing)

	// processing
	stageStart = time.Now()
	leads, err := o.structurer.Structure(ctx, payload.Text, func(received, percent int) {
		o.update(func(s *model.Snapshot) { s.Telemetry.ProgressPercent = percent })
	})
	if err != nil {
		observeStage("processing", "error", stageStart)
		o.fail(ctx, stageMessage("Lead extraction failed", err))
		return err
	}
	observeStage("processing", "ok", stageStart)

	if o.isCancelled() || ctx.Err() != nil {
		o.fail(ctx, "Run cancelled.")
		return model.NewStageError(model.KindCancelled, "run cancelled", ctx.Err())
	}

	o.complete(ctx, leads)
	return nil
}

// boundary waits the stage delay and checks for cancellation.
func (o *Orchestrator) boundary(ctx context.Context) error {
	o.mu.Lock()
	cancelCh := o.cancelCh
	o.mu.Unlock()

	if o.opts.StageDelay > 0 {
		t := time.NewTimer(o.opts.StageDelay)
		select {
		case <-t.C:
		case <-cancelCh:
			t.Stop()
		case <-ctx.Done():
			t.Stop()
		}
	}

	if o.isCancelled() || ctx.Err() != nil {
		o.fail(ctx, "Run cancelled.")
		return model.NewStageError(model.KindCancelled, "run cancelled", ctx.Err())
	}
	return nil
}

func (o *Orchestrator) isCancelled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelled
}

func (o *Orchestrator) update(fn func(s *model.Snapshot)) {
	o.mu.Lock()
	fn(&o.state)
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.notify(snap)
}

func (o *Orchestrator) transition(status model.WorkflowStatus) {
	o.update(func(s *model.Snapshot) { s.Status = status })
}

func (o *Orchestrator) complete(ctx context.Context, leads []model.Lead) {
	if leads == nil {
		leads = []model.Lead{}
	}
	snap := o.finish(func(s *model.Snapshot) {
		s.Status = model.StatusComplete
		s.Leads = leads
		s.Telemetry.ProgressPercent = 100
	})

	metrics.LeadsExtracted.Add(float64(len(leads)))
	zap.L().Info("run complete",
		zap.String("run_id", snap.RunID),
		zap.String("strategy", snap.Strategy),
		zap.Int("leads", len(leads)),
		zap.Float64("elapsed_seconds", snap.Telemetry.ElapsedSeconds),
	)

	o.background(ctx, func(bctx context.Context) {
		if err := o.opts.Usage.IncrementStats(bctx, len(leads), 1); err != nil {
			zap.L().Warn("usage update failed", zap.String("run_id", snap.RunID), zap.Error(err))
		}
	})
	o.record(ctx, snap)
}

func (o *Orchestrator) fail(ctx context.Context, msg string) {
	snap := o.finish(func(s *model.Snapshot) {
		s.Status = model.StatusError
		s.Telemetry.ErrorMessage = msg
	})
	zap.L().Warn("run failed", zap.String("run_id", snap.RunID), zap.String("message", msg))
	o.record(ctx, snap)
}

// finish applies the terminal state, stops the ticker and notifies.
func (o *Orchestrator) finish(fn func(s *model.Snapshot)) model.Snapshot {
	o.mu.Lock()
	if o.state.Status.IsTerminal() {
		snap := o.snapshotLocked()
		o.mu.Unlock()
		return snap
	}
	o.state.Telemetry.ElapsedSeconds = roundTenth(time.Since(o.startMono).Seconds())
	now := time.Now().UTC()
	o.state.FinishedAt = &now
	fn(&o.state)
	close(o.stopTick)
	snap := o.snapshotLocked()
	o.mu.Unlock()

	metrics.RunsActive.Dec()
	metrics.RunsTotal.WithLabelValues(string(snap.Status)).Inc()
	o.notify(snap)
	return snap
}

// record persists the run summary without blocking the caller on errors.
func (o *Orchestrator) record(ctx context.Context, snap model.Snapshot) {
	if o.opts.Runs == nil {
		return
	}
	run := &model.Run{
		ID:           snap.RunID,
		Query:        snap.Query,
		Intent:       snap.Intent,
		Status:       snap.Status,
		Strategy:     snap.Strategy,
		Leads:        snap.Leads,
		ErrorMessage: snap.Telemetry.ErrorMessage,
		ElapsedMs:    int64(snap.Telemetry.ElapsedSeconds * 1000),
		CreatedAt:    snap.StartedAt,
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.opts.Runs.SaveRun(sctx, run); err != nil {
		zap.L().Warn("save run failed", zap.String("run_id", snap.RunID), zap.Error(err))
	}
}

// background runs fn detached from the run's context.
func (o *Orchestrator) background(parent context.Context, fn func(ctx context.Context)) {
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), 10*time.Second)
		defer cancel()
		fn(ctx)
	}()
}

func (o *Orchestrator) notify(s model.Snapshot) {
	if o.opts.OnChange != nil {
		o.opts.OnChange(s)
	}
}

func observeStage(stage, outcome string, start time.Time) {
	metrics.StageDuration.WithLabelValues(stage, outcome).Observe(time.Since(start).Seconds())
}

// stageMessage builds a user-facing message that says whether waiting or
// fixing configuration is the remedy.
func stageMessage(prefix string, err error) string {
	advice := genericAdvice
	if resilience.IsRateLimited(err) {
		advice = quotaAdvice
	}
	return fmt.Sprintf("%s (%s): %s.", prefix, detail(err), advice)
}

// withAdvice appends the remedy to a search exhaustion message unless it
// already names the quota.
func withAdvice(msg string) string {
	msg = strings.TrimRight(strings.TrimSpace(msg), ".")
	if strings.Contains(msg, "rate limit or quota") {
		return msg + ". Wait a minute and retry."
	}
	return msg + ". " + capitalize(genericAdvice) + "."
}

// detail returns the underlying cause of a stage failure.
func detail(err error) string {
	msg := err.Error()
	var se *model.StageError
	if errors.As(err, &se) {
		msg = se.Msg
		if se.Err != nil {
			msg = se.Err.Error()
		}
	}
	if utf8.RuneCountInString(msg) > 200 {
		msg = structure.Truncate(msg, 200) + "…"
	}
	return strings.TrimRight(msg, ".")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func roundTenth(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
