// Package heartbeat runs the periodic maintenance cycle: backup, one sync
// per connector, extraction retries, search indexing and embedding
// refresh. Steps run sequentially and emit events; a failed step never
// aborts the run, but steps that depend on it are skipped.
package heartbeat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/markwilliams0n/aurelius-hq-sub002/internal/connector"
	"github.com/markwilliams0n/aurelius-hq-sub002/internal/triage"
)

// maxRuns bounds the in-memory run history.
const maxRuns = 50

// Step statuses, in event order.
const (
	StepStart = "start"
	StepDone  = "done"
	StepSkip  = "skip"
	StepError = "error"
)

// Run statuses.
const (
	RunRunning  = "running"
	RunComplete = "complete"
	RunFailed   = "failed"
)

// StepEvent records one state change of a named step during a run.
type StepEvent struct {
	Step   string    `json:"step"`
	Status string    `json:"status"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Run is the record of one heartbeat cycle.
type Run struct {
	ID          string                `json:"id"`
	Status      string                `json:"status"`
	StartedAt   time.Time             `json:"started_at"`
	CompletedAt time.Time             `json:"completed_at,omitempty"`
	Duration    float64               `json:"duration_seconds"`
	Events      []StepEvent           `json:"events"`
	Summaries   []*triage.SyncSummary `json:"summaries,omitempty"`
	Synced      int                   `json:"synced"`
	Skipped     int                   `json:"skipped"`
	Errors      int                   `json:"errors"`
}

// Ingester is the slice of the ingestion gate the runner needs.
type Ingester interface {
	IngestBatch(ctx context.Context, conn connector.Connector, events []connector.RawEvent) *triage.SyncSummary
	ExtractPending(ctx context.Context) (enriched, failed int, err error)
}

// Backuper snapshots the datastore before a cycle touches it.
type Backuper interface {
	Backup(ctx context.Context) error
}

// Indexer refreshes the search index and reports how many items it
// indexed.
type Indexer interface {
	IndexNew(ctx context.Context) (int, error)
}

// Embedder refreshes embeddings for newly indexed items.
type Embedder interface {
	EmbedNew(ctx context.Context) (int, error)
}

// ActivityRecorder persists the run summary to the audit log.
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, eventType string, metadata map[string]any) error
}

// Notifier posts the run summary somewhere humans look (Slack).
type Notifier interface {
	NotifyRunSummary(ctx context.Context, run *Run) error
}

// Runner owns heartbeat execution and the in-memory run history.
type Runner struct {
	connectors []connector.Connector
	gate       Ingester
	backup     Backuper
	indexer    Indexer
	embedder   Embedder
	activity   ActivityRecorder
	notifier   Notifier
	logger     log.Logger
	metrics    *Metrics

	mu       sync.Mutex
	runs     map[string]*Run
	runOrder []string
	running  bool
	lastSync time.Time
}

// Options carries the optional runner dependencies; nil fields disable
// their steps (they emit skip events).
type Options struct {
	Backup   Backuper
	Indexer  Indexer
	Embedder Embedder
	Activity ActivityRecorder
	Notifier Notifier
	Metrics  *Metrics
}

// NewRunner creates a heartbeat runner over the given connectors.
func NewRunner(connectors []connector.Connector, gate Ingester, logger log.Logger, opts Options) *Runner {
	if logger == nil {
		logger = log.Nop()
	}
	return &Runner{
		connectors: connectors,
		gate:       gate,
		backup:     opts.Backup,
		indexer:    opts.Indexer,
		embedder:   opts.Embedder,
		activity:   opts.Activity,
		notifier:   opts.Notifier,
		logger:     logger,
		metrics:    opts.Metrics,
		runs:       make(map[string]*Run),
		lastSync:   time.Now().Add(-24 * time.Hour),
	}
}

// Trigger starts a run in the background and returns its record
// immediately. If a run is already in flight it is returned instead of
// starting a second one.
func (r *Runner) Trigger(ctx context.Context) *Run {
	r.mu.Lock()
	if r.running {
		run := r.currentLocked()
		r.mu.Unlock()
		return run
	}
	r.running = true
	run := &Run{
		ID:        ulid.Make().String(),
		Status:    RunRunning,
		StartedAt: time.Now(),
	}
	r.rememberLocked(run)
	r.mu.Unlock()

	// Detach from the request that triggered us; the run outlives it.
	go r.execute(context.WithoutCancel(ctx), run)
	return r.snapshot(run.ID)
}

// RunOnce executes a full cycle synchronously. Used by the interval loop
// in main.
func (r *Runner) RunOnce(ctx context.Context) *Run {
	r.mu.Lock()
	if r.running {
		run := r.currentLocked()
		r.mu.Unlock()
		return run
	}
	r.running = true
	run := &Run{
		ID:        ulid.Make().String(),
		Status:    RunRunning,
		StartedAt: time.Now(),
	}
	r.rememberLocked(run)
	r.mu.Unlock()

	r.execute(ctx, run)
	return r.snapshot(run.ID)
}

// GetRun returns a copy of the run with the given ID, or nil.
func (r *Runner) GetRun(id string) *Run {
	return r.snapshot(id)
}

// ListRuns returns copies of the recorded runs, newest first.
func (r *Runner) ListRuns() []*Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Run, 0, len(r.runOrder))
	for i := len(r.runOrder) - 1; i >= 0; i-- {
		out = append(out, cloneRun(r.runs[r.runOrder[i]]))
	}
	return out
}

func (r *Runner) execute(ctx context.Context, run *Run) {
	since := r.sinceWatermark()
	L := r.logger.With("run_id", run.ID)
	L.Info(ctx, "heartbeat run started", "since", since)

	r.runBackup(ctx, run)

	for _, conn := range r.connectors {
		r.runSync(ctx, run, conn, since)
	}

	r.runExtraction(ctx, run)
	indexOK := r.runIndex(ctx, run)
	r.runEmbedding(ctx, run, indexOK)

	r.finish(ctx, run)
	L.Info(ctx, "heartbeat run finished",
		"status", r.snapshot(run.ID).Status,
		"synced", run.Synced,
		"errors", run.Errors,
	)
}

func (r *Runner) runBackup(ctx context.Context, run *Run) {
	r.event(run, "backup", StepStart, "")
	if r.backup == nil {
		r.event(run, "backup", StepSkip, "not configured")
		return
	}
	start := time.Now()
	if err := r.backup.Backup(ctx); err != nil {
		r.logger.Error(ctx, err, "backup step failed", "run_id", run.ID)
		r.event(run, "backup", StepError, err.Error())
		r.observeStep("backup", StepError, time.Since(start))
		return
	}
	r.event(run, "backup", StepDone, "")
	r.observeStep("backup", StepDone, time.Since(start))
}

func (r *Runner) runSync(ctx context.Context, run *Run, conn connector.Connector, since time.Time) {
	step := "sync:" + conn.Name()
	r.event(run, step, StepStart, "")
	start := time.Now()

	events, err := conn.Sync(ctx, since)
	if err != nil {
		r.logger.Error(ctx, err, "connector sync failed",
			"run_id", run.ID, "connector", conn.Name())
		r.addErrors(run, 1)
		r.event(run, step, StepError, err.Error())
		r.observeStep(step, StepError, time.Since(start))
		return
	}

	sum := r.gate.IngestBatch(ctx, conn, events)
	r.mu.Lock()
	run.Summaries = append(run.Summaries, sum)
	run.Synced += sum.Synced
	run.Skipped += sum.Skipped
	run.Errors += sum.Errors
	r.mu.Unlock()

	detail := fmt.Sprintf("%d synced, %d skipped, %d errors", sum.Synced, sum.Skipped, sum.Errors)
	if sum.Errors > 0 {
		r.event(run, step, StepError, detail)
		r.observeStep(step, StepError, time.Since(start))
		return
	}
	r.event(run, step, StepDone, detail)
	r.observeStep(step, StepDone, time.Since(start))
}

func (r *Runner) runExtraction(ctx context.Context, run *Run) int {
	r.event(run, "extraction", StepStart, "")
	if run.Synced == 0 {
		r.event(run, "extraction", StepSkip, "no new items")
		return 0
	}
	start := time.Now()
	enriched, failed, err := r.gate.ExtractPending(ctx)
	if err != nil {
		r.logger.Error(ctx, err, "extraction step failed", "run_id", run.ID)
		r.addErrors(run, 1)
		r.event(run, "extraction", StepError, err.Error())
		r.observeStep("extraction", StepError, time.Since(start))
		return 0
	}
	r.event(run, "extraction", StepDone,
		fmt.Sprintf("%d enriched, %d still pending", enriched, failed))
	r.observeStep("extraction", StepDone, time.Since(start))
	return enriched
}

func (r *Runner) runIndex(ctx context.Context, run *Run) bool {
	r.event(run, "search-index", StepStart, "")
	if r.indexer == nil {
		r.event(run, "search-index", StepSkip, "not configured")
		return false
	}
	if run.Synced == 0 {
		r.event(run, "search-index", StepSkip, "no new items")
		return false
	}
	start := time.Now()
	n, err := r.indexer.IndexNew(ctx)
	if err != nil {
		r.logger.Error(ctx, err, "search index step failed", "run_id", run.ID)
		r.addErrors(run, 1)
		r.event(run, "search-index", StepError, err.Error())
		r.observeStep("search-index", StepError, time.Since(start))
		return false
	}
	r.event(run, "search-index", StepDone, fmt.Sprintf("%d items indexed", n))
	r.observeStep("search-index", StepDone, time.Since(start))
	return true
}

func (r *Runner) runEmbedding(ctx context.Context, run *Run, indexOK bool) {
	r.event(run, "embedding", StepStart, "")
	if r.embedder == nil {
		r.event(run, "embedding", StepSkip, "not configured")
		return
	}
	if !indexOK {
		r.event(run, "embedding", StepSkip, "index step did not complete")
		return
	}
	start := time.Now()
	n, err := r.embedder.EmbedNew(ctx)
	if err != nil {
		r.logger.Error(ctx, err, "embedding step failed", "run_id", run.ID)
		r.addErrors(run, 1)
		r.event(run, "embedding", StepError, err.Error())
		r.observeStep("embedding", StepError, time.Since(start))
		return
	}
	r.event(run, "embedding", StepDone, fmt.Sprintf("%d items embedded", n))
	r.observeStep("embedding", StepDone, time.Since(start))
}

// finish closes out the run, persists the summary and notifies. The
// summary is recorded whether or not steps failed.
func (r *Runner) finish(ctx context.Context, run *Run) {
	r.mu.Lock()
	run.CompletedAt = time.Now()
	run.Duration = run.CompletedAt.Sub(run.StartedAt).Seconds()
	if run.Errors > 0 {
		run.Status = RunFailed
	} else {
		run.Status = RunComplete
	}
	if run.Synced > 0 || run.Errors == 0 {
		r.lastSync = run.StartedAt
	}
	r.running = false
	status := run.Status
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.Runs.WithLabelValues(status).Inc()
		r.metrics.RunDuration.Observe(run.Duration)
	}

	if r.activity != nil {
		err := r.activity.RecordActivity(ctx, "heartbeat_run", map[string]any{
			"run_id":   run.ID,
			"status":   status,
			"synced":   run.Synced,
			"skipped":  run.Skipped,
			"errors":   run.Errors,
			"duration": run.Duration,
		})
		if err != nil {
			r.logger.Warn(ctx, "failed to record heartbeat summary", "run_id", run.ID, "error", err)
		}
	}

	if r.notifier != nil {
		if err := r.notifier.NotifyRunSummary(ctx, r.snapshot(run.ID)); err != nil {
			r.logger.Warn(ctx, "failed to notify heartbeat summary", "run_id", run.ID, "error", err)
		}
	}
}

func (r *Runner) sinceWatermark() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSync
}

func (r *Runner) event(run *Run, step, status, detail string) {
	r.mu.Lock()
	run.Events = append(run.Events, StepEvent{
		Step:   step,
		Status: status,
		Detail: detail,
		At:     time.Now(),
	})
	r.mu.Unlock()
}

func (r *Runner) addErrors(run *Run, n int) {
	r.mu.Lock()
	run.Errors += n
	r.mu.Unlock()
}

func (r *Runner) observeStep(step, status string, dur time.Duration) {
	if r.metrics != nil {
		r.metrics.StepDuration.WithLabelValues(step, status).Observe(dur.Seconds())
	}
}

// rememberLocked records the run and trims history. Caller holds mu.
func (r *Runner) rememberLocked(run *Run) {
	r.runs[run.ID] = run
	r.runOrder = append(r.runOrder, run.ID)
	for len(r.runOrder) > maxRuns {
		delete(r.runs, r.runOrder[0])
		r.runOrder = r.runOrder[1:]
	}
}

// currentLocked returns a copy of the newest run. Caller holds mu.
func (r *Runner) currentLocked() *Run {
	if len(r.runOrder) == 0 {
		return nil
	}
	return cloneRun(r.runs[r.runOrder[len(r.runOrder)-1]])
}

// snapshot returns a copy of a run safe to hand to callers while the run
// mutates.
func (r *Runner) snapshot(id string) *Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneRun(r.runs[id])
}

func cloneRun(run *Run) *Run {
	if run == nil {
		return nil
	}
	cp := *run
	cp.Events = append([]StepEvent(nil), run.Events...)
	cp.Summaries = append([]*triage.SyncSummary(nil), run.Summaries...)
	return &cp
}
