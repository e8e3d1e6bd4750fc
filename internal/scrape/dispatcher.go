// Package scrape runs the producer tasks that discover proxy candidates and
// funnels their results into one filtered, de-duplicated list.
package scrape

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/proxygather/proxygather/internal/metrics"
	"github.com/proxygather/proxygather/internal/termination"
)

// completionPoll bounds how long the dispatcher waits for a task completion
// before re-checking the termination coordinator.
const completionPoll = 500 * time.Millisecond

// Kind selects which worker pool a task runs in.
type Kind int

const (
	// KindRegular tasks are plain network fetches and share the large pool.
	KindRegular Kind = iota
	// KindHeadless tasks each own an isolated browser; a small pool bounds
	// how many Chrome processes run at once.
	KindHeadless
	// KindHeadful tasks need the one visible window and run strictly
	// sequentially among themselves.
	KindHeadful
)

// Sink receives candidates as a task discovers them, before the task
// finishes. sourceDetail is the concrete origin (a URL for generic web
// sources, the task name otherwise).
type Sink func(sourceDetail string, candidates []string)

// Task is one named producer. Run returns everything the task found; tasks
// that can stream call the sink along the way as well.
type Task struct {
	Name string
	Kind Kind
	Run  func(ctx context.Context, sink Sink) ([]string, error)
}

// Config holds the dispatcher's pool sizes and timeouts.
type Config struct {
	RegularWorkers  int
	HeadlessWorkers int
	TaskTimeout     time.Duration
	TotalTimeout    time.Duration
}

// Validate checks pool sizes.
func (c Config) Validate() error {
	if c.RegularWorkers <= 0 {
		return fmt.Errorf("regular worker count must be > 0")
	}
	if c.HeadlessWorkers <= 0 {
		return fmt.Errorf("headless worker count must be > 0")
	}
	return nil
}

// Result is the dispatcher's aggregate output.
type Result struct {
	// Candidates is the sorted union after de-duplication and
	// reserved-range filtering.
	Candidates []string
	// PerSource holds the raw per-task candidate counts, before filtering.
	PerSource map[string]int
	// Filtered counts candidates dropped by the reserved-range filter.
	Filtered int
}

// Dispatcher fans tasks out over three pools and collects their results
// while staying responsive to termination.
type Dispatcher struct {
	cfg    Config
	term   *termination.Coordinator
	logger *zap.Logger
}

// NewDispatcher validates cfg and builds a Dispatcher.
func NewDispatcher(cfg Config, term *termination.Coordinator, logger *zap.Logger) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 100 * time.Second
	}
	if cfg.TotalTimeout <= 0 {
		cfg.TotalTimeout = 300 * time.Second
	}
	if term == nil {
		return nil, fmt.Errorf("termination coordinator must be provided")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{cfg: cfg, term: term, logger: logger}, nil
}

type taskResult struct {
	name       string
	candidates []string
	err        error
}

// Run submits every task up front and polls for completions until all tasks
// finish, the total budget expires or termination is requested. A failed
// task is recorded as empty and never aborts its siblings. On interruption
// the dispatcher still drains completions that raced the shutdown before
// cancelling the rest.
func (d *Dispatcher) Run(ctx context.Context, tasks []Task, sink Sink) (Result, error) {
	if len(tasks) == 0 {
		return Result{}, fmt.Errorf("no source tasks selected")
	}

	runCtx, cancel := context.WithTimeout(ctx, d.cfg.TotalTimeout)
	defer cancel()

	pools := map[Kind]chan struct{}{
		KindRegular:  make(chan struct{}, d.cfg.RegularWorkers),
		KindHeadless: make(chan struct{}, d.cfg.HeadlessWorkers),
		KindHeadful:  make(chan struct{}, 1),
	}

	completions := make(chan taskResult, len(tasks))
	for _, task := range tasks {
		go d.runTask(runCtx, task, pools[task.Kind], sink, completions)
	}
	d.logger.Info("source dispatcher started",
		zap.Int("tasks", len(tasks)),
		zap.Int("regular_workers", d.cfg.RegularWorkers),
		zap.Int("headless_workers", d.cfg.HeadlessWorkers))

	results := make(map[string][]string, len(tasks))
	pending := len(tasks)
	interrupted := false

	for pending > 0 {
		if d.term.Terminating() || runCtx.Err() != nil {
			interrupted = true
			break
		}
		select {
		case res := <-completions:
			pending--
			d.recordResult(res, results)
		case <-time.After(completionPoll):
		}
	}

	if interrupted {
		d.logger.Warn("source dispatcher interrupted", zap.Int("outstanding", pending))
		cancel()
		// Recovery pass: salvage tasks that finished while we were
		// deciding to stop.
		for pending > 0 {
			select {
			case res := <-completions:
				pending--
				d.recordResult(res, results)
				d.logger.Info("recovered result after shutdown", zap.String("task", res.name))
			case <-time.After(completionPoll):
				pending = 0
			}
		}
	}

	return d.aggregate(results), nil
}

// runTask waits for a pool slot, runs the task under its own deadline and
// reports the outcome.
func (d *Dispatcher) runTask(ctx context.Context, task Task, pool chan struct{}, sink Sink, completions chan<- taskResult) {
	select {
	case pool <- struct{}{}:
		defer func() { <-pool }()
	case <-ctx.Done():
		completions <- taskResult{name: task.Name, err: ctx.Err()}
		return
	}

	taskCtx, cancel := context.WithTimeout(ctx, d.cfg.TaskTimeout)
	defer cancel()

	candidates, err := task.Run(taskCtx, sink)
	completions <- taskResult{name: task.Name, candidates: candidates, err: err}
}

func (d *Dispatcher) recordResult(res taskResult, results map[string][]string) {
	if res.err != nil {
		metrics.SourceTaskFailures.Inc()
		results[res.name] = nil
		d.logger.Warn("source task failed", zap.String("task", res.name), zap.Error(res.err))
		return
	}
	results[res.name] = res.candidates
	metrics.CandidatesScraped.Add(float64(len(res.candidates)))
	d.logger.Info("source task finished",
		zap.String("task", res.name),
		zap.Int("candidates", len(res.candidates)))
}

// aggregate unions all task output, drops duplicates and unroutable
// addresses and sorts what remains.
func (d *Dispatcher) aggregate(results map[string][]string) Result {
	perSource := make(map[string]int, len(results))
	union := make(map[string]struct{})
	for name, candidates := range results {
		perSource[name] = len(candidates)
		for _, c := range candidates {
			if c != "" {
				union[c] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(union))
	filtered := 0
	for c := range union {
		if IsRoutable(c) {
			out = append(out, c)
		} else {
			filtered++
		}
	}
	sort.Strings(out)

	if filtered > 0 {
		d.logger.Info("reserved-range candidates removed", zap.Int("count", filtered))
	}
	return Result{Candidates: out, PerSource: perSource, Filtered: filtered}
}
