package checker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/proxygather/proxygather/internal/metrics"
	"github.com/proxygather/proxygather/internal/storage"
	"github.com/proxygather/proxygather/internal/termination"
)

// SaveBatchSize is how many cumulative usable results trigger an interim
// bucket write.
const SaveBatchSize = 25

// pollInterval bounds how long the dispatcher loop waits for a completion
// before re-checking the termination coordinator.
const pollInterval = 100 * time.Millisecond

// DispatchConfig holds the validation dispatcher's knobs. Timeout values at
// or below zero are coerced to one second.
type DispatchConfig struct {
	Workers         int
	Timeout         time.Duration
	OutputBase      string
	PrependProtocol bool
	Verbose         bool
}

// Validate checks for unusable configuration combinations.
func (c DispatchConfig) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("checker workers must be > 0")
	}
	if c.OutputBase == "" {
		return fmt.Errorf("checker output base must be set")
	}
	return nil
}

// ResultCallback observes every resolved validation. usable=false carries an
// empty Result.
type ResultCallback func(candidate string, usable bool, result Result)

// Dispatcher feeds candidates from a static list and/or a live channel
// through a Validator, keeping at most 2×Workers calls outstanding.
type Dispatcher struct {
	cfg       DispatchConfig
	validator Validator
	writer    *storage.FileWriter
	term      *termination.Coordinator
	callback  ResultCallback
	logger    *zap.Logger
}

// NewDispatcher validates cfg and builds a Dispatcher. callback may be nil.
func NewDispatcher(
	cfg DispatchConfig,
	validator Validator,
	writer *storage.FileWriter,
	term *termination.Coordinator,
	callback ResultCallback,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	if validator == nil {
		return nil, fmt.Errorf("validator must be provided")
	}
	if term == nil {
		return nil, fmt.Errorf("termination coordinator must be provided")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:       cfg,
		validator: validator,
		writer:    writer,
		term:      term,
		callback:  callback,
		logger:    logger,
	}, nil
}

type completion struct {
	candidate string
	result    Result
	usable    bool
}

// Run drives validation until both sources are exhausted or termination is
// requested. live may be nil (static-only mode); a closed live channel is the
// end-of-stream marker. Every distinct candidate is submitted at most once
// across both sources. Returns the accumulated buckets.
func (d *Dispatcher) Run(ctx context.Context, static []string, live <-chan string) (*storage.Buckets, error) {
	window := d.cfg.Workers * 2
	completions := make(chan completion, window)

	submitted := make(map[string]struct{})
	inFlight := make(map[string]struct{})
	buckets := storage.NewBuckets()

	staticIdx := 0
	liveOpen := live != nil
	successes := 0
	interrupted := false

	d.logger.Info("checker dispatcher starting",
		zap.Int("workers", d.cfg.Workers),
		zap.Int("window", window),
		zap.Int("static_candidates", len(static)),
		zap.Bool("live_stream", live != nil),
		zap.Duration("timeout", d.cfg.Timeout))

	for {
		if d.term.Terminating() || ctx.Err() != nil {
			interrupted = true
			break
		}

		// Top up the in-flight window: static list first-come, then live.
		for len(inFlight) < window {
			candidate, ok := d.nextCandidate(static, &staticIdx, live, &liveOpen)
			if !ok {
				break
			}
			candidate = strings.TrimSpace(candidate)
			if candidate == "" {
				continue
			}
			if _, dup := submitted[candidate]; dup {
				continue
			}
			submitted[candidate] = struct{}{}
			inFlight[candidate] = struct{}{}
			go func(candidate string) {
				result, usable := d.validator.Validate(candidate)
				completions <- completion{candidate: candidate, result: result, usable: usable}
			}(candidate)
		}

		if len(inFlight) == 0 && !liveOpen && staticIdx >= len(static) {
			break
		}

		select {
		case comp := <-completions:
			delete(inFlight, comp.candidate)
			successes += d.handleCompletion(comp, buckets, successes)
		case <-time.After(pollInterval):
		}
	}

	if interrupted {
		d.logger.Warn("checker interrupted",
			zap.Int("in_flight", len(inFlight)),
			zap.Int("submitted", len(submitted)))
		if len(static) > 0 && d.writer != nil {
			d.saveResume(static, submitted, inFlight)
		}
	}

	d.logger.Info("check finished",
		zap.Int("working", buckets.Len(storage.BucketAll)),
		zap.Int("checked", len(submitted)-len(inFlight)))

	if buckets.Len(storage.BucketAll) > 0 && d.writer != nil {
		if err := d.writer.WriteBuckets(buckets); err != nil {
			return buckets, fmt.Errorf("final bucket flush: %w", err)
		}
	}
	return buckets, nil
}

// nextCandidate pulls the next ready candidate, draining the static list
// before attempting a non-blocking receive from the live channel.
func (d *Dispatcher) nextCandidate(static []string, staticIdx *int, live <-chan string, liveOpen *bool) (string, bool) {
	if *staticIdx < len(static) {
		candidate := static[*staticIdx]
		*staticIdx++
		return candidate, true
	}
	if !*liveOpen {
		return "", false
	}
	select {
	case candidate, ok := <-live:
		if !ok {
			*liveOpen = false
			return "", false
		}
		return candidate, true
	default:
		return "", false
	}
}

// handleCompletion records one resolved call and returns 1 when it was a
// usable result (so the caller can track the interim-save batch count).
func (d *Dispatcher) handleCompletion(comp completion, buckets *storage.Buckets, successesSoFar int) int {
	metrics.CandidatesChecked.Inc()

	if !comp.usable {
		if d.cfg.Verbose {
			d.logger.Debug("candidate unusable", zap.String("candidate", comp.candidate))
		}
		if d.callback != nil {
			d.callback(comp.candidate, false, Result{})
		}
		return 0
	}

	metrics.CandidatesWorking.Inc()
	buckets.Add(storage.BucketAll, comp.candidate)
	for _, protocol := range comp.result.Protocols {
		buckets.Add(protocol, comp.candidate)
	}

	d.logger.Info("working proxy",
		zap.String("candidate", comp.candidate),
		zap.String("anonymity", comp.result.Anonymity),
		zap.Strings("protocols", comp.result.Protocols),
		zap.Int64("latency_ms", comp.result.Latency.Milliseconds()))

	if (successesSoFar+1)%SaveBatchSize == 0 && d.writer != nil {
		if err := d.writer.WriteBuckets(buckets); err != nil {
			d.logger.Error("interim save failed", zap.Error(err))
		} else {
			metrics.InterimSaves.Inc()
			d.logger.Info("interim save complete",
				zap.Int("working", buckets.Len(storage.BucketAll)))
		}
	}

	if d.callback != nil {
		d.callback(comp.candidate, true, comp.result)
	}
	return 1
}

// saveResume persists everything not yet resolved: the unsubmitted tail of
// the static list plus candidates still in flight.
func (d *Dispatcher) saveResume(static []string, submitted, inFlight map[string]struct{}) {
	remaining := make(map[string]struct{})
	for _, candidate := range static {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if _, ok := submitted[candidate]; !ok {
			remaining[candidate] = struct{}{}
		}
	}
	for candidate := range inFlight {
		remaining[candidate] = struct{}{}
	}
	if len(remaining) == 0 {
		return
	}
	list := make([]string, 0, len(remaining))
	for candidate := range remaining {
		list = append(list, candidate)
	}
	path, err := d.writer.WriteResume(list)
	if err != nil {
		d.logger.Error("resume save failed", zap.Error(err))
		return
	}
	d.logger.Info("resume file saved", zap.String("path", path), zap.Int("candidates", len(list)))
}
