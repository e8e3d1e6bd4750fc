package pipeline

import (
	"math/rand"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// SourceStats counts one source's contribution.
type SourceStats struct {
	Scraped int
	Working int
}

// SummaryRow pairs a source with its stats for reporting.
type SummaryRow struct {
	SourceID string
	SourceStats
}

// Summary is the final per-source table plus the global unique totals.
type Summary struct {
	Rows          []SummaryRow
	UniqueScraped int
	UniqueWorking int
}

// Coordinator attributes every discovered candidate to its sources, feeds
// each distinct candidate to validation exactly once, and replays cached
// validation outcomes for sources that report a candidate late. One mutex
// guards all maps; this path is never the bottleneck, network I/O is.
type Coordinator struct {
	mu      sync.Mutex
	stats   map[string]*SourceStats
	sources map[string]map[string]struct{}
	checked map[string]bool

	// sendMu serializes channel sends against the one-time close. The
	// stats mutex is never held while sending, so a full channel cannot
	// deadlock the validation callback. done is closed before sendMu is
	// taken in CloseIntake, which aborts any producer blocked on a full
	// channel; without it an interrupted checker that stops draining
	// would wedge shutdown behind that producer.
	sendMu    sync.Mutex
	out       chan string
	done      chan struct{}
	closeOnce sync.Once
	outClosed bool

	logger *zap.Logger
}

// NewCoordinator builds a Coordinator. buffer sizes the validation channel;
// producers block when the checker falls that far behind.
func NewCoordinator(buffer int, logger *zap.Logger) *Coordinator {
	if buffer <= 0 {
		buffer = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		stats:   make(map[string]*SourceStats),
		sources: make(map[string]map[string]struct{}),
		checked: make(map[string]bool),
		out:     make(chan string, buffer),
		done:    make(chan struct{}),
		logger:  logger,
	}
}

// Candidates is the live stream consumed by the validation dispatcher. It is
// closed once by CloseIntake when discovery ends.
func (c *Coordinator) Candidates() <-chan string { return c.out }

// Seed enqueues candidates that did not come from a source task, such as
// --input files, attributing them to the given label.
func (c *Coordinator) Seed(label string, candidates []string) {
	c.OnScraped(label, candidates)
}

// OnScraped records one discovery event. Candidates are shuffled before
// enqueueing so the checker does not receive long sorted runs from a single
// dead source. A candidate is pushed to validation only the first time any
// source claims it; if it was already validated as working through another
// path, the new source is credited immediately instead.
func (c *Coordinator) OnScraped(sourceDetail string, candidates []string) {
	if len(candidates) == 0 {
		return
	}
	sourceID := CanonicalSourceID(sourceDetail)

	shuffled := make([]string, len(candidates))
	copy(shuffled, candidates)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	c.mu.Lock()
	st := c.statsLocked(sourceID)
	st.Scraped += len(shuffled)

	var fresh []string
	for _, candidate := range shuffled {
		set, known := c.sources[candidate]
		if !known {
			set = make(map[string]struct{}, 1)
			c.sources[candidate] = set
			fresh = append(fresh, candidate)
		}
		set[sourceID] = struct{}{}

		if working, done := c.checked[candidate]; done && working {
			st.Working++
		}
	}
	c.mu.Unlock()

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.outClosed {
		return
	}
	for _, candidate := range fresh {
		select {
		case c.out <- candidate:
		case <-c.done:
			return
		}
	}
}

// OnChecked records one validation outcome and credits every source
// currently attributed to the candidate.
func (c *Coordinator) OnChecked(candidate string, working bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.checked[candidate] = working
	if !working {
		return
	}
	for sourceID := range c.sources[candidate] {
		c.statsLocked(sourceID).Working++
	}
}

// CloseIntake signals end-of-stream to the validation side. Safe to call
// more than once, and safe to call while a producer is blocked on a full
// channel: done is closed first, which releases the producer, then the
// channel itself is closed under sendMu so no send can race the close.
func (c *Coordinator) CloseIntake() {
	c.closeOnce.Do(func() { close(c.done) })
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.outClosed {
		c.outClosed = true
		close(c.out)
	}
}

// Summarize computes the final table, sorted by working count descending
// then by name. Call after both dispatchers have drained.
func (c *Coordinator) Summarize() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows := make([]SummaryRow, 0, len(c.stats))
	for id, st := range c.stats {
		rows = append(rows, SummaryRow{SourceID: id, SourceStats: *st})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Working != rows[j].Working {
			return rows[i].Working > rows[j].Working
		}
		return rows[i].SourceID < rows[j].SourceID
	})

	working := 0
	for _, ok := range c.checked {
		if ok {
			working++
		}
	}
	return Summary{
		Rows:          rows,
		UniqueScraped: len(c.sources),
		UniqueWorking: working,
	}
}

func (c *Coordinator) statsLocked(sourceID string) *SourceStats {
	st, ok := c.stats[sourceID]
	if !ok {
		st = &SourceStats{}
		c.stats[sourceID] = st
	}
	return st
}
