// Package termination coordinates graceful, signal-driven shutdown across the
// scraping and checking pipelines.
package termination

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

// forceExitThreshold is how many interrupts it takes before the process is
// killed outright, cleanup skipped. An escape hatch for operators whose
// cleanup hangs.
const forceExitThreshold = 3

// Handle identifies a registered cleanup callback so it can be removed again.
type Handle uint64

// Coordinator is the single point of truth for "should the system stop".
// Components poll Terminating between units of work and register cleanup
// callbacks that run once, the moment termination is first requested.
type Coordinator struct {
	mu               sync.Mutex
	terminating      bool
	killCount        int
	nextHandle       Handle
	callbacks        map[Handle]func()
	signalsInstalled bool

	logger *zap.Logger

	// exit is swappable so tests can observe forced termination without
	// killing the test binary.
	exit func(code int)
}

// New returns a Coordinator in the Running state.
func New(logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		callbacks: make(map[Handle]func()),
		logger:    logger,
		exit:      os.Exit,
	}
}

// Terminating reports whether termination has been requested. Safe to poll
// from any goroutine.
func (c *Coordinator) Terminating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminating
}

// Register adds a cleanup callback to run when termination is first
// requested. The returned Handle removes it via Unregister.
func (c *Coordinator) Register(fn func()) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextHandle++
	h := c.nextHandle
	c.callbacks[h] = fn
	return h
}

// Unregister removes a previously registered cleanup callback. Unknown
// handles are ignored.
func (c *Coordinator) Unregister(h Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.callbacks, h)
}

// WithCleanup registers fn and returns a release func that unregisters it.
// Callers defer the release so the callback is removed however the owning
// block exits.
func (c *Coordinator) WithCleanup(fn func()) func() {
	h := c.Register(fn)
	var once sync.Once
	return func() {
		once.Do(func() { c.Unregister(h) })
	}
}

// RequestTermination flips the coordinator into the Terminating state and
// runs all registered cleanup callbacks exactly once. Subsequent calls only
// increment the kill counter; the third call force-exits the process,
// deliberately skipping defers and remaining cleanup.
func (c *Coordinator) RequestTermination() {
	c.mu.Lock()
	c.killCount++
	if c.terminating {
		remaining := forceExitThreshold - c.killCount
		exit := c.exit
		c.mu.Unlock()
		if remaining <= 0 {
			c.logger.Error("forced termination, exiting immediately",
				zap.Int("interrupts", forceExitThreshold))
			exit(1)
			return
		}
		c.logger.Warn("termination already in progress",
			zap.Int("interrupts_until_force_exit", remaining))
		return
	}
	c.terminating = true
	pending := make([]func(), 0, len(c.callbacks))
	for _, fn := range c.callbacks {
		pending = append(pending, fn)
	}
	c.mu.Unlock()

	c.logger.Warn("termination requested, running cleanup",
		zap.Int("callbacks", len(pending)),
		zap.Int("interrupts_until_force_exit", forceExitThreshold-1))

	for _, fn := range pending {
		c.runCallback(fn)
	}
}

// runCallback shields the coordinator from panicking cleanup code. A broken
// callback is reported and the rest still run.
func (c *Coordinator) runCallback(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("cleanup callback panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

// InstallSignals wires SIGINT and SIGTERM to RequestTermination and returns a
// restore func that detaches the handler. Only the top-level scope installs
// signals; nested scopes register cleanup callbacks instead, so the
// process-wide handler is never clobbered.
func (c *Coordinator) InstallSignals() func() {
	c.mu.Lock()
	if c.signalsInstalled {
		c.mu.Unlock()
		return func() {}
	}
	c.signalsInstalled = true
	c.mu.Unlock()

	sigCh := make(chan os.Signal, forceExitThreshold)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-sigCh:
				c.logger.Warn("signal received", zap.String("signal", sig.String()))
				c.RequestTermination()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigCh)
			close(done)
			c.mu.Lock()
			c.signalsInstalled = false
			c.mu.Unlock()
		})
	}
}
