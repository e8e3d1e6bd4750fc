package termination

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRequestTermination_RunsCallbacksOnce(t *testing.T) {
	t.Parallel()

	c := New(zap.NewNop())
	var calls int
	c.Register(func() { calls++ })

	require.False(t, c.Terminating())
	c.RequestTermination()
	require.True(t, c.Terminating())
	require.Equal(t, 1, calls)

	// Second request must not re-run cleanup.
	c.RequestTermination()
	require.Equal(t, 1, calls)
}

func TestRequestTermination_KillEscalation(t *testing.T) {
	t.Parallel()

	c := New(zap.NewNop())
	var exitCode int
	var exited bool
	c.exit = func(code int) {
		exited = true
		exitCode = code
	}

	var cleanups int
	c.Register(func() { cleanups++ })

	c.RequestTermination()
	require.False(t, exited)
	c.RequestTermination()
	require.False(t, exited)
	c.RequestTermination()
	require.True(t, exited, "third interrupt must force-exit")
	require.Equal(t, 1, exitCode)
	require.Equal(t, 1, cleanups, "cleanup must not re-run on escalation")
}

func TestUnregister_RemovesCallback(t *testing.T) {
	t.Parallel()

	c := New(zap.NewNop())
	var ran bool
	h := c.Register(func() { ran = true })
	c.Unregister(h)

	c.RequestTermination()
	require.False(t, ran)
}

func TestWithCleanup_ReleasesOnExit(t *testing.T) {
	t.Parallel()

	c := New(zap.NewNop())
	var ran bool
	func() {
		release := c.WithCleanup(func() { ran = true })
		defer release()
	}()

	c.RequestTermination()
	require.False(t, ran, "released callback must not run")
}

func TestWithCleanup_RunsWhileHeld(t *testing.T) {
	t.Parallel()

	c := New(zap.NewNop())
	var ran bool
	release := c.WithCleanup(func() { ran = true })
	defer release()

	c.RequestTermination()
	require.True(t, ran)
}

func TestRequestTermination_PanickingCallbackIsContained(t *testing.T) {
	t.Parallel()

	c := New(zap.NewNop())
	var survivors int
	c.Register(func() { panic("broken cleanup") })
	c.Register(func() { survivors++ })
	c.Register(func() { survivors++ })

	require.NotPanics(t, func() { c.RequestTermination() })
	require.Equal(t, 2, survivors)
}

func TestTerminating_ConcurrentPolling(t *testing.T) {
	t.Parallel()

	c := New(zap.NewNop())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.Terminating()
			}
		}()
	}
	c.RequestTermination()
	wg.Wait()
	require.True(t, c.Terminating())
}

func TestInstallSignals_SecondInstallIsNoop(t *testing.T) {
	c := New(zap.NewNop())
	restore := c.InstallSignals()
	defer restore()

	// A nested scope must not re-install the process-wide handler.
	restoreNested := c.InstallSignals()
	restoreNested()

	require.False(t, c.Terminating())
}
