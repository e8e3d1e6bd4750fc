package scrape

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/proxygather/proxygather/internal/termination"
)

func testConfig() Config {
	return Config{RegularWorkers: 4, HeadlessWorkers: 2}
}

func staticTask(name string, kind Kind, candidates []string) Task {
	return Task{
		Name: name,
		Kind: kind,
		Run: func(_ context.Context, _ Sink) ([]string, error) {
			return candidates, nil
		},
	}
}

func TestDispatcher_AggregatesFiltersAndSorts(t *testing.T) {
	t.Parallel()

	d, err := NewDispatcher(testConfig(), termination.New(zap.NewNop()), zap.NewNop())
	require.NoError(t, err)

	tasks := []Task{
		staticTask("a", KindRegular, []string{"2.2.2.2:80", "1.1.1.1:80", "10.0.0.1:80"}),
		staticTask("b", KindHeadless, []string{"1.1.1.1:80", "127.0.0.1:8080", "3.3.3.3:3128"}),
	}
	result, err := d.Run(context.Background(), tasks, nil)
	require.NoError(t, err)

	require.Equal(t, []string{"1.1.1.1:80", "2.2.2.2:80", "3.3.3.3:3128"}, result.Candidates)
	require.Equal(t, 2, result.Filtered, "one private and one loopback address dropped")
	require.Equal(t, map[string]int{"a": 3, "b": 3}, result.PerSource)
}

func TestDispatcher_TaskFailureDoesNotAbortSiblings(t *testing.T) {
	t.Parallel()

	d, err := NewDispatcher(testConfig(), termination.New(zap.NewNop()), zap.NewNop())
	require.NoError(t, err)

	tasks := []Task{
		{Name: "broken", Kind: KindRegular, Run: func(_ context.Context, _ Sink) ([]string, error) {
			return nil, errors.New("boom")
		}},
		staticTask("ok", KindRegular, []string{"1.1.1.1:80"}),
	}
	result, err := d.Run(context.Background(), tasks, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"1.1.1.1:80"}, result.Candidates)
	require.Zero(t, result.PerSource["broken"])
}

func TestDispatcher_HeadfulTasksRunSequentially(t *testing.T) {
	t.Parallel()

	d, err := NewDispatcher(testConfig(), termination.New(zap.NewNop()), zap.NewNop())
	require.NoError(t, err)

	var inFlight, maxInFlight int32
	mk := func(name string) Task {
		return Task{Name: name, Kind: KindHeadful, Run: func(_ context.Context, _ Sink) ([]string, error) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				old := atomic.LoadInt32(&maxInFlight)
				if n <= old || atomic.CompareAndSwapInt32(&maxInFlight, old, n) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return nil, nil
		}}
	}
	_, err = d.Run(context.Background(), []Task{mk("one"), mk("two"), mk("three")}, nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&maxInFlight))
}

func TestDispatcher_RecoversResultsAfterTermination(t *testing.T) {
	t.Parallel()

	term := termination.New(zap.NewNop())
	d, err := NewDispatcher(testConfig(), term, zap.NewNop())
	require.NoError(t, err)

	started := make(chan struct{})
	tasks := []Task{
		staticTask("fast", KindRegular, []string{"1.1.1.1:80"}),
		{Name: "slow", Kind: KindRegular, Run: func(ctx context.Context, _ Sink) ([]string, error) {
			close(started)
			// Finishes only once shutdown begins, landing in the
			// recovery window.
			for !term.Terminating() {
				time.Sleep(10 * time.Millisecond)
			}
			return []string{"2.2.2.2:80"}, nil
		}},
	}

	go func() {
		<-started
		time.Sleep(50 * time.Millisecond)
		term.RequestTermination()
	}()

	result, err := d.Run(context.Background(), tasks, nil)
	require.NoError(t, err)
	require.Contains(t, result.Candidates, "1.1.1.1:80")
	require.Contains(t, result.Candidates, "2.2.2.2:80", "result produced during shutdown is salvaged")
}

func TestDispatcher_StreamsThroughSink(t *testing.T) {
	t.Parallel()

	d, err := NewDispatcher(testConfig(), termination.New(zap.NewNop()), zap.NewNop())
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen = map[string][]string{}
	)
	task := Task{Name: "stream", Kind: KindRegular, Run: func(_ context.Context, sink Sink) ([]string, error) {
		sink("http://example.com/list", []string{"1.1.1.1:80"})
		return []string{"1.1.1.1:80"}, nil
	}}
	_, err = d.Run(context.Background(), []Task{task}, func(detail string, candidates []string) {
		mu.Lock()
		seen[detail] = append(seen[detail], candidates...)
		mu.Unlock()
	})
	require.NoError(t, err)
	require.Equal(t, []string{"1.1.1.1:80"}, seen["http://example.com/list"])
}

func TestIsRoutable(t *testing.T) {
	t.Parallel()

	routable := []string{"8.8.8.8:53", "1.1.1.1:80", "203.0.113.9:3128"}
	for _, c := range routable {
		require.True(t, IsRoutable(c), c)
	}
	unroutable := []string{
		"10.1.2.3:80", "127.0.0.1:80", "192.168.1.1:8080", "172.16.0.1:80",
		"169.254.1.1:80", "0.1.2.3:80", "224.0.0.1:80", "240.0.0.1:80",
		"256.1.1.1:80", "1.1.1.1", "not-an-address",
	}
	for _, c := range unroutable {
		require.False(t, IsRoutable(c), c)
	}
}
