package checker

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/proxygather/proxygather/internal/storage"
	"github.com/proxygather/proxygather/internal/termination"
)

// fakeValidator records calls and answers from a canned table. An optional
// gate makes every call block until released, which lets tests observe the
// in-flight window.
type fakeValidator struct {
	mu      sync.Mutex
	calls   []string
	results map[string]Result
	gate    chan struct{}
}

func (f *fakeValidator) Validate(candidate string) (Result, bool) {
	f.mu.Lock()
	f.calls = append(f.calls, candidate)
	f.mu.Unlock()
	if f.gate != nil {
		<-f.gate
	}
	res, ok := f.results[candidate]
	return res, ok
}

func (f *fakeValidator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestDispatcher(t *testing.T, workers int, v Validator, dir string) *Dispatcher {
	t.Helper()
	cfg := DispatchConfig{
		Workers:    workers,
		Timeout:    time.Second,
		OutputBase: filepath.Join(dir, "working"),
	}
	var writer *storage.FileWriter
	if dir != "" {
		writer = storage.NewFileWriter(cfg.OutputBase, false, zap.NewNop())
	}
	d, err := NewDispatcher(cfg, v, writer, termination.New(zap.NewNop()), nil, zap.NewNop())
	require.NoError(t, err)
	return d
}

func TestDispatcher_SubmitsEachCandidateOnce(t *testing.T) {
	t.Parallel()

	fake := &fakeValidator{results: map[string]Result{
		"1.1.1.1:80": {Protocols: []string{"http"}, Anonymity: AnonymityElite},
	}}
	d := newTestDispatcher(t, 1, fake, t.TempDir())

	live := make(chan string, 4)
	live <- "1.1.1.1:80" // duplicate of a static entry
	live <- "2.2.2.2:80"
	close(live)

	buckets, err := d.Run(context.Background(),
		[]string{"1.1.1.1:80", "2.2.2.2:80", "1.1.1.1:80"}, live)
	require.NoError(t, err)

	require.Equal(t, 2, fake.callCount(), "each distinct candidate is validated once")
	require.Equal(t, []string{"1.1.1.1:80"}, buckets.Sorted(storage.BucketAll))
	require.Equal(t, []string{"1.1.1.1:80"}, buckets.Sorted(storage.BucketHTTP))
}

func TestDispatcher_WindowNeverExceedsTwiceWorkers(t *testing.T) {
	t.Parallel()

	const workers = 3
	static := make([]string, 0, 40)
	results := make(map[string]Result)
	for i := 0; i < 40; i++ {
		static = append(static, "10.0.0."+strconv.Itoa(i)+":80")
	}
	fake := &fakeValidator{results: results, gate: make(chan struct{})}
	d := newTestDispatcher(t, workers, fake, t.TempDir())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = d.Run(context.Background(), static, nil)
	}()

	require.Eventually(t, func() bool {
		return fake.callCount() > 0
	}, 2*time.Second, 10*time.Millisecond)

	// Give the loop time to over-submit if it were going to.
	time.Sleep(300 * time.Millisecond)
	require.LessOrEqual(t, fake.callCount(), 2*workers)

	close(fake.gate)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not drain after gate release")
	}
}

func TestDispatcher_InterimSaveEveryBatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	results := make(map[string]Result)
	static := make([]string, 0, SaveBatchSize)
	for i := 0; i < SaveBatchSize; i++ {
		c := "10.0." + strconv.Itoa(i) + ".1:80"
		static = append(static, c)
		results[c] = Result{Protocols: []string{"http"}, Anonymity: AnonymityAnonymous}
	}
	fake := &fakeValidator{results: results}
	d := newTestDispatcher(t, 4, fake, dir)

	buckets, err := d.Run(context.Background(), static, nil)
	require.NoError(t, err)
	require.Equal(t, SaveBatchSize, buckets.Len(storage.BucketAll))

	data, err := os.ReadFile(filepath.Join(dir, "working-all.txt"))
	require.NoError(t, err)
	require.Len(t, strings.Split(strings.TrimRight(string(data), "\n"), "\n"), SaveBatchSize)
}

func TestDispatcher_ResumeCoversUnresolvedCandidates(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	static := []string{"1.1.1.1:80", "2.2.2.2:80", "3.3.3.3:80", "4.4.4.4:80", "5.5.5.5:80"}
	fake := &fakeValidator{results: map[string]Result{}, gate: make(chan struct{})}

	cfg := DispatchConfig{Workers: 1, Timeout: time.Second, OutputBase: filepath.Join(dir, "working")}
	term := termination.New(zap.NewNop())
	d, err := NewDispatcher(cfg, fake,
		storage.NewFileWriter(cfg.OutputBase, false, zap.NewNop()), term, nil, zap.NewNop())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = d.Run(context.Background(), static, nil)
	}()

	// Wait until the window (2 candidates) is in flight, then interrupt.
	require.Eventually(t, func() bool {
		return fake.callCount() == 2
	}, 2*time.Second, 10*time.Millisecond)
	term.RequestTermination()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop after termination")
	}
	close(fake.gate)

	data, err := os.ReadFile(filepath.Join(dir, "working-resume.txt"))
	require.NoError(t, err)
	saved := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	// Nothing resolved: resume covers the whole list.
	require.ElementsMatch(t, static, saved)
}

func TestDispatcher_NoResumeInLiveMode(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fake := &fakeValidator{results: map[string]Result{}, gate: make(chan struct{})}
	term := termination.New(zap.NewNop())
	cfg := DispatchConfig{Workers: 1, Timeout: time.Second, OutputBase: filepath.Join(dir, "working")}
	d, err := NewDispatcher(cfg, fake,
		storage.NewFileWriter(cfg.OutputBase, false, zap.NewNop()), term, nil, zap.NewNop())
	require.NoError(t, err)

	live := make(chan string, 2)
	live <- "1.1.1.1:80"

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = d.Run(context.Background(), nil, live)
	}()

	require.Eventually(t, func() bool {
		return fake.callCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	term.RequestTermination()
	<-done
	close(fake.gate)

	_, err = os.Stat(filepath.Join(dir, "working-resume.txt"))
	require.True(t, os.IsNotExist(err), "live-only runs have no deterministic remaining set")
}

func TestDispatcher_CallbackSeesEveryResolution(t *testing.T) {
	t.Parallel()

	fake := &fakeValidator{results: map[string]Result{
		"1.1.1.1:80": {Protocols: []string{"http", "socks5"}, Anonymity: AnonymityElite},
	}}
	var (
		mu   sync.Mutex
		seen = map[string]bool{}
	)
	cfg := DispatchConfig{Workers: 2, Timeout: time.Second, OutputBase: filepath.Join(t.TempDir(), "working")}
	d, err := NewDispatcher(cfg, fake, nil, termination.New(zap.NewNop()),
		func(candidate string, usable bool, _ Result) {
			mu.Lock()
			seen[candidate] = usable
			mu.Unlock()
		}, zap.NewNop())
	require.NoError(t, err)

	buckets, err := d.Run(context.Background(), []string{"1.1.1.1:80", "2.2.2.2:80"}, nil)
	require.NoError(t, err)

	require.Equal(t, map[string]bool{"1.1.1.1:80": true, "2.2.2.2:80": false}, seen)
	require.Equal(t, []string{"1.1.1.1:80"}, buckets.Sorted(storage.BucketSOCKS5))
}

func TestDispatchConfig_Validate(t *testing.T) {
	t.Parallel()

	require.Error(t, DispatchConfig{Workers: 0, OutputBase: "x"}.Validate())
	require.Error(t, DispatchConfig{Workers: 1}.Validate())
	require.NoError(t, DispatchConfig{Workers: 1, OutputBase: "x"}.Validate())
}

func TestParseTimeout(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want time.Duration
	}{
		{"6s", 6 * time.Second},
		{"500ms", 500 * time.Millisecond},
		{"6", 6 * time.Second},
		{"2.5", 2500 * time.Millisecond},
		{"0", time.Second},
		{"-3s", time.Second},
	}
	for _, tc := range cases {
		got, err := ParseTimeout(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}

	_, err := ParseTimeout("banana")
	require.Error(t, err)
}

func TestClassifyAnonymity(t *testing.T) {
	t.Parallel()

	c := &Checker{publicIP: "203.0.113.7"}
	require.Equal(t, AnonymityTransparent, c.classifyAnonymity("REMOTE_ADDR = 203.0.113.7"))
	require.Equal(t, AnonymityAnonymous, c.classifyAnonymity("X-Forwarded-For: 10.0.0.1"))
	require.Equal(t, AnonymityElite, c.classifyAnonymity("REMOTE_ADDR = 198.51.100.9"))
}

func TestSplitCandidate(t *testing.T) {
	t.Parallel()

	addr, auth := splitCandidate("1.1.1.1:80")
	require.Equal(t, "1.1.1.1:80", addr)
	require.Nil(t, auth)

	addr, auth = splitCandidate("user:pa:ss@1.1.1.1:80")
	require.Equal(t, "1.1.1.1:80", addr)
	require.NotNil(t, auth)
	require.Equal(t, "user", auth.User)
	require.Equal(t, "pa:ss", auth.Password)
}
