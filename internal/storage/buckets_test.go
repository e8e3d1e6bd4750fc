package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBuckets_AddAndSorted(t *testing.T) {
	t.Parallel()

	b := NewBuckets()
	b.Add(BucketAll, "2.2.2.2:80")
	b.Add(BucketAll, "1.1.1.1:80")
	b.Add(BucketHTTP, "1.1.1.1:80")
	b.Add("ftp", "3.3.3.3:21") // unknown bucket must be ignored

	require.Equal(t, 2, b.Len(BucketAll))
	require.Equal(t, []string{"1.1.1.1:80", "2.2.2.2:80"}, b.Sorted(BucketAll))
	require.Equal(t, []string{"1.1.1.1:80"}, b.Sorted(BucketHTTP))
	require.Zero(t, b.Len(BucketSOCKS4))
}

func TestFileWriter_WriteBuckets(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w := NewFileWriter(filepath.Join(dir, "working"), false, zap.NewNop())

	b := NewBuckets()
	b.Add(BucketAll, "1.1.1.1:80")
	b.Add(BucketAll, "2.2.2.2:1080")
	b.Add(BucketSOCKS5, "2.2.2.2:1080")

	require.NoError(t, w.WriteBuckets(b))

	all, err := os.ReadFile(filepath.Join(dir, "working-all.txt"))
	require.NoError(t, err)
	require.Equal(t, "1.1.1.1:80\n2.2.2.2:1080\n", string(all))

	socks5, err := os.ReadFile(filepath.Join(dir, "working-socks5.txt"))
	require.NoError(t, err)
	require.Equal(t, "2.2.2.2:1080\n", string(socks5))

	// Empty buckets must not produce files.
	_, err = os.Stat(filepath.Join(dir, "working-http.txt"))
	require.True(t, os.IsNotExist(err))
}

func TestFileWriter_PrependProtocol(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w := NewFileWriter(filepath.Join(dir, "working.txt"), true, zap.NewNop())

	b := NewBuckets()
	b.Add(BucketAll, "1.1.1.1:80")
	b.Add(BucketHTTP, "1.1.1.1:80")
	require.NoError(t, w.WriteBuckets(b))

	all, err := os.ReadFile(filepath.Join(dir, "working-all.txt"))
	require.NoError(t, err)
	require.Equal(t, "1.1.1.1:80\n", string(all), "the all bucket stays bare")

	httpBucket, err := os.ReadFile(filepath.Join(dir, "working-http.txt"))
	require.NoError(t, err)
	require.Equal(t, "http://1.1.1.1:80\n", string(httpBucket))
}

func TestFileWriter_WriteResume(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w := NewFileWriter(filepath.Join(dir, "working"), false, zap.NewNop())

	path, err := w.WriteResume([]string{"9.9.9.9:3128", "1.1.1.1:80"})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "working-resume.txt"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "1.1.1.1:80\n9.9.9.9:3128\n", string(data))
}

func TestLoadFromPatterns(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fileA := filepath.Join(dir, "a.txt")
	fileB := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(fileA, []byte("1.1.1.1:80\n# comment\n\n2.2.2.2:80\n"), 0o644))
	require.NoError(t, os.WriteFile(fileB, []byte("2.2.2.2:80\n3.3.3.3:80\n"), 0o644))

	got, err := LoadFromPatterns([]string{filepath.Join(dir, "*.txt")}, zap.NewNop())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"1.1.1.1:80", "2.2.2.2:80", "3.3.3.3:80"}, got)
}

func TestLoadFromPatterns_NoMatches(t *testing.T) {
	t.Parallel()

	_, err := LoadFromPatterns([]string{filepath.Join(t.TempDir(), "missing-*.txt")}, zap.NewNop())
	require.ErrorIs(t, err, ErrNoInput)
}
