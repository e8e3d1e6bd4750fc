// Package storage persists pipeline output as flat text files: one file per
// protocol bucket, plus resume files for interrupted checking runs.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Bucket names. BucketAll aggregates every working candidate regardless of
// protocol; a candidate may additionally appear in several protocol buckets.
const (
	BucketAll    = "all"
	BucketHTTP   = "http"
	BucketSOCKS4 = "socks4"
	BucketSOCKS5 = "socks5"
)

// BucketNames lists every bucket in write order.
var BucketNames = []string{BucketAll, BucketHTTP, BucketSOCKS4, BucketSOCKS5}

// Buckets accumulates working candidates per protocol. It is owned by a
// single dispatcher loop and is not safe for concurrent use.
type Buckets struct {
	sets map[string]map[string]struct{}
}

// NewBuckets returns an empty bucket set covering every known protocol.
func NewBuckets() *Buckets {
	sets := make(map[string]map[string]struct{}, len(BucketNames))
	for _, name := range BucketNames {
		sets[name] = make(map[string]struct{})
	}
	return &Buckets{sets: sets}
}

// Add records candidate in the named bucket. Unknown bucket names are
// ignored so a validator reporting an unexpected protocol cannot corrupt the
// output layout.
func (b *Buckets) Add(bucket, candidate string) {
	set, ok := b.sets[bucket]
	if !ok {
		return
	}
	set[candidate] = struct{}{}
}

// Len reports how many candidates the named bucket holds.
func (b *Buckets) Len(bucket string) int {
	return len(b.sets[bucket])
}

// Sorted returns the bucket's candidates in lexical order.
func (b *Buckets) Sorted(bucket string) []string {
	set := b.sets[bucket]
	out := make([]string, 0, len(set))
	for candidate := range set {
		out = append(out, candidate)
	}
	sort.Strings(out)
	return out
}

// FileWriter writes buckets and resume sets beneath a base path like
// "working-proxies" or "out/working". The extension defaults to ".txt".
type FileWriter struct {
	base            string
	ext             string
	prependProtocol bool
	logger          *zap.Logger
}

// NewFileWriter builds a writer rooted at outputBase. When prependProtocol is
// set, protocol buckets are written as "proto://host:port" lines; the "all"
// bucket always stays bare.
func NewFileWriter(outputBase string, prependProtocol bool, logger *zap.Logger) *FileWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	base := outputBase
	ext := filepath.Ext(outputBase)
	if ext == "" {
		ext = ".txt"
	} else {
		base = strings.TrimSuffix(outputBase, ext)
	}
	return &FileWriter{
		base:            base,
		ext:             ext,
		prependProtocol: prependProtocol,
		logger:          logger,
	}
}

// WriteBuckets persists every non-empty bucket to "<base>-<bucket><ext>".
// Used both for interim batch saves and the final flush; a failed bucket is
// logged and the rest are still attempted.
func (w *FileWriter) WriteBuckets(b *Buckets) error {
	if err := w.ensureDir(); err != nil {
		return err
	}
	var firstErr error
	for _, bucket := range BucketNames {
		if b.Len(bucket) == 0 {
			continue
		}
		path := fmt.Sprintf("%s-%s%s", w.base, bucket, w.ext)
		if err := w.writeLines(path, b.Sorted(bucket), bucket); err != nil {
			w.logger.Error("write bucket failed", zap.String("path", path), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// WriteResume persists the not-yet-validated candidates of an interrupted
// static run to "<base>-resume.txt" and returns the path written.
func (w *FileWriter) WriteResume(candidates []string) (string, error) {
	if err := w.ensureDir(); err != nil {
		return "", err
	}
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)
	path := w.base + "-resume.txt"
	if err := w.writeLines(path, sorted, BucketAll); err != nil {
		return "", fmt.Errorf("write resume file: %w", err)
	}
	return path, nil
}

func (w *FileWriter) ensureDir() error {
	dir := filepath.Dir(w.base)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create output dir %s: %w", dir, err)
	}
	return nil
}

func (w *FileWriter) writeLines(path string, candidates []string, bucket string) error {
	var sb strings.Builder
	for _, candidate := range candidates {
		if w.prependProtocol && bucket != BucketAll {
			sb.WriteString(bucket)
			sb.WriteString("://")
		}
		sb.WriteString(candidate)
		sb.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}

// SaveList writes one candidate per line to path, creating parent
// directories as needed. Used for the scrape command's flat output file.
func SaveList(path string, candidates []string, logger *zap.Logger) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create output dir %s: %w", dir, err)
		}
	}
	var sb strings.Builder
	for _, candidate := range candidates {
		sb.WriteString(candidate)
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if logger != nil {
		logger.Info("saved candidates", zap.String("path", path), zap.Int("count", len(candidates)))
	}
	return nil
}
