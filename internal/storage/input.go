package storage

import (
	"bufio"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// ErrNoInput indicates no candidate files matched the given patterns. It is a
// configuration failure: the checker refuses to start on an empty input.
var ErrNoInput = errors.New("no input files matched")

// LoadFromPatterns reads candidates from every file matching the glob
// patterns, one per line, skipping blanks and '#' comments. The result is
// deduplicated and shuffled; feeding sorted subnet blocks to the checker
// makes dead ranges look like a stall.
func LoadFromPatterns(patterns []string, logger *zap.Logger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	files := make(map[string]struct{})
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			logger.Warn("bad input pattern", zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		for _, m := range matches {
			files[m] = struct{}{}
		}
	}
	if len(files) == 0 {
		return nil, ErrNoInput
	}

	unique := make(map[string]struct{})
	for path := range files {
		if err := readCandidateFile(path, unique); err != nil {
			logger.Warn("skipping unreadable input file", zap.String("path", path), zap.Error(err))
		}
	}

	out := make([]string, 0, len(unique))
	for candidate := range unique {
		out = append(out, candidate)
	}
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })

	logger.Info("loaded candidates from files",
		zap.Int("files", len(files)), zap.Int("unique", len(out)))
	return out, nil
}

func readCandidateFile(path string, into map[string]struct{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		into[line] = struct{}{}
	}
	return scanner.Err()
}
