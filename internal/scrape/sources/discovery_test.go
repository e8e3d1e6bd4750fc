package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestURLFromListLine(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://example.com/list":      "https://example.com/list",
		"[25]https://example.com/list":  "https://example.com/list",
		"  http://example.com/x  ":      "http://example.com/x",
		"[js]https://example.com/heavy": "",
		"ftp://example.com/list":        "",
		"plain text":                    "",
	}
	for in, want := range cases {
		require.Equal(t, want, urlFromListLine(in), in)
	}
}

func TestReadSeedFile_MissingIsNotAnError(t *testing.T) {
	t.Parallel()

	seeds, err := ReadSeedFile(filepath.Join(t.TempDir(), "nope.txt"))
	require.NoError(t, err)
	require.Empty(t, seeds)
}

func TestDiscoverTargets(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<a href="/relative/list">rel</a>
<a href="https://other.example.com/abs">abs</a>
[10]https://plain.example.com/from-text
not a url`)
	}))
	defer srv.Close()

	seedFile := filepath.Join(t.TempDir(), "seeds.txt")
	require.NoError(t, os.WriteFile(seedFile, []byte("# seeds\n"+srv.URL+"\n"), 0o644))
	seeds, err := ReadSeedFile(seedFile)
	require.NoError(t, err)

	f := NewWebFetcher(WebConfig{}, zap.NewNop())
	got := DiscoverTargets(context.Background(), f, seeds, 4, zap.NewNop())

	require.Contains(t, got, srv.URL+"/relative/list")
	require.Contains(t, got, "https://other.example.com/abs")
	require.Contains(t, got, "https://plain.example.com/from-text")
}

func TestFilterKnownDomains(t *testing.T) {
	t.Parallel()

	discovered := []string{
		"https://www.known.com/other-list",
		"https://fresh.com/list",
	}
	targets := []Target{{URL: "http://known.com/main"}}

	got := FilterKnownDomains(discovered, targets, zap.NewNop())
	require.Equal(t, []string{"https://fresh.com/list"}, got)
}
