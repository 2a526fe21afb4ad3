package analyze

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestAnalyzeSuccess(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key-123", r.Header.Get("Authorization"))

		content, _ := json.Marshal(map[string]any{
			"rootCause":       "Selector #submit no longer exists",
			"recommendations": []string{"Update the selector"},
			"confidence":      0.8,
		})
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": string(content)}},
			},
		})
	})

	c := NewClient(srv.URL, "key-123", "test-model", 5*time.Second, zerolog.Nop())
	analysis, err := c.Analyze(context.Background(), Request{TestPath: "tests/a.spec.ts", Error: "boom"})
	require.NoError(t, err)
	assert.Equal(t, "Selector #submit no longer exists", analysis.RootCause)
	assert.Equal(t, 0.8, analysis.Confidence)
}

func TestAnalyzeMissingKey(t *testing.T) {
	c := NewClient("http://unused", "", "m", time.Second, zerolog.Nop())

	analysis, err := c.Analyze(context.Background(), Request{})
	assert.Error(t, err)
	require.NotNil(t, analysis)
	assert.Equal(t, Fallback().RootCause, analysis.RootCause)
	assert.Zero(t, analysis.Confidence)
}

func TestAnalyzeServerError(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	c := NewClient(srv.URL, "key", "m", time.Second, zerolog.Nop())
	analysis, err := c.Analyze(context.Background(), Request{})
	assert.Error(t, err)
	assert.Equal(t, Fallback().RootCause, analysis.RootCause)
}

func TestAnalyzeMalformedContent(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "not json at all"}},
			},
		})
	})

	c := NewClient(srv.URL, "key", "m", time.Second, zerolog.Nop())
	analysis, err := c.Analyze(context.Background(), Request{})
	assert.Error(t, err)
	assert.Equal(t, Fallback().RootCause, analysis.RootCause)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 100))
	long := Truncate("aaaaaaaaaa", 4)
	assert.Contains(t, long, "truncated")
	assert.Less(t, len(long), 30)
}

func TestTruncateNeverSplitsRunes(t *testing.T) {
	// "日" is three bytes; cutting inside it must back up to the rune
	// boundary instead of emitting invalid UTF-8.
	s := "ab日本語"
	for max := 1; max < len(s); max++ {
		out := Truncate(s, max)
		assert.True(t, utf8.ValidString(out), "max=%d produced invalid UTF-8: %q", max, out)
	}
	assert.Equal(t, "ab\n...[truncated]", Truncate(s, 3))
}
