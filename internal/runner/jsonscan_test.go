package runner

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScannerSingleChunk(t *testing.T) {
	s := newObjectScanner()
	input := []byte(`{"stats":{"expected":1},"duration":42}`)

	assert.True(t, s.Feed(input))
	assert.Equal(t, input, s.Object())
}

func TestScannerSplitAcrossChunks(t *testing.T) {
	s := newObjectScanner()

	assert.False(t, s.Feed([]byte(`{"stats":{"expec`)))
	assert.False(t, s.Feed([]byte(`ted":1},"dura`)))
	assert.True(t, s.Feed([]byte(`tion":42}trailing noise`)))
	assert.Equal(t, `{"stats":{"expected":1},"duration":42}`, string(s.Object()))
}

func TestScannerIgnoresBracesInStrings(t *testing.T) {
	s := newObjectScanner()

	assert.False(t, s.Feed([]byte(`{"stats":{"title":"weird } title {"},"duration":1`)))
	assert.True(t, s.Feed([]byte(`}`)))
}

func TestScannerHandlesEscapedQuotes(t *testing.T) {
	s := newObjectScanner()
	input := []byte(`{"stats":{"msg":"a \"quoted\" } brace"},"duration":1}`)

	require.True(t, s.Feed(input))

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(s.Object(), &parsed))
	stats := parsed["stats"].(map[string]any)
	assert.Equal(t, `a "quoted" } brace`, stats["msg"])
}

func TestScannerSkipsLeadingNoise(t *testing.T) {
	s := newObjectScanner()
	body := `{"stats":{},"duration":1}`

	assert.True(t, s.Feed([]byte("Running 3 tests using 1 worker\n"+body)))
	assert.Equal(t, body, string(s.Object()))
}

func TestScannerSkipsStrayJSONLogLines(t *testing.T) {
	// Log lines can carry complete JSON objects of their own; the scanner
	// must reject them and keep searching for the reporter object.
	s := newObjectScanner()
	body := `{"stats":{"expected":1},"duration":42}`

	assert.False(t, s.Feed([]byte("Warning: {\"level\":\"info\"}\n")))
	assert.False(t, s.Feed([]byte("note: {\"retry\":{\"count\":1}}\n")))
	assert.True(t, s.Feed([]byte(body)))
	assert.Equal(t, body, string(s.Object()))
}

func TestScannerRejectsObjectWithoutReporterMarkers(t *testing.T) {
	s := newObjectScanner()

	assert.False(t, s.Feed([]byte(`{"expected":1,"unexpected":0}`)))
	assert.False(t, s.Complete())
}

func TestScannerRejectsInvalidCandidate(t *testing.T) {
	// Balanced braces but not valid JSON: must not latch, and a later
	// well-formed reporter object still gets accepted.
	s := newObjectScanner()

	assert.False(t, s.Feed([]byte(`{"stats" "duration"}`)))
	assert.True(t, s.Feed([]byte(`{"stats":{},"duration":7}`)))
}

func TestScannerIncompleteObject(t *testing.T) {
	s := newObjectScanner()

	assert.False(t, s.Feed([]byte(`{"stats":{"expected":1}`)))
	assert.False(t, s.Complete())
}
