package runner

import (
	"bytes"
	"encoding/json"
)

// objectScanner watches a byte stream for the reporter's JSON object. The
// runner's JSON reporter writes exactly one object to stdout, possibly
// surrounded by stray log lines, so tracking brace depth (string- and
// escape-aware) gives a well-defined completion event instead of a
// substring heuristic.
//
// Stray log lines can themselves contain small JSON objects, so a closed
// candidate is only accepted when it is valid JSON carrying the reporter's
// "stats" and "duration" markers. A rejected candidate resets the scan and
// the rest of the stream keeps being searched.
type objectScanner struct {
	started  bool
	complete bool
	depth    int
	inString bool
	escaped  bool

	candidate []byte // bytes of the object currently being tracked
	object    []byte // the accepted reporter object
}

func newObjectScanner() *objectScanner {
	return &objectScanner{}
}

var (
	statsMarker    = []byte(`"stats"`)
	durationMarker = []byte(`"duration"`)
)

// acceptReport decides whether a closed object is the reporter's output.
func acceptReport(candidate []byte) bool {
	return bytes.Contains(candidate, statsMarker) &&
		bytes.Contains(candidate, durationMarker) &&
		json.Valid(candidate)
}

// Feed consumes the next chunk of the stream and returns true once the
// reporter object has been accepted. Bytes after acceptance are ignored.
func (s *objectScanner) Feed(chunk []byte) bool {
	for _, b := range chunk {
		if s.complete {
			return true
		}
		s.scan(b)
	}
	return s.complete
}

func (s *objectScanner) scan(b byte) {
	if !s.started {
		if b == '{' {
			s.started = true
			s.depth = 1
			s.candidate = append(s.candidate[:0], b)
		}
		return
	}

	s.candidate = append(s.candidate, b)

	if s.inString {
		switch {
		case s.escaped:
			s.escaped = false
		case b == '\\':
			s.escaped = true
		case b == '"':
			s.inString = false
		}
		return
	}

	switch b {
	case '"':
		s.inString = true
	case '{':
		s.depth++
	case '}':
		s.depth--
		if s.depth == 0 {
			s.settle()
		}
	}
}

// settle accepts or rejects a closed candidate. Rejection rearms the
// scanner for the next object in the stream.
func (s *objectScanner) settle() {
	if acceptReport(s.candidate) {
		s.complete = true
		s.object = append([]byte(nil), s.candidate...)
		return
	}
	s.started = false
	s.candidate = s.candidate[:0]
}

// Complete reports whether the reporter object has been accepted.
func (s *objectScanner) Complete() bool {
	return s.complete
}

// Object returns the accepted reporter object. Only valid once Complete
// returns true.
func (s *objectScanner) Object() []byte {
	return s.object
}
