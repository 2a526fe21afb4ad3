// Package domain defines the core data model shared across the bridge.
package domain

import "time"

// TestFile describes a saved test file under the project's test directory.
type TestFile struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// Browser types accepted by ExecutionConfig.
const (
	BrowserChromium = "chromium"
	BrowserFirefox  = "firefox"
	BrowserWebkit   = "webkit"
)

// ExecutionConfig is supplied per execution request. It is never persisted
// independently of a report.
type ExecutionConfig struct {
	BrowserType string `json:"browserType,omitempty"`
	Headless    *bool  `json:"headless,omitempty"`
	Retries     int    `json:"retries,omitempty"`
	Timeout     int    `json:"timeout,omitempty"` // per-test timeout in ms
}

// IsHeadless reports the effective headless setting. Runs are headless
// unless the caller explicitly asked for a headed browser.
func (c ExecutionConfig) IsHeadless() bool {
	return c.Headless == nil || *c.Headless
}

// ValidBrowser reports whether the configured browser type is one the
// runner understands. An empty value defaults to chromium.
func (c ExecutionConfig) ValidBrowser() bool {
	switch c.BrowserType {
	case "", BrowserChromium, BrowserFirefox, BrowserWebkit:
		return true
	}
	return false
}

// ExecutionResult is the raw subprocess outcome, produced once per
// execution attempt.
type ExecutionResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
}

// Artifact is a file produced by a test run and referenced from a report.
// It is owned by the report that references it.
type Artifact struct {
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	Path         string `json:"path"`
	RelativePath string `json:"relativePath"`
	URL          string `json:"url"`
}

// AIAnalysis is the optional failure annotation attached to a report.
type AIAnalysis struct {
	RootCause       string   `json:"rootCause"`
	Recommendations []string `json:"recommendations"`
	Confidence      float64  `json:"confidence"`
}

// TestReport is the durable, artifact-linked record of one execution.
// It is created exactly once and never mutated afterwards.
type TestReport struct {
	ID         string          `json:"id"`
	TestPath   string          `json:"testPath"`
	Timestamp  time.Time       `json:"timestamp"`
	Success    bool            `json:"success"`
	Output     string          `json:"output"`
	Error      string          `json:"error,omitempty"`
	Config     ExecutionConfig `json:"config"`
	Results    map[string]any  `json:"results"`
	Artifacts  []Artifact      `json:"artifacts"`
	AIAnalysis *AIAnalysis     `json:"aiAnalysis,omitempty"`
	Summary    string          `json:"summary"`
	SaveError  string          `json:"saveError,omitempty"`
}
