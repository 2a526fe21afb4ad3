// Package report turns raw execution results into persisted,
// artifact-linked, optionally AI-annotated reports.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fogha/raiken-sub000/internal/analyze"
	"github.com/fogha/raiken-sub000/internal/artifacts"
	"github.com/fogha/raiken-sub000/internal/domain"
	"github.com/fogha/raiken-sub000/internal/paths"
)

// Caps bound per-field report sizes so documents stay readable.
type Caps struct {
	MaxScreenshots int
	MaxVideos      int
	MaxTraces      int
	MaxErrors      int
	MaxLogLines    int
}

// DefaultCaps returns the standard per-field limits.
func DefaultCaps() Caps {
	return Caps{
		MaxScreenshots: 10,
		MaxVideos:      5,
		MaxTraces:      5,
		MaxErrors:      20,
		MaxLogLines:    50,
	}
}

// Analyzer annotates failed runs. Implementations must degrade to a usable
// fallback value rather than fail the report.
type Analyzer interface {
	Analyze(ctx context.Context, req analyze.Request) (*domain.AIAnalysis, error)
}

// Assembler builds and persists TestReports.
type Assembler struct {
	root        string
	store       *Store
	analyzer    Analyzer // nil disables analysis
	caps        Caps
	aiMaxOutput int
	log         zerolog.Logger
}

// NewAssembler creates an Assembler rooted at the project root.
func NewAssembler(root string, store *Store, analyzer Analyzer, caps Caps, aiMaxOutput int, log zerolog.Logger) *Assembler {
	if aiMaxOutput <= 0 {
		aiMaxOutput = 4000
	}
	return &Assembler{
		root:        root,
		store:       store,
		analyzer:    analyzer,
		caps:        caps,
		aiMaxOutput: aiMaxOutput,
		log:         log,
	}
}

var statsObjectPattern = regexp.MustCompile(`(?s)\{.*"stats".*\}`)

// Assemble reconciles one raw execution result into a persisted report.
// It never fails: persistence errors degrade to a minimal fallback report
// so the caller always receives a report id.
func (a *Assembler) Assemble(ctx context.Context, testPath string, cfg domain.ExecutionConfig, res domain.ExecutionResult) *domain.TestReport {
	now := time.Now()
	results := a.parseResults(res)
	arts := a.extractArtifacts(results)
	arts = a.capArtifacts(arts)
	capErrors(results, a.caps.MaxErrors)
	capConsole(results, a.caps.MaxLogLines)

	r := &domain.TestReport{
		ID:        fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.New().String()[:8]),
		TestPath:  testPath,
		Timestamp: now,
		Success:   res.Success,
		Output:    res.Output,
		Error:     res.Error,
		Config:    cfg,
		Results:   results,
		Artifacts: arts,
		Summary:   summarize(res, results),
	}

	if !res.Success && a.analyzer != nil {
		r.AIAnalysis = a.annotate(ctx, r)
	}

	if err := a.store.Put(r); err != nil {
		a.log.Error().Err(err).Str("report", r.ID).Msg("report persistence failed, writing fallback")
		return a.fallbackReport(testPath, cfg, now, err)
	}
	return r
}

func (a *Assembler) fallbackReport(testPath string, cfg domain.ExecutionConfig, now time.Time, saveErr error) *domain.TestReport {
	base := strings.TrimSuffix(filepath.Base(testPath), filepath.Ext(testPath))
	base = regexp.MustCompile(`[^A-Za-z0-9._-]+`).ReplaceAllString(base, "-")
	if base == "" {
		base = "report"
	}

	fb := &domain.TestReport{
		ID:        fmt.Sprintf("%s-%d", base, now.UnixMilli()),
		TestPath:  testPath,
		Timestamp: now,
		Success:   false,
		Config:    cfg,
		Results:   map[string]any{},
		SaveError: saveErr.Error(),
		Summary:   "Report persistence failed",
	}
	// Best effort; the caller still gets a report id even if this write
	// fails too.
	if err := a.store.Put(fb); err != nil {
		a.log.Error().Err(err).Msg("fallback report write failed")
	}
	return fb
}

// parseResults parses runner output as JSON, then tries to extract an
// embedded stats object, then synthesizes a minimal stub.
func (a *Assembler) parseResults(res domain.ExecutionResult) map[string]any {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(res.Output), &parsed); err == nil && parsed != nil {
		return parsed
	}

	if match := statsObjectPattern.FindString(res.Output); match != "" {
		if err := json.Unmarshal([]byte(match), &parsed); err == nil && parsed != nil {
			return parsed
		}
	}

	return stubResults(res)
}

func stubResults(res domain.ExecutionResult) map[string]any {
	expected, unexpected := 1, 0
	if !res.Success {
		expected, unexpected = 0, 1
	}
	stub := map[string]any{
		"stats": map[string]any{
			"expected":   expected,
			"unexpected": unexpected,
		},
		"suites": []any{},
		"errors": []any{},
	}
	if res.Error != "" {
		stub["errors"] = []any{map[string]any{"message": res.Error}}
	}
	return stub
}

// extractArtifacts walks the results tree. Any node shaped like
// {path: string, name: string} is an attachment: its absolute path is
// rewritten in place to a project-relative path plus API URL, and the
// flattened artifact list gets a matching entry.
func (a *Assembler) extractArtifacts(node any) []domain.Artifact {
	var out []domain.Artifact
	a.walkArtifacts(node, &out)
	return out
}

func (a *Assembler) walkArtifacts(node any, out *[]domain.Artifact) {
	switch v := node.(type) {
	case map[string]any:
		pathStr, hasPath := v["path"].(string)
		name, hasName := v["name"].(string)
		if hasPath && hasName && pathStr != "" {
			rel := paths.RelativeTo(a.root, pathStr)
			apiURL := "/api/artifacts/" + url.PathEscape(filepath.ToSlash(rel))
			v["relativePath"] = rel
			v["url"] = apiURL
			*out = append(*out, domain.Artifact{
				Name:         name,
				ContentType:  artifacts.ContentType(pathStr),
				Path:         pathStr,
				RelativePath: rel,
				URL:          apiURL,
			})
		}
		for _, child := range v {
			a.walkArtifacts(child, out)
		}
	case []any:
		for _, child := range v {
			a.walkArtifacts(child, out)
		}
	}
}

func (a *Assembler) capArtifacts(arts []domain.Artifact) []domain.Artifact {
	limits := map[artifacts.Kind]int{
		artifacts.KindScreenshot: a.caps.MaxScreenshots,
		artifacts.KindVideo:      a.caps.MaxVideos,
		artifacts.KindTrace:      a.caps.MaxTraces,
	}
	counts := map[artifacts.Kind]int{}
	var kept []domain.Artifact
	for _, art := range arts {
		kind := artifacts.Classify(art.Path)
		if limit, bounded := limits[kind]; bounded {
			if counts[kind] >= limit {
				continue
			}
			counts[kind]++
		}
		kept = append(kept, art)
	}
	return kept
}

func capErrors(results map[string]any, max int) {
	if max <= 0 {
		return
	}
	if list, ok := results["errors"].([]any); ok && len(list) > max {
		results["errors"] = list[:max]
	}
}

// capConsole bounds every "stdout"/"stderr" array in the stored document,
// keeping the most recent lines.
func capConsole(node any, max int) {
	if max <= 0 {
		return
	}
	switch v := node.(type) {
	case map[string]any:
		for _, key := range []string{"stdout", "stderr"} {
			if list, ok := v[key].([]any); ok && len(list) > max {
				v[key] = list[len(list)-max:]
			}
		}
		for _, child := range v {
			capConsole(child, max)
		}
	case []any:
		for _, child := range v {
			capConsole(child, max)
		}
	}
}

func summarize(res domain.ExecutionResult, results map[string]any) string {
	if res.Success {
		return "Test passed successfully"
	}
	if n := len(collectErrors(results, 0)); n > 0 {
		return fmt.Sprintf("Test failed with %d error(s)", n)
	}
	return "Test failed"
}

func (a *Assembler) annotate(ctx context.Context, r *domain.TestReport) *domain.AIAnalysis {
	req := analyze.Request{
		TestPath:    r.TestPath,
		Output:      analyze.Truncate(r.Output, a.aiMaxOutput),
		Error:       analyze.Truncate(r.Error, a.aiMaxOutput/4),
		TopErrors:   collectErrors(r.Results, a.caps.MaxErrors),
		ConsoleTail: collectConsole(r.Results, a.caps.MaxLogLines),
	}
	for _, art := range r.Artifacts {
		req.Artifacts = append(req.Artifacts, art.Name)
	}

	analysis, err := a.analyzer.Analyze(ctx, req)
	if err != nil {
		a.log.Warn().Err(err).Str("test", r.TestPath).Msg("AI analysis degraded to fallback")
	}
	if analysis == nil {
		analysis = analyze.Fallback()
	}
	return analysis
}

// collectErrors gathers message strings from every "errors" array in the
// tree, capped at max (0 means unbounded).
func collectErrors(node any, max int) []string {
	var out []string
	var walk func(any)
	walk = func(n any) {
		if max > 0 && len(out) >= max {
			return
		}
		switch v := n.(type) {
		case map[string]any:
			if list, ok := v["errors"].([]any); ok {
				for _, item := range list {
					if max > 0 && len(out) >= max {
						return
					}
					if m, ok := item.(map[string]any); ok {
						if msg, ok := m["message"].(string); ok && msg != "" {
							out = append(out, msg)
						}
					} else if msg, ok := item.(string); ok && msg != "" {
						out = append(out, msg)
					}
				}
			}
			for key, child := range v {
				if key == "errors" {
					continue
				}
				walk(child)
			}
		case []any:
			for _, child := range v {
				walk(child)
			}
		}
	}
	walk(node)
	return out
}

// collectConsole gathers browser console lines from "stdout"/"stderr"
// arrays, keeping the most recent max lines.
func collectConsole(node any, max int) []string {
	var out []string
	var walk func(any)
	walk = func(n any) {
		switch v := n.(type) {
		case map[string]any:
			for _, key := range []string{"stdout", "stderr"} {
				if list, ok := v[key].([]any); ok {
					for _, item := range list {
						switch line := item.(type) {
						case string:
							out = append(out, line)
						case map[string]any:
							if text, ok := line["text"].(string); ok {
								out = append(out, text)
							}
						}
					}
				}
			}
			for key, child := range v {
				if key == "stdout" || key == "stderr" {
					continue
				}
				walk(child)
			}
		case []any:
			for _, child := range v {
				walk(child)
			}
		}
	}
	walk(node)

	if max > 0 && len(out) > max {
		out = out[len(out)-max:]
	}
	return out
}
