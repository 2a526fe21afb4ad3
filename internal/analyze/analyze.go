// Package analyze asks an external completion service to annotate failed
// runs. Analysis is strictly best-effort: every failure path degrades to a
// static fallback so a report is never lost to a flaky AI call.
package analyze

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/fogha/raiken-sub000/internal/domain"
)

// Request is the bounded analysis input assembled from a failed run.
type Request struct {
	TestPath    string
	Output      string   // already truncated to the configured budget
	Error       string   // already truncated to the configured budget
	TopErrors   []string // parsed runner errors, capped
	ConsoleTail []string // recent browser console lines, capped
	Artifacts   []string // recent artifact names
}

// Client calls an OpenAI-compatible chat-completions endpoint.
type Client struct {
	apiURL  string
	apiKey  string
	model   string
	timeout time.Duration
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates an analysis client.
func NewClient(apiURL, apiKey, model string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		apiURL:  apiURL,
		apiKey:  apiKey,
		model:   model,
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// Fallback is returned whenever analysis cannot be produced.
func Fallback() *domain.AIAnalysis {
	return &domain.AIAnalysis{
		RootCause: "AI analysis unavailable",
		Recommendations: []string{
			"Review the raw runner output attached to this report",
			"Inspect screenshots and traces for the failing step",
			"Re-run the test with a headed browser to observe the failure",
		},
		Confidence: 0,
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Analyze sends the bounded request and parses the JSON reply. Missing
// key, transport errors and malformed replies all return the fallback
// together with the underlying error for logging.
func (c *Client) Analyze(ctx context.Context, req Request) (*domain.AIAnalysis, error) {
	if c.apiKey == "" {
		return Fallback(), fmt.Errorf("analysis api key not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(req)},
		},
		Temperature:    0.2,
		ResponseFormat: &respFormat{Type: "json_object"},
	})
	if err != nil {
		return Fallback(), fmt.Errorf("marshal analysis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return Fallback(), fmt.Errorf("build analysis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Fallback(), fmt.Errorf("analysis call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Fallback(), fmt.Errorf("analysis call: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var reply chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return Fallback(), fmt.Errorf("decode analysis reply: %w", err)
	}
	if len(reply.Choices) == 0 {
		return Fallback(), fmt.Errorf("analysis reply has no choices")
	}

	var analysis domain.AIAnalysis
	if err := json.Unmarshal([]byte(reply.Choices[0].Message.Content), &analysis); err != nil {
		return Fallback(), fmt.Errorf("parse analysis content: %w", err)
	}
	if analysis.RootCause == "" {
		return Fallback(), fmt.Errorf("analysis content missing rootCause")
	}
	if analysis.Confidence < 0 || analysis.Confidence > 1 {
		analysis.Confidence = 0
	}
	return &analysis, nil
}

const systemPrompt = `You are a browser-test failure analyst. Reply with a JSON object:
{"rootCause": string, "recommendations": [string], "confidence": number between 0 and 1}`

func buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Test: %s\n\n", req.TestPath)
	if req.Error != "" {
		fmt.Fprintf(&b, "Error:\n%s\n\n", req.Error)
	}
	if len(req.TopErrors) > 0 {
		b.WriteString("Parsed errors:\n")
		for _, e := range req.TopErrors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
		b.WriteString("\n")
	}
	if len(req.ConsoleTail) > 0 {
		b.WriteString("Recent console output:\n")
		for _, line := range req.ConsoleTail {
			fmt.Fprintf(&b, "  %s\n", line)
		}
		b.WriteString("\n")
	}
	if len(req.Artifacts) > 0 {
		fmt.Fprintf(&b, "Artifacts: %s\n\n", strings.Join(req.Artifacts, ", "))
	}
	if req.Output != "" {
		fmt.Fprintf(&b, "Runner output (truncated):\n%s\n", req.Output)
	}
	return b.String()
}

// Truncate caps s to at most max bytes, marking the cut. The cut backs up
// to a rune boundary so a multi-byte character is never split.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n...[truncated]"
}
