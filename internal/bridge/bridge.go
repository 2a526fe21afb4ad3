// Package bridge implements the command surface shared by both
// transports. The direct HTTP server and the relay client are thin
// envelope adapters over one Handler.
package bridge

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/fogha/raiken-sub000/internal/domain"
	"github.com/fogha/raiken-sub000/internal/history"
	"github.com/fogha/raiken-sub000/internal/report"
	"github.com/fogha/raiken-sub000/internal/runner"
	"github.com/fogha/raiken-sub000/internal/testfiles"
)

// Handler executes bridge commands against the local project.
type Handler struct {
	files     *testfiles.Store
	runner    *runner.Runner
	assembler *report.Assembler
	reports   *report.Store
	ledger    *history.Ledger // nil disables the ledger
	log       zerolog.Logger
}

// New creates a Handler.
func New(files *testfiles.Store, r *runner.Runner, assembler *report.Assembler, reports *report.Store, ledger *history.Ledger, log zerolog.Logger) *Handler {
	return &Handler{
		files:     files,
		runner:    r,
		assembler: assembler,
		reports:   reports,
		ledger:    ledger,
		log:       log,
	}
}

// SaveTest writes a test file and returns its project-relative path.
func (h *Handler) SaveTest(ctx context.Context, content, filename string) (string, error) {
	return h.files.Save(content, filename)
}

// DeleteTest removes a test file, refusing paths outside the project root.
func (h *Handler) DeleteTest(ctx context.Context, testPath string) error {
	return h.files.Delete(testPath)
}

// GetTestFiles lists the project's test files.
func (h *Handler) GetTestFiles(ctx context.Context) ([]domain.TestFile, error) {
	return h.files.List()
}

// ExecuteTest runs one test and returns the raw result plus the id of the
// report assembled from it. Bridge-operation failures (validation,
// security, missing file, unavailable runner) return an error; test
// failures are carried inside the result.
func (h *Handler) ExecuteTest(ctx context.Context, testPath string, cfg domain.ExecutionConfig) (domain.ExecutionResult, string, error) {
	started := time.Now()

	res, err := h.runner.Execute(ctx, testPath, cfg)
	if err != nil {
		return domain.ExecutionResult{}, "", err
	}

	r := h.assembler.Assemble(ctx, testPath, cfg, res)
	h.recordHistory(ctx, r, started)
	return res, r.ID, nil
}

func (h *Handler) recordHistory(ctx context.Context, r *domain.TestReport, started time.Time) {
	if h.ledger == nil {
		return
	}
	err := h.ledger.Record(ctx, history.Entry{
		ReportID:   r.ID,
		TestPath:   r.TestPath,
		Success:    r.Success,
		DurationMs: time.Since(started).Milliseconds(),
		StartedAt:  started,
	})
	if err != nil {
		h.log.Warn().Err(err).Str("report", r.ID).Msg("history record failed")
	}
}

// GetReports lists persisted reports, newest first.
func (h *Handler) GetReports(ctx context.Context) ([]domain.TestReport, error) {
	return h.reports.List()
}

// GetReport reads a single report.
func (h *Handler) GetReport(ctx context.Context, id string) (*domain.TestReport, error) {
	return h.reports.Get(id)
}

// DeleteReport removes a single report document.
func (h *Handler) DeleteReport(ctx context.Context, id string) error {
	return h.reports.Delete(id)
}

// Busy reports whether an execution for the test path is in flight.
func (h *Handler) Busy(testPath string) bool {
	return h.runner.Busy(testPath)
}

// History returns recent ledger entries with aggregate stats. With the
// ledger disabled it returns empty values.
func (h *Handler) History(ctx context.Context, limit int) ([]history.Entry, history.Stats, error) {
	if h.ledger == nil {
		return nil, history.Stats{}, nil
	}
	entries, err := h.ledger.Recent(ctx, limit)
	if err != nil {
		return nil, history.Stats{}, err
	}
	stats, err := h.ledger.Summary(ctx)
	if err != nil {
		return nil, history.Stats{}, err
	}
	return entries, stats, nil
}

// Ping answers a liveness probe.
func (h *Handler) Ping(ctx context.Context) map[string]any {
	return map[string]any{"pong": true, "ts": time.Now().UnixMilli()}
}
