// Package runner supervises the browser-test runner subprocess.
//
// One execution walks a fixed sequence: validate, resolve, prepare the
// report directory, preflight the runner, spawn, stream output until the
// reporter's JSON object closes, then reconcile the exit. Three timers
// bound a run: the preflight timeout, a grace period after complete JSON
// output (the runner sometimes hangs after reporting), and a hard ceiling
// that always wins.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fogha/raiken-sub000/internal/domain"
	"github.com/fogha/raiken-sub000/internal/errs"
	"github.com/fogha/raiken-sub000/internal/paths"
	"github.com/fogha/raiken-sub000/internal/testfiles"
)

// Options configures a Runner.
type Options struct {
	ProjectRoot string
	TestDir     string
	ReportsDir  string // absolute; kept separate from the runner's own output dir

	Bin      string   // e.g. "npx"
	BaseArgs []string // e.g. ["playwright"]

	PreflightTimeout time.Duration
	GracePeriod      time.Duration
	HardTimeout      time.Duration
}

func (o *Options) fillDefaults() {
	if o.PreflightTimeout <= 0 {
		o.PreflightTimeout = 5 * time.Second
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = 5 * time.Second
	}
	if o.HardTimeout <= 0 {
		o.HardTimeout = 3 * time.Minute
	}
}

// Runner executes test files via the external runner binary.
type Runner struct {
	opts  Options
	files *testfiles.Store
	log   zerolog.Logger

	// Overlapping executions of the same resolved path serialize on a
	// per-path mutex; distinct paths run concurrently.
	locksMu sync.Mutex
	locks   map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	busy bool
}

// New creates a Runner.
func New(opts Options, files *testfiles.Store, log zerolog.Logger) *Runner {
	opts.fillDefaults()
	return &Runner{
		opts:  opts,
		files: files,
		log:   log,
		locks: make(map[string]*pathLock),
	}
}

// Busy reports whether an execution for the given test path is in flight.
func (r *Runner) Busy(testPath string) bool {
	abs, err := r.resolve(testPath)
	if err != nil {
		return false
	}
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.locks[abs]
	return ok && l.busy
}

// Preflight spawns the runner with a version-check flag. A non-zero exit
// or timeout means the runner is unavailable.
func (r *Runner) Preflight(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.opts.PreflightTimeout)
	defer cancel()

	args := append(append([]string{}, r.opts.BaseArgs...), "--version")
	cmd := exec.CommandContext(ctx, r.opts.Bin, args...)
	cmd.Dir = r.opts.ProjectRoot

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", errs.ErrRunnerUnavailable, firstLine(out, err))
	}
	r.log.Debug().Str("version", strings.TrimSpace(string(out))).Msg("runner preflight ok")
	return nil
}

// Execute runs one test file and returns the raw subprocess outcome.
// Validation, resolution and preflight failures return an error; runner
// failures and timeouts are captured into the result instead.
func (r *Runner) Execute(ctx context.Context, testPath string, cfg domain.ExecutionConfig) (domain.ExecutionResult, error) {
	// Step 1: validate.
	if strings.TrimSpace(testPath) == "" {
		return domain.ExecutionResult{}, fmt.Errorf("%w: testPath is required", errs.ErrValidation)
	}
	if !cfg.ValidBrowser() {
		return domain.ExecutionResult{}, fmt.Errorf("%w: unknown browser type %q", errs.ErrValidation, cfg.BrowserType)
	}

	// Step 2: resolve.
	abs, err := r.resolve(testPath)
	if err != nil {
		return domain.ExecutionResult{}, err
	}

	lock := r.lockFor(abs)
	lock.mu.Lock()
	lock.busy = true
	defer func() {
		lock.busy = false
		lock.mu.Unlock()
	}()

	// Step 3: the report directory must exist before the run so the
	// runner's own cleanup cannot take reports down with it.
	if err := os.MkdirAll(r.opts.ReportsDir, 0o755); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("prepare report directory: %w", err)
	}

	// Step 4: preflight.
	if err := r.Preflight(ctx); err != nil {
		return domain.ExecutionResult{}, err
	}

	// Steps 5-7: spawn, stream, reconcile exit.
	return r.run(ctx, abs, cfg), nil
}

func (r *Runner) resolve(testPath string) (string, error) {
	if filepath.Dir(testPath) == "." {
		// Bare filename: look it up inside the test directory.
		return r.files.FindByName(testPath)
	}

	abs, err := paths.Resolve(r.opts.ProjectRoot, testPath)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("%w: test file %q", errs.ErrNotFound, testPath)
	}
	return abs, nil
}

func (r *Runner) lockFor(abs string) *pathLock {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.locks[abs]
	if !ok {
		l = &pathLock{}
		r.locks[abs] = l
	}
	return l
}

func (r *Runner) run(ctx context.Context, abs string, cfg domain.ExecutionConfig) domain.ExecutionResult {
	args := append(append([]string{}, r.opts.BaseArgs...), "test", abs, "--reporter=json")
	args = append(args, execFlags(cfg)...)

	cmd := exec.Command(r.opts.Bin, args...)
	cmd.Dir = r.opts.ProjectRoot

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return failure("", fmt.Sprintf("attach stdout: %v", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return failure("", fmt.Sprintf("attach stderr: %v", err))
	}

	r.log.Info().Str("test", abs).Str("browser", cfg.BrowserType).Bool("headless", cfg.IsHeadless()).Msg("spawning runner")

	if err := cmd.Start(); err != nil {
		return failure("", fmt.Sprintf("spawn runner: %v", err))
	}

	var (
		mu       sync.Mutex
		outBuf   bytes.Buffer
		errBuf   bytes.Buffer
		scanner  = newObjectScanner()
		jsonDone = make(chan struct{})
		readers  sync.WaitGroup
	)

	// Step 6: accumulate output incrementally; the scanner turns "the
	// reporter finished" into an explicit event.
	readers.Add(2)
	go func() {
		defer readers.Done()
		buf := make([]byte, 4096)
		for {
			n, readErr := stdout.Read(buf)
			if n > 0 {
				mu.Lock()
				outBuf.Write(buf[:n])
				if scanner.Feed(buf[:n]) {
					select {
					case <-jsonDone:
					default:
						close(jsonDone)
					}
				}
				mu.Unlock()
			}
			if readErr != nil {
				return
			}
		}
	}()
	go func() {
		defer readers.Done()
		buf := make([]byte, 4096)
		for {
			n, readErr := stderr.Read(buf)
			if n > 0 {
				mu.Lock()
				errBuf.Write(buf[:n])
				mu.Unlock()
			}
			if readErr != nil {
				return
			}
		}
	}()

	waitCh := make(chan error, 1)
	procDone := make(chan struct{})
	go func() {
		readers.Wait()
		waitCh <- cmd.Wait()
		close(procDone)
	}()

	// Grace timer: once the JSON is complete the data is trustworthy;
	// kill the process if it lingers past the grace period.
	go func() {
		select {
		case <-jsonDone:
			grace := time.AfterFunc(r.opts.GracePeriod, func() {
				r.log.Warn().Str("test", abs).Msg("runner hung after complete output, killing")
				_ = cmd.Process.Kill()
			})
			defer grace.Stop()
			<-procDone
		case <-procDone:
		}
	}()

	// Step 7: the hard ceiling always wins.
	hard := time.NewTimer(r.opts.HardTimeout)
	defer hard.Stop()

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-waitCh:
	case <-hard.C:
		timedOut = true
		_ = cmd.Process.Kill()
		waitErr = <-waitCh
	case <-ctx.Done():
		timedOut = true
		_ = cmd.Process.Kill()
		waitErr = <-waitCh
	}

	mu.Lock()
	output := outBuf.String()
	errOutput := errBuf.String()
	mu.Unlock()

	jsonComplete := false
	select {
	case <-jsonDone:
		jsonComplete = true
	default:
	}

	switch {
	case timedOut && jsonComplete:
		// Complete output makes the run trustworthy even though the
		// process had to be killed.
		return domain.ExecutionResult{Success: true, Output: output}
	case timedOut:
		return failure(output, fmt.Sprintf("%v after %s", errs.ErrExecutionTimeout, r.opts.HardTimeout))
	case waitErr == nil:
		return domain.ExecutionResult{Success: true, Output: output}
	}

	if _, ok := waitErr.(*exec.ExitError); ok && exitedBySignal(waitErr) && jsonComplete {
		// Grace kill after complete JSON: exit code is gone but the
		// report data is intact.
		return domain.ExecutionResult{Success: true, Output: output}
	}

	detail := strings.TrimSpace(errOutput)
	if detail == "" {
		detail = strings.TrimSpace(output)
	}
	if detail == "" {
		detail = waitErr.Error()
	}
	return failure(output, detail)
}

func execFlags(cfg domain.ExecutionConfig) []string {
	browser := cfg.BrowserType
	if browser == "" {
		browser = domain.BrowserChromium
	}
	flags := []string{"--project=" + browser}
	if !cfg.IsHeadless() {
		flags = append(flags, "--headed")
	}
	if cfg.Retries > 0 {
		flags = append(flags, fmt.Sprintf("--retries=%d", cfg.Retries))
	}
	if cfg.Timeout > 0 {
		flags = append(flags, fmt.Sprintf("--timeout=%d", cfg.Timeout))
	}
	return flags
}

func exitedBySignal(err error) bool {
	exitErr, ok := err.(*exec.ExitError)
	return ok && exitErr.ExitCode() == -1
}

func failure(output, detail string) domain.ExecutionResult {
	return domain.ExecutionResult{Success: false, Output: output, Error: detail}
}

func firstLine(out []byte, fallback error) string {
	text := strings.TrimSpace(string(out))
	if text == "" {
		return fallback.Error()
	}
	if idx := strings.IndexByte(text, '\n'); idx > 0 {
		text = text[:idx]
	}
	return text
}
