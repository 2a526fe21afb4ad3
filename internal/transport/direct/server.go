// Package direct implements the direct-mode HTTP transport: the remote
// caller connects straight to the bridge's HTTP server.
package direct

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/fogha/raiken-sub000/internal/artifacts"
	"github.com/fogha/raiken-sub000/internal/bridge"
	"github.com/fogha/raiken-sub000/internal/domain"
	"github.com/fogha/raiken-sub000/internal/errs"
	"github.com/fogha/raiken-sub000/internal/project"
	"github.com/fogha/raiken-sub000/internal/session"
)

// Origins always allowed, in addition to configured ones.
var builtinOrigins = []string{
	"http://localhost:3000",
	"http://127.0.0.1:3000",
	"https://app.raiken.dev",
}

// Options configures the direct server.
type Options struct {
	Port         int
	PortAttempts int
	BasePath     string
	ProjectRoot  string
	ExtraOrigins []string

	// ResponseTimeout bounds the execute handler independently of the
	// runner's own timers, so an HTTP client always gets an answer.
	ResponseTimeout time.Duration
}

// Server is the direct-mode HTTP front end.
type Server struct {
	echo    *echo.Echo
	opts    Options
	sess    *session.Session
	handler *bridge.Handler
	info    project.Info
	log     zerolog.Logger

	startedAt time.Time
	port      int // actual bound port
}

// NewServer wires the echo instance: request logging, then the auth gate,
// then the route handlers.
func NewServer(opts Options, sess *session.Session, handler *bridge.Handler, info project.Info, log zerolog.Logger) *Server {
	if opts.BasePath == "" {
		opts.BasePath = "/api"
	}
	if opts.PortAttempts <= 0 {
		opts.PortAttempts = 10
	}
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = 3*time.Minute + 30*time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		opts:      opts,
		sess:      sess,
		handler:   handler,
		info:      info,
		log:       log,
		startedAt: time.Now(),
		port:      opts.Port,
	}

	e.Use(middleware.Recover())
	e.Use(s.requestLogger)
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: append(append([]string{}, builtinOrigins...), opts.ExtraOrigins...),
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType},
	}))
	e.Use(s.authGate)

	base := e.Group(opts.BasePath)
	base.GET("/health", s.handleHealth)
	base.GET("/project-info", s.handleProjectInfo)
	base.GET("/test-files", s.handleTestFiles)
	base.POST("/save-test", s.handleSaveTest)
	base.DELETE("/delete-test", s.handleDeleteTest)
	base.POST("/execute-test", s.handleExecuteTest)
	base.GET("/execute-status", s.handleExecuteStatus)
	base.GET("/reports", s.handleReports)
	base.GET("/reports/:id", s.handleGetReport)
	base.DELETE("/reports/:id", s.handleDeleteReport)
	base.GET("/history", s.handleHistory)
	base.GET("/artifacts/*", s.handleArtifact)

	return s
}

// Start binds the requested port, probing a fixed fallback range when it
// is occupied, prints the token once for manual pairing and serves.
func (s *Server) Start() error {
	ln, port, err := s.listen()
	if err != nil {
		return err
	}
	s.port = port
	s.echo.Listener = ln

	// The only distribution channel for the credential in direct mode.
	fmt.Fprintf(os.Stdout, "Bridge token: %s\n", s.sess.Token)
	s.log.Info().Int("port", port).Msg("direct server listening")

	return s.echo.Start("")
}

func (s *Server) listen() (net.Listener, int, error) {
	for port := s.opts.Port; port < s.opts.Port+s.opts.PortAttempts; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			if port != s.opts.Port {
				s.log.Warn().Int("requested", s.opts.Port).Int("bound", port).Msg("requested port occupied, using fallback")
			}
			return ln, port, nil
		}
	}
	return nil, 0, fmt.Errorf("no free port in %d-%d", s.opts.Port, s.opts.Port+s.opts.PortAttempts-1)
}

// Port returns the bound port.
func (s *Server) Port() int {
	return s.port
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		s.log.Debug().
			Str("method", c.Request().Method).
			Str("path", c.Request().URL.Path).
			Int("status", c.Response().Status).
			Dur("took", time.Since(start)).
			Msg("request")
		return err
	}
}

// authGate requires a well-formed bearer token on every route except
// health, project-info and artifact serving.
func (s *Server) authGate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.authExempt(c.Request().URL.Path) {
			return next(c)
		}

		header := c.Request().Header.Get(echo.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			return c.JSON(http.StatusUnauthorized, map[string]any{
				"success": false,
				"error":   "missing bearer token",
			})
		}
		if err := s.sess.Validate(token); err != nil {
			return c.JSON(http.StatusUnauthorized, map[string]any{
				"success": false,
				"error":   err.Error(),
			})
		}
		return next(c)
	}
}

func (s *Server) authExempt(path string) bool {
	base := s.opts.BasePath
	return path == base+"/health" ||
		path == base+"/project-info" ||
		strings.HasPrefix(path, base+"/artifacts/")
}

func (s *Server) handleHealth(c echo.Context) error {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return c.JSON(http.StatusOK, map[string]any{
		"status":        "healthy",
		"uptimeSeconds": int64(time.Since(s.startedAt).Seconds()),
		"memoryBytes":   mem.Alloc,
		"port":          s.port,
	})
}

func (s *Server) handleProjectInfo(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"project": s.info,
		"token":   s.sess.Token,
		"capabilities": []string{
			"saveTest", "executeTest", "getTestFiles",
			"getReports", "deleteReport", "deleteTest",
			"artifacts", "history",
		},
	})
}

func (s *Server) handleTestFiles(c echo.Context) error {
	files, err := s.handler.GetTestFiles(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	if files == nil {
		files = []domain.TestFile{}
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "files": files})
}

type saveTestRequest struct {
	Content  string `json:"content"`
	Filename string `json:"filename"`
	Name     string `json:"name"`
	TabID    string `json:"tabId"`
}

func (s *Server) handleSaveTest(c echo.Context) error {
	var req saveTestRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, fmt.Errorf("%w: invalid request body", errs.ErrValidation))
	}

	filename := req.Filename
	if filename == "" {
		filename = req.Name
	}

	path, err := s.handler.SaveTest(c.Request().Context(), req.Content, filename)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":  true,
		"path":     path,
		"filePath": path,
	})
}

type deleteTestRequest struct {
	TestPath string `json:"testPath"`
}

func (s *Server) handleDeleteTest(c echo.Context) error {
	var req deleteTestRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, fmt.Errorf("%w: invalid request body", errs.ErrValidation))
	}
	if err := s.handler.DeleteTest(c.Request().Context(), req.TestPath); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

type executeTestRequest struct {
	TestPath string                 `json:"testPath"`
	Config   domain.ExecutionConfig `json:"config"`
}

type executeOutcome struct {
	res      domain.ExecutionResult
	reportID string
	err      error
}

func (s *Server) handleExecuteTest(c echo.Context) error {
	var req executeTestRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, fmt.Errorf("%w: invalid request body", errs.ErrValidation))
	}

	// The execution outlives the request: after a safety-timeout response
	// or a client disconnect the run keeps going and still produces a
	// report, so cancellation must not propagate from the request context.
	ctx := context.WithoutCancel(c.Request().Context())
	done := make(chan executeOutcome, 1)
	go func() {
		res, reportID, err := s.handler.ExecuteTest(ctx, req.TestPath, req.Config)
		done <- executeOutcome{res: res, reportID: reportID, err: err}
	}()

	// The safety timeout is independent of the runner's own timers: even
	// if those misbehave, the HTTP client is never left hanging.
	select {
	case out := <-done:
		if out.err != nil {
			return s.fail(c, out.err)
		}
		return c.JSON(http.StatusOK, map[string]any{
			"success":  out.res.Success,
			"output":   out.res.Output,
			"error":    out.res.Error,
			"reportId": out.reportID,
		})
	case <-time.After(s.opts.ResponseTimeout):
		return c.JSON(http.StatusGatewayTimeout, map[string]any{
			"success": false,
			"error":   "execution did not answer within the response timeout",
		})
	}
}

// handleExecuteStatus reports whether an execution for the given test
// path is in flight. Overlapping executions of the same path queue
// behind the running one, so callers can poll this before submitting.
func (s *Server) handleExecuteStatus(c echo.Context) error {
	testPath := c.QueryParam("testPath")
	if testPath == "" {
		return s.fail(c, fmt.Errorf("%w: testPath is required", errs.ErrValidation))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"busy":    s.handler.Busy(testPath),
	})
}

func (s *Server) handleReports(c echo.Context) error {
	reports, err := s.handler.GetReports(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	if reports == nil {
		reports = []domain.TestReport{}
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "reports": reports})
}

func (s *Server) handleGetReport(c echo.Context) error {
	r, err := s.handler.GetReport(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "report": r})
}

func (s *Server) handleDeleteReport(c echo.Context) error {
	if err := s.handler.DeleteReport(c.Request().Context(), c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleHistory(c echo.Context) error {
	entries, stats, err := s.handler.History(c.Request().Context(), 50)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "entries": entries, "stats": stats})
}

func (s *Server) handleArtifact(c echo.Context) error {
	rel, err := url.PathUnescape(c.Param("*"))
	if err != nil {
		return s.fail(c, fmt.Errorf("%w: malformed artifact path", errs.ErrValidation))
	}

	abs, err := artifacts.Resolve(s.opts.ProjectRoot, rel)
	if err != nil {
		return s.fail(c, err)
	}

	f, err := os.Open(abs)
	if err != nil {
		return s.fail(c, fmt.Errorf("%w: artifact %q", errs.ErrNotFound, rel))
	}
	defer f.Close()

	c.Response().Header().Set("Cache-Control", artifacts.CacheControl)
	return c.Stream(http.StatusOK, artifacts.ContentType(abs), f)
}

// fail maps taxonomy errors onto status codes. The body always carries
// success plus an error string.
func (s *Server) fail(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, errs.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errs.ErrSecurity):
		status = http.StatusForbidden
	case errors.Is(err, errs.ErrRunnerUnavailable):
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, map[string]any{"success": false, "error": err.Error()})
}
