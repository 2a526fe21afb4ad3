// Package config provides configuration for the bridge.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds the bridge configuration.
type Config struct {
	// Server settings
	HTTPPort     int // requested direct-mode port
	PortAttempts int // fallback ports probed after HTTPPort
	BasePath     string

	// Project layout
	ProjectRoot string
	TestDir     string // relative to ProjectRoot
	ReportsDir  string // relative to ProjectRoot, outside the runner's own output dir

	// Execution history ledger
	HistoryDSN string

	// CORS
	ExtraOrigins []string

	// Relay settings
	RelayURL         string
	RelaySessionID   string
	RelayHandshake   time.Duration
	RelayPingEvery   time.Duration
	ReconnectDelay   time.Duration
	ReconnectMaxWait time.Duration

	// Runner settings
	RunnerBin        string
	RunnerArgs       []string // leading args before the runner verb, e.g. ["playwright"]
	PreflightTimeout time.Duration
	GracePeriod      time.Duration
	HardTimeout      time.Duration
	ResponseTimeout  time.Duration // direct-mode safety timeout on execute

	// AI analysis
	AIEnabled     bool
	AIAPIURL      string
	AIAPIKey      string
	AIModel       string
	AITimeout     time.Duration
	AIMaxOutput   int // char budget for raw output in the prompt
	AIMaxErrors   int
	AIMaxLogLines int

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	root := getEnv("PROJECT_ROOT", ".")
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}

	return &Config{
		HTTPPort:     getEnvInt("BRIDGE_PORT", 3001),
		PortAttempts: getEnvInt("BRIDGE_PORT_ATTEMPTS", 10),
		BasePath:     getEnv("BRIDGE_BASE_PATH", "/api"),

		ProjectRoot: root,
		TestDir:     getEnv("TEST_DIR", "tests"),
		ReportsDir:  getEnv("REPORTS_DIR", filepath.Join(".raiken", "reports")),

		HistoryDSN: getEnv("HISTORY_DSN", "file:"+filepath.Join(root, ".raiken", "history.db")+"?cache=shared&mode=rwc"),

		ExtraOrigins: splitList(getEnv("CORS_ORIGINS", "")),

		RelayURL:         getEnv("RELAY_URL", "wss://relay.raiken.dev/ws"),
		RelaySessionID:   getEnv("RELAY_SESSION_ID", ""),
		RelayHandshake:   getEnvDuration("RELAY_HANDSHAKE_TIMEOUT_MS", 10*time.Second),
		RelayPingEvery:   getEnvDuration("RELAY_PING_INTERVAL_MS", 30*time.Second),
		ReconnectDelay:   getEnvDuration("RELAY_RECONNECT_DELAY_MS", 5*time.Second),
		ReconnectMaxWait: getEnvDuration("RELAY_RECONNECT_MAX_MS", 60*time.Second),

		RunnerBin:        getEnv("RUNNER_BIN", "npx"),
		RunnerArgs:       splitList(getEnv("RUNNER_ARGS", "playwright")),
		PreflightTimeout: getEnvDuration("PREFLIGHT_TIMEOUT_MS", 5*time.Second),
		GracePeriod:      getEnvDuration("GRACE_PERIOD_MS", 5*time.Second),
		HardTimeout:      getEnvDuration("HARD_TIMEOUT_MS", 3*time.Minute),
		ResponseTimeout:  getEnvDuration("RESPONSE_TIMEOUT_MS", 3*time.Minute+30*time.Second),

		AIEnabled:     getEnv("AI_ANALYSIS", "") == "true",
		AIAPIURL:      getEnv("AI_API_URL", "https://api.openai.com/v1/chat/completions"),
		AIAPIKey:      getEnv("AI_API_KEY", ""),
		AIModel:       getEnv("AI_MODEL", "gpt-4o-mini"),
		AITimeout:     getEnvDuration("AI_TIMEOUT_MS", 30*time.Second),
		AIMaxOutput:   getEnvInt("AI_MAX_OUTPUT_CHARS", 4000),
		AIMaxErrors:   getEnvInt("AI_MAX_ERRORS", 5),
		AIMaxLogLines: getEnvInt("AI_MAX_LOG_LINES", 20),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// AbsTestDir returns the absolute test directory.
func (c *Config) AbsTestDir() string {
	return filepath.Join(c.ProjectRoot, c.TestDir)
}

// AbsReportsDir returns the absolute reports directory.
func (c *Config) AbsReportsDir() string {
	return filepath.Join(c.ProjectRoot, c.ReportsDir)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}

func splitList(val string) []string {
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
