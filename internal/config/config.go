// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// CompletionConfig holds the text-completion provider settings.
type CompletionConfig struct {
	APIURL              string  // provider endpoint (empty enables the stub provider)
	APIKey              string  // provider credential
	Model               string  // model identifier stamped onto usage records
	MaxCompletionTokens int     // per-call completion budget (default 700)
	ContextTokenBudget  int     // schema context budget inside the prompt (default 1500)
	PromptCostPer1K     float64 // USD per 1000 prompt tokens
	CompletionCostPer1K float64 // USD per 1000 completion tokens
}

// Configured returns true when a real provider endpoint is set.
func (c *CompletionConfig) Configured() bool {
	return c.APIURL != ""
}

// Config holds the configuration for the query pipeline and its HTTP API.
type Config struct {
	MetaDBPath string // path to SQLite metadata file (usage log, query history)
	ListenAddr string // HTTP listen address (default ":8080")
	LogLevel   string // log level: debug, info, warn, error (default "info")
	Env        string // environment: "development" (default) or "production"

	// Target databases: comma-separated id=dsn pairs, e.g.
	// "demo=demo.duckdb,sales=/data/sales.duckdb".
	TargetDSNs map[string]string

	// SimulationMode serves deterministic synthetic results instead of
	// dispatching to a live target. Forced on when no targets are set.
	SimulationMode bool

	// Pipeline tuning.
	ResultCacheCapacity int           // LRU entries (default 100)
	SchemaTTL           time.Duration // snapshot lifetime (default 10m)
	SchemaProbeTimeout  time.Duration // per-introspection bound (default 5s)
	ExecTimeout         time.Duration // per-query bound (default 15s)
	MaxRows             int           // result truncation point (default 1000)
	MaxJoins            int           // complexity ceiling (default 8)
	MaxNestingDepth     int           // subquery depth ceiling (default 4)
	DenylistExtra       []string      // site-specific denylisted tokens
	PatternLibraryPath  string        // YAML pattern file; empty uses built-ins

	// Per-user token ceilings.
	HourlyTokens  int64 // default 10000
	DailyTokens   int64 // default 50000
	MonthlyTokens int64 // default 500000

	// Usage log retention, pruned by the maintenance scheduler.
	UsageRetentionDays int // default 90

	// Rate limiting (request-level, in front of the pipeline).
	RateLimitRPS   float64 // sustained requests per second (default 100)
	RateLimitBurst int     // burst capacity (default 200)

	// CORS
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])

	// Completion holds provider configuration.
	Completion CompletionConfig

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadFromEnv loads configuration from environment variables. Target and
// provider variables are optional — without them the server starts in
// simulation mode with the stub provider.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		MetaDBPath:         os.Getenv("META_DB_PATH"),
		ListenAddr:         os.Getenv("LISTEN_ADDR"),
		LogLevel:           os.Getenv("LOG_LEVEL"),
		Env:                os.Getenv("ENV"),
		PatternLibraryPath: os.Getenv("PATTERN_LIBRARY_PATH"),
		SimulationMode:     parseBoolEnvDefault("SIMULATION_MODE", false),
	}

	if v := os.Getenv("TARGET_DSNS"); v != "" {
		targets, err := parseTargets(v)
		if err != nil {
			return nil, err
		}
		cfg.TargetDSNs = targets
	}

	// Pipeline tuning
	cfg.ResultCacheCapacity = parseIntEnv("RESULT_CACHE_CAPACITY")
	cfg.MaxRows = parseIntEnv("MAX_ROWS")
	cfg.MaxJoins = parseIntEnv("MAX_JOINS")
	cfg.MaxNestingDepth = parseIntEnv("MAX_NESTING_DEPTH")
	cfg.SchemaTTL = parseDurationEnv("SCHEMA_TTL")
	cfg.SchemaProbeTimeout = parseDurationEnv("SCHEMA_PROBE_TIMEOUT")
	cfg.ExecTimeout = parseDurationEnv("EXEC_TIMEOUT")
	if v := os.Getenv("DENYLIST_EXTRA"); v != "" {
		cfg.DenylistExtra = compactNonEmpty(splitTrimmed(v))
	}

	// Token ceilings
	cfg.HourlyTokens = parseInt64Env("HOURLY_TOKENS")
	cfg.DailyTokens = parseInt64Env("DAILY_TOKENS")
	cfg.MonthlyTokens = parseInt64Env("MONTHLY_TOKENS")
	cfg.UsageRetentionDays = parseIntEnv("USAGE_RETENTION_DAYS")

	// Rate limiting
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	cfg.RateLimitBurst = parseIntEnv("RATE_LIMIT_BURST")

	// CORS
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = splitTrimmed(v)
	}

	// Completion provider
	cfg.Completion = CompletionConfig{
		APIURL:              os.Getenv("COMPLETION_API_URL"),
		APIKey:              os.Getenv("COMPLETION_API_KEY"),
		Model:               os.Getenv("COMPLETION_MODEL"),
		MaxCompletionTokens: parseIntEnv("COMPLETION_MAX_TOKENS"),
		ContextTokenBudget:  parseIntEnv("COMPLETION_CONTEXT_BUDGET"),
	}
	if v := os.Getenv("COMPLETION_PROMPT_COST_PER_1K"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Completion.PromptCostPer1K = f
		}
	}
	if v := os.Getenv("COMPLETION_COMPLETION_COST_PER_1K"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Completion.CompletionCostPer1K = f
		}
	}

	// Defaults
	if cfg.MetaDBPath == "" {
		cfg.MetaDBPath = "askdb_meta.sqlite"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.ResultCacheCapacity == 0 {
		cfg.ResultCacheCapacity = 100
	}
	if cfg.SchemaTTL == 0 {
		cfg.SchemaTTL = 10 * time.Minute
	}
	if cfg.SchemaProbeTimeout == 0 {
		cfg.SchemaProbeTimeout = 5 * time.Second
	}
	if cfg.ExecTimeout == 0 {
		cfg.ExecTimeout = 15 * time.Second
	}
	if cfg.MaxRows == 0 {
		cfg.MaxRows = 1000
	}
	if cfg.MaxJoins == 0 {
		cfg.MaxJoins = 8
	}
	if cfg.MaxNestingDepth == 0 {
		cfg.MaxNestingDepth = 4
	}
	if cfg.HourlyTokens == 0 {
		cfg.HourlyTokens = 10_000
	}
	if cfg.DailyTokens == 0 {
		cfg.DailyTokens = 50_000
	}
	if cfg.MonthlyTokens == 0 {
		cfg.MonthlyTokens = 500_000
	}
	if cfg.UsageRetentionDays == 0 {
		cfg.UsageRetentionDays = 90
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 100
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 200
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}
	if cfg.Completion.Model == "" {
		cfg.Completion.Model = "gpt-4o-mini"
	}
	if cfg.Completion.MaxCompletionTokens == 0 {
		cfg.Completion.MaxCompletionTokens = 700
	}
	if cfg.Completion.ContextTokenBudget == 0 {
		cfg.Completion.ContextTokenBudget = 1500
	}

	if len(cfg.TargetDSNs) == 0 && !cfg.SimulationMode {
		cfg.SimulationMode = true
		cfg.Warnings = append(cfg.Warnings, "no TARGET_DSNS configured — forcing simulation mode")
	}
	if !cfg.Completion.Configured() {
		cfg.Warnings = append(cfg.Warnings, "COMPLETION_API_URL not set — generative fallback uses the echo stub")
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() {
		if cfg.Completion.Configured() && cfg.Completion.APIKey == "" {
			return nil, fmt.Errorf("COMPLETION_API_KEY must be set in production (ENV=production)")
		}
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
	}

	return cfg, nil
}

// parseTargets parses "id=dsn,id=dsn" into a map.
func parseTargets(raw string) (map[string]string, error) {
	targets := make(map[string]string)
	for _, pair := range splitTrimmed(raw) {
		if pair == "" {
			continue
		}
		id, dsn, ok := strings.Cut(pair, "=")
		id, dsn = strings.TrimSpace(id), strings.TrimSpace(dsn)
		if !ok || id == "" || dsn == "" {
			return nil, fmt.Errorf("TARGET_DSNS entry %q is not id=dsn", pair)
		}
		if _, dup := targets[id]; dup {
			return nil, fmt.Errorf("TARGET_DSNS defines connection %q twice", id)
		}
		targets[id] = dsn
	}
	return targets, nil
}

func parseIntEnv(key string) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

func parseInt64Env(key string) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

func parseDurationEnv(key string) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return 0
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	return defaultVal
}

func splitTrimmed(v string) []string {
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = stripQuotes(value)
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
