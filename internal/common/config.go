package common

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Server      ServerConfig     `toml:"server"`
	Storage     StorageConfig    `toml:"storage"`
	Logging     LoggingConfig    `toml:"logging"`
	Browser     BrowserConfig    `toml:"browser"`
	Workflow    WorkflowConfig   `toml:"workflow"`
	FormReader  FormReaderConfig `toml:"form_reader"`
	LLM         LLMConfig        `toml:"llm"`
	Claude      ClaudeConfig     `toml:"claude"`
	Gemini      GeminiConfig     `toml:"gemini"`
	WebSocket   WebSocketConfig  `toml:"websocket"`
	RateLimit   RateLimitConfig  `toml:"rate_limit"`

	unresolvedEnv []string
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"min=1,max=65535"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger         BadgerConfig `toml:"badger"`
	ScreenshotsDir string       `toml:"screenshots_dir"` // Where post-submit screenshots are written
	CatalogFile    string       `toml:"catalog_file"`    // Optional YAML file with products and directories to import on startup
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level         string   `toml:"level"`           // "debug", "info", "warn", "error"
	Output        []string `toml:"output"`          // "stdout", "file"
	MinEventLevel string   `toml:"min_event_level"` // Minimum level published as submission log events
}

// BrowserConfig controls the browser worker pool
type BrowserConfig struct {
	PoolSize        int    `toml:"pool_size" validate:"min=1,max=32"`
	Isolation       string `toml:"isolation" validate:"oneof=process inprocess"` // "process" re-executes the binary per worker
	Headless        bool   `toml:"headless"`
	UserAgent       string `toml:"user_agent"`
	ExecPath        string `toml:"exec_path"` // Optional Chrome binary path
	ViewportWidth   int    `toml:"viewport_width" validate:"min=320"`
	ViewportHeight  int    `toml:"viewport_height" validate:"min=240"`
	DefaultTimeout  string `toml:"default_timeout"`  // Per-command default, e.g. "60s"
	FillFormTimeout string `toml:"fill_form_timeout"` // Floor for fill_form
	NavigateTimeout string `toml:"navigate_timeout"`  // Floor for navigate
	StartupGrace    string `toml:"startup_grace"`     // Wait before verifying spawned workers
	StopGrace       string `toml:"stop_grace"`        // Wait for workers to exit after stop signal
	KillGrace       string `toml:"kill_grace"`        // Wait after terminate before kill
	PollInterval    string `toml:"poll_interval"`     // Liveness poll floor
	RespawnDead     bool   `toml:"respawn_dead"`      // Replace dead workers on next routing decision
	OrphanTTL       string `toml:"orphan_ttl"`        // How long unmatched results are buffered
	DownloadTimeout string `toml:"download_timeout"`  // Logo download timeout for file inputs
}

// WorkflowConfig controls the submission scheduler
type WorkflowConfig struct {
	Enabled               bool   `toml:"enabled"`
	MaxConcurrent         int    `toml:"max_concurrent" validate:"min=1"`
	BatchSize             int    `toml:"batch_size" validate:"min=1"`
	ProcessingInterval    string `toml:"processing_interval"`
	MaxRetries            int    `toml:"max_retries" validate:"min=1"`
	RetryCooldown         string `toml:"retry_cooldown"`
	SuppressionCeiling    int    `toml:"suppression_ceiling" validate:"min=1"`
	ProgressRetention     string `toml:"progress_retention"`
	RetrySweepSchedule    string `toml:"retry_sweep_schedule"` // Cron format with seconds, empty disables
	RetrySweepMaxAgeHours int    `toml:"retry_sweep_max_age_hours" validate:"min=0"`
}

// FormReaderConfig controls form interpretation
type FormReaderConfig struct {
	Strategy              string  `toml:"strategy" validate:"oneof=hybrid dom llm"`
	MaxHTMLChars          int     `toml:"max_html_chars" validate:"min=1000"`
	MaxInputs             int     `toml:"max_inputs" validate:"min=1"`
	ComplexFieldThreshold int     `toml:"complex_field_threshold" validate:"min=1"`
	OtherRatioThreshold   float64 `toml:"other_ratio_threshold" validate:"gte=0,lte=1"`
	AnalyzeRetryWait      string  `toml:"analyze_retry_wait"`
}

// LLMProvider names the backend used for form interpretation
type LLMProvider string

const (
	LLMProviderClaude LLMProvider = "claude"
	LLMProviderGemini LLMProvider = "gemini"
	LLMProviderNone   LLMProvider = "none"
)

type LLMConfig struct {
	DefaultProvider LLMProvider `toml:"default_provider"`
	Timeout         string      `toml:"timeout"`
	Temperature     float32     `toml:"temperature"`
}

type ClaudeConfig struct {
	APIKey    string `toml:"api_key"`
	Model     string `toml:"model"`
	MaxTokens int    `toml:"max_tokens"`
}

type GeminiConfig struct {
	APIKey string `toml:"api_key"`
	Model  string `toml:"model"`
}

type WebSocketConfig struct {
	ThrottleInterval string `toml:"throttle_interval"` // Minimum gap between progress broadcasts per submission
	MinLevel         string `toml:"min_level"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `toml:"requests_per_minute" validate:"min=0"`
	JobsPerMinute     int `toml:"jobs_per_minute" validate:"min=0"`
	Burst             int `toml:"burst" validate:"min=1"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/genieops",
			},
			ScreenshotsDir: "./storage/screenshots",
		},
		Logging: LoggingConfig{
			Level:         "info",
			Output:        []string{"stdout", "file"},
			MinEventLevel: "info",
		},
		Browser: BrowserConfig{
			PoolSize:        3,
			Isolation:       "process",
			Headless:        true,
			UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			ViewportWidth:   1920,
			ViewportHeight:  1080,
			DefaultTimeout:  "60s",
			FillFormTimeout: "120s",
			NavigateTimeout: "30s",
			StartupGrace:    "500ms",
			StopGrace:       "5s",
			KillGrace:       "2s",
			PollInterval:    "100ms",
			RespawnDead:     true,
			OrphanTTL:       "5m",
			DownloadTimeout: "30s",
		},
		Workflow: WorkflowConfig{
			Enabled:               true,
			MaxConcurrent:         3,
			BatchSize:             10,
			ProcessingInterval:    "30s",
			MaxRetries:            3,
			RetryCooldown:         "30s",
			SuppressionCeiling:    5,
			ProgressRetention:     "1h",
			RetrySweepSchedule:    "0 */15 * * * *", // Every 15 minutes
			RetrySweepMaxAgeHours: 24,
		},
		FormReader: FormReaderConfig{
			Strategy:              "hybrid",
			MaxHTMLChars:          12000,
			MaxInputs:             40,
			ComplexFieldThreshold: 8,
			OtherRatioThreshold:   0.3,
			AnalyzeRetryWait:      "3s",
		},
		LLM: LLMConfig{
			DefaultProvider: LLMProviderClaude,
			Timeout:         "60s",
			Temperature:     0.1, // Low temperature for consistent structured output
		},
		Claude: ClaudeConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 4096,
		},
		Gemini: GeminiConfig{
			Model: "gemini-2.0-flash",
		},
		WebSocket: WebSocketConfig{
			ThrottleInterval: "250ms",
			MinLevel:         "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 100,
			JobsPerMinute:     20,
			Burst:             10,
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads and merges multiple configuration files in order.
// Later files override earlier ones, environment variables override all files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// ${NAME} references in file values, then GENIEOPS_* overrides
	config.unresolvedEnv = expandStruct(reflect.ValueOf(config).Elem(), os.LookupEnv)
	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// UnresolvedEnvRefs lists ${NAME} references in the config files whose
// variable was not set. They were replaced with empty strings.
func (c *Config) UnresolvedEnvRefs() []string {
	return c.unresolvedEnv
}

// applyEnvOverrides applies GENIEOPS_* environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("GENIEOPS_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("GENIEOPS_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("GENIEOPS_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if path := os.Getenv("GENIEOPS_STORAGE_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}
	if dir := os.Getenv("GENIEOPS_STORAGE_SCREENSHOTS_DIR"); dir != "" {
		config.Storage.ScreenshotsDir = dir
	}
	if catalog := os.Getenv("GENIEOPS_STORAGE_CATALOG_FILE"); catalog != "" {
		config.Storage.CatalogFile = catalog
	}

	// Logging configuration
	if level := os.Getenv("GENIEOPS_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("GENIEOPS_LOG_OUTPUT"); output != "" {
		config.Logging.Output = splitString(output, ",")
	}

	// Browser configuration
	if size := os.Getenv("GENIEOPS_BROWSER_POOL_SIZE"); size != "" {
		if n, err := strconv.Atoi(size); err == nil {
			config.Browser.PoolSize = n
		}
	}
	if isolation := os.Getenv("GENIEOPS_BROWSER_ISOLATION"); isolation != "" {
		config.Browser.Isolation = isolation
	}
	if headless := os.Getenv("GENIEOPS_BROWSER_HEADLESS"); headless != "" {
		if b, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = b
		}
	}
	if execPath := os.Getenv("GENIEOPS_BROWSER_EXEC_PATH"); execPath != "" {
		config.Browser.ExecPath = execPath
	}

	// Workflow configuration
	if enabled := os.Getenv("GENIEOPS_WORKFLOW_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Workflow.Enabled = b
		}
	}
	if maxConcurrent := os.Getenv("GENIEOPS_WORKFLOW_MAX_CONCURRENT"); maxConcurrent != "" {
		if n, err := strconv.Atoi(maxConcurrent); err == nil {
			config.Workflow.MaxConcurrent = n
		}
	}
	if batchSize := os.Getenv("GENIEOPS_WORKFLOW_BATCH_SIZE"); batchSize != "" {
		if n, err := strconv.Atoi(batchSize); err == nil {
			config.Workflow.BatchSize = n
		}
	}
	if interval := os.Getenv("GENIEOPS_WORKFLOW_PROCESSING_INTERVAL"); interval != "" {
		config.Workflow.ProcessingInterval = interval
	}
	if maxRetries := os.Getenv("GENIEOPS_WORKFLOW_MAX_RETRIES"); maxRetries != "" {
		if n, err := strconv.Atoi(maxRetries); err == nil {
			config.Workflow.MaxRetries = n
		}
	}
	if cooldown := os.Getenv("GENIEOPS_WORKFLOW_RETRY_COOLDOWN"); cooldown != "" {
		config.Workflow.RetryCooldown = cooldown
	}

	// Form reader configuration
	if strategy := os.Getenv("GENIEOPS_FORM_READER_STRATEGY"); strategy != "" {
		config.FormReader.Strategy = strategy
	}

	// LLM configuration
	if provider := os.Getenv("GENIEOPS_LLM_DEFAULT_PROVIDER"); provider != "" {
		config.LLM.DefaultProvider = LLMProvider(provider)
	}
	if temperature := os.Getenv("GENIEOPS_LLM_TEMPERATURE"); temperature != "" {
		if t, err := strconv.ParseFloat(temperature, 32); err == nil {
			config.LLM.Temperature = float32(t)
		}
	}
	if apiKey := os.Getenv("GENIEOPS_CLAUDE_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey
	} else if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" && config.Claude.APIKey == "" {
		config.Claude.APIKey = apiKey
	}
	if model := os.Getenv("GENIEOPS_CLAUDE_MODEL"); model != "" {
		config.Claude.Model = model
	}
	if apiKey := os.Getenv("GENIEOPS_GEMINI_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey
	} else if apiKey := os.Getenv("GOOGLE_API_KEY"); apiKey != "" && config.Gemini.APIKey == "" {
		config.Gemini.APIKey = apiKey
	}
	if model := os.Getenv("GENIEOPS_GEMINI_MODEL"); model != "" {
		config.Gemini.Model = model
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

var configValidator = validator.New()

// Validate checks struct constraints, duration strings and the retry sweep schedule
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	durations := map[string]string{
		"browser.default_timeout":        c.Browser.DefaultTimeout,
		"browser.fill_form_timeout":      c.Browser.FillFormTimeout,
		"browser.navigate_timeout":       c.Browser.NavigateTimeout,
		"browser.startup_grace":          c.Browser.StartupGrace,
		"browser.stop_grace":             c.Browser.StopGrace,
		"browser.kill_grace":             c.Browser.KillGrace,
		"browser.poll_interval":          c.Browser.PollInterval,
		"browser.orphan_ttl":             c.Browser.OrphanTTL,
		"browser.download_timeout":       c.Browser.DownloadTimeout,
		"workflow.processing_interval":   c.Workflow.ProcessingInterval,
		"workflow.retry_cooldown":        c.Workflow.RetryCooldown,
		"workflow.progress_retention":    c.Workflow.ProgressRetention,
		"form_reader.analyze_retry_wait": c.FormReader.AnalyzeRetryWait,
		"llm.timeout":                    c.LLM.Timeout,
		"websocket.throttle_interval":    c.WebSocket.ThrottleInterval,
	}
	for key, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s '%s': %w", key, value, err)
		}
	}

	if c.Workflow.RetrySweepSchedule != "" {
		if err := ValidateSchedule(c.Workflow.RetrySweepSchedule); err != nil {
			return fmt.Errorf("invalid workflow.retry_sweep_schedule: %w", err)
		}
	}

	return nil
}

// ValidateSchedule checks a six-field cron expression (seconds first)
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule '%s': %w", schedule, err)
	}
	return nil
}

// ParseDuration parses s, returning fallback when s is empty or malformed
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "production" || env == "prod"
}

func splitString(s, sep string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
