// Package config provides configuration loading, validation, and management
// for the conductor process.
//
// Project settings live in .conductor/config.json under the project root. A
// single in-memory copy is maintained behind a mutex; GetConfig returns it BY
// VALUE so callers cannot mutate shared state, and all changes go through the
// Update* functions, which validate and persist atomically. State (feature
// records, session history) never belongs here; that is the database's job.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"conductor/pkg/logx"
)

// Project config constants.
const (
	ProjectConfigDir      = ".conductor"
	ProjectConfigFilename = "config.json"
	SchemaVersion         = "1.0"

	DefaultConcurrency  = 1
	DefaultHTTPAddr     = "127.0.0.1:8844"
	DefaultDatabaseFile = "conductor.db"
	DefaultFeatureDir   = "features"
	DefaultEventLogDir  = "logs"
)

// Provider name constants.
const (
	ProviderClaude = "claude"
	ProviderCodex  = "codex"
	ProviderMock   = "mock"
)

// SchedulerConfig holds the auto-mode scheduler settings.
type SchedulerConfig struct {
	// Concurrency is the maximum number of simultaneous agent sessions.
	Concurrency int `json:"concurrency"`
	// AutoStart enables auto mode as soon as the process starts.
	AutoStart bool `json:"auto_start"`
}

// AgentConfig holds the default agent session settings passed through to the
// runner. Model and ThinkingLevel may be overridden per feature.
type AgentConfig struct {
	Provider      string   `json:"provider"`       // "claude", "codex", or "mock"
	Model         string   `json:"model"`          // Default model for sessions
	ThinkingLevel string   `json:"thinking_level"` // Default thinking level
	Command       string   `json:"command,omitempty"`
	Args          []string `json:"args,omitempty"`
}

// Config is the root project configuration.
type Config struct {
	SchemaVersion string          `json:"schema_version"`
	Scheduler     SchedulerConfig `json:"scheduler"`
	Agent         AgentConfig     `json:"agent"`
	DatabasePath  string          `json:"database_path"`
	FeatureDir    string          `json:"feature_dir"`
	EventLogDir   string          `json:"event_log_dir"`
	HTTPAddr      string          `json:"http_addr"`
}

//nolint:gochecknoglobals // Intentional singleton pattern for config management
var (
	config     *Config
	projectDir string // Immutable after LoadConfig
	logger     *logx.Logger
	mu         sync.RWMutex
)

func getLogger() *logx.Logger {
	if logger == nil {
		logger = logx.NewLogger("config")
	}
	return logger
}

// DefaultConfig returns a config populated with defaults.
func DefaultConfig() Config {
	return Config{
		SchemaVersion: SchemaVersion,
		Scheduler: SchedulerConfig{
			Concurrency: DefaultConcurrency,
		},
		Agent: AgentConfig{
			Provider: ProviderClaude,
		},
		DatabasePath: filepath.Join(ProjectConfigDir, DefaultDatabaseFile),
		FeatureDir:   DefaultFeatureDir,
		EventLogDir:  DefaultEventLogDir,
		HTTPAddr:     DefaultHTTPAddr,
	}
}

// LoadConfig loads the project config from dir/.conductor/config.json,
// creating it with defaults on first run. Must be called once at startup.
func LoadConfig(dir string) error {
	mu.Lock()
	defer mu.Unlock()

	projectDir = dir
	path := configPath(dir)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		defaults := DefaultConfig()
		if err := persistLocked(dir, &defaults); err != nil {
			return fmt.Errorf("failed to write initial config: %w", err)
		}
		config = &defaults
		getLogger().Info("Created default config at %s", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := validate(&loaded); err != nil {
		return fmt.Errorf("invalid config %s: %w", path, err)
	}

	config = &loaded
	getLogger().Info("Loaded config from %s", path)
	return nil
}

// GetConfig returns the current config by value.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()

	if config == nil {
		return Config{}, fmt.Errorf("config not loaded; call LoadConfig first")
	}
	return *config, nil
}

// ProjectDir returns the project root set at LoadConfig time.
func ProjectDir() string {
	mu.RLock()
	defer mu.RUnlock()
	return projectDir
}

// UpdateScheduler atomically validates, applies, and persists new scheduler
// settings.
func UpdateScheduler(schedCfg *SchedulerConfig) error {
	mu.Lock()
	defer mu.Unlock()

	if config == nil {
		return fmt.Errorf("config not loaded; call LoadConfig first")
	}
	if schedCfg.Concurrency < 1 {
		return fmt.Errorf("scheduler concurrency must be >= 1, got %d", schedCfg.Concurrency)
	}

	updated := *config
	updated.Scheduler = *schedCfg
	if err := persistLocked(projectDir, &updated); err != nil {
		return fmt.Errorf("failed to persist scheduler config: %w", err)
	}
	config = &updated
	return nil
}

// UpdateAgent atomically validates, applies, and persists new agent defaults.
func UpdateAgent(agentCfg *AgentConfig) error {
	mu.Lock()
	defer mu.Unlock()

	if config == nil {
		return fmt.Errorf("config not loaded; call LoadConfig first")
	}
	if agentCfg.Provider == "" {
		return fmt.Errorf("agent provider must not be empty")
	}

	updated := *config
	updated.Agent = *agentCfg
	if err := persistLocked(projectDir, &updated); err != nil {
		return fmt.Errorf("failed to persist agent config: %w", err)
	}
	config = &updated
	return nil
}

// Reset clears the loaded config. Tests only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	config = nil
	projectDir = ""
}

func configPath(dir string) string {
	return filepath.Join(dir, ProjectConfigDir, ProjectConfigFilename)
}

func validate(cfg *Config) error {
	if cfg.SchemaVersion == "" {
		return fmt.Errorf("missing schema_version")
	}
	if cfg.Scheduler.Concurrency < 1 {
		return fmt.Errorf("scheduler concurrency must be >= 1, got %d", cfg.Scheduler.Concurrency)
	}
	if cfg.HTTPAddr == "" {
		return fmt.Errorf("missing http_addr")
	}
	return nil
}

// persistLocked writes the config to disk via a temp file rename so a crash
// mid-write never leaves a truncated config. Caller must hold mu.
func persistLocked(dir string, cfg *Config) error {
	if err := validate(cfg); err != nil {
		return err
	}

	confDir := filepath.Join(dir, ProjectConfigDir)
	if err := os.MkdirAll(confDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	path := configPath(dir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}
