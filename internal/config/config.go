// Package config provides configuration types, defaults, and persistence
// for parley.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zjrosen/parley/internal/log"
	"github.com/zjrosen/parley/internal/tracing"
)

// Config holds all configuration options for parley.
type Config struct {
	// PersonasDir holds the persona definition files (*.md).
	PersonasDir string `mapstructure:"personas_dir"`

	// StateDir holds the persisted conversation and workflow state.
	StateDir string `mapstructure:"state_dir"`

	// ContextDir holds optional shared context files injected into every
	// system prompt, in lexical order.
	ContextDir string `mapstructure:"context_dir"`

	// SeedPrompt opens a fresh conversation.
	SeedPrompt string `mapstructure:"seed_prompt"`

	// LogLevel is the minimum debug-log severity: "debug", "info",
	// "warn", or "error". Unknown values fall back to "debug".
	LogLevel string `mapstructure:"log_level"`

	Backend BackendConfig   `mapstructure:"backend"`
	Loop    LoopConfig      `mapstructure:"loop"`
	ChatLog ChatLogConfig   `mapstructure:"chat_log"`
	Tracing tracing.Config  `mapstructure:"tracing"`
	Flags   map[string]bool `mapstructure:"flags"`
}

// BackendConfig selects and configures the model backend.
type BackendConfig struct {
	// Type is the backend provider: "ollama" (default) or "mock".
	Type string `mapstructure:"type"`

	// Model is the provider-specific model name.
	Model string `mapstructure:"model"`

	// Host is the provider endpoint.
	Host string `mapstructure:"host"`

	// Timeout bounds a single generation request. Zero disables the
	// client-side bound.
	Timeout time.Duration `mapstructure:"timeout"`
}

// LoopConfig tunes the session loop.
type LoopConfig struct {
	// TurnDelay is the fixed pause between turns.
	TurnDelay time.Duration `mapstructure:"turn_delay"`

	// RetainedCycles bounds the model context window: the history keeps
	// at most retained_cycles × persona-count persona turns.
	RetainedCycles int `mapstructure:"retained_cycles"`

	// CycleWindow is how many completed rotation cycles elapse between
	// workflow evaluations.
	CycleWindow int `mapstructure:"cycle_window"`

	// MaxAttempts bounds generation retries per turn.
	MaxAttempts int `mapstructure:"max_attempts"`

	// StrictSpecials normalizes special-persona output to the no-action
	// sentinel unless it is a short process remark.
	StrictSpecials bool `mapstructure:"strict_specials"`

	// NoticeFile is the advisor notice file watched for injection.
	// Empty disables notice injection.
	NoticeFile string `mapstructure:"notice_file"`

	// NoticeInterval is the minimum spacing between injected notices.
	NoticeInterval time.Duration `mapstructure:"notice_interval"`
}

// ChatLogConfig configures the human-readable conversation log.
type ChatLogConfig struct {
	// Path is the primary chat log file.
	Path string `mapstructure:"path"`

	// MirrorKeyword triggers mirroring of records that mention it.
	MirrorKeyword string `mapstructure:"mirror_keyword"`

	// MirrorPath is the timestamped secondary log for mirrored records.
	MirrorPath string `mapstructure:"mirror_path"`

	// WrapWidth is the wrap column for notices.
	WrapWidth int `mapstructure:"wrap_width"`
}

// Defaults returns the default configuration.
func Defaults() Config {
	return Config{
		PersonasDir: "personas",
		StateDir:    ".parley/state",
		SeedPrompt:  "Brainstorm ideas together and converge on one concrete next action.",
		LogLevel:    "debug",
		Backend: BackendConfig{
			Type:  "ollama",
			Model: "llama3",
			Host:  "http://localhost:11434",
		},
		Loop: LoopConfig{
			TurnDelay:      2 * time.Second,
			RetainedCycles: 3,
			CycleWindow:    1,
			MaxAttempts:    3,
			StrictSpecials: true,
			NoticeInterval: 5 * time.Minute,
		},
		ChatLog: ChatLogConfig{
			Path:      ".parley/chat.md",
			WrapWidth: 80,
		},
		Tracing: tracing.DefaultConfig(),
	}
}

// Validate checks values that would otherwise fail deep inside the loop.
func (c Config) Validate() error {
	if c.PersonasDir == "" {
		return fmt.Errorf("personas_dir must be set")
	}
	if c.StateDir == "" {
		return fmt.Errorf("state_dir must be set")
	}
	if c.Backend.Type == "" {
		return fmt.Errorf("backend.type must be set")
	}
	if c.Backend.Model == "" {
		return fmt.Errorf("backend.model must be set")
	}
	if c.Loop.RetainedCycles < 1 {
		return fmt.Errorf("loop.retained_cycles must be at least 1, got %d", c.Loop.RetainedCycles)
	}
	if c.Loop.CycleWindow < 1 {
		return fmt.Errorf("loop.cycle_window must be at least 1, got %d", c.Loop.CycleWindow)
	}
	if c.Loop.MaxAttempts < 1 {
		return fmt.Errorf("loop.max_attempts must be at least 1, got %d", c.Loop.MaxAttempts)
	}
	return nil
}

// ConversationPath is the turn history file inside the state directory.
func (c Config) ConversationPath() string {
	return filepath.Join(c.StateDir, "conversation.jsonl")
}

// WorkflowStatePath is the workflow state file inside the state directory.
func (c Config) WorkflowStatePath() string {
	return filepath.Join(c.StateDir, "workflow_state.json")
}

// DefaultTracesFilePath returns the default path for trace file export,
// or empty string if the home directory is unavailable.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "parley", "traces", "traces.jsonl")
}

// DefaultConfigTemplate returns the commented starter config written on
// first run.
func DefaultConfigTemplate() string {
	return `# Parley Configuration

# Directory of persona definition files (*.md with YAML frontmatter)
personas_dir: personas

# Directory for persisted conversation and workflow state
state_dir: .parley/state

# Optional directory of shared context files injected into every prompt
# context_dir: context

# Opening prompt for a fresh conversation
seed_prompt: "Brainstorm ideas together and converge on one concrete next action."

# Minimum debug-log severity: debug, info, warn, error
log_level: debug

backend:
  type: ollama            # "ollama" or "mock"
  model: llama3
  host: http://localhost:11434
  # timeout: 2m           # per-request bound, 0 disables

loop:
  turn_delay: 2s          # pause between turns
  retained_cycles: 3      # context window in full rotation cycles
  cycle_window: 1         # cycles between workflow evaluations
  max_attempts: 3         # generation retries per turn
  strict_specials: true   # coerce off-script special personas to the sentinel
  # notice_file: .parley/notice.txt
  notice_interval: 5m

chat_log:
  path: .parley/chat.md
  wrap_width: 80
  # mirror_keyword: "@advisor"
  # mirror_path: .parley/advisor.md

tracing:
  enabled: false
  exporter: file          # "none", "file", "stdout", "otlp"
  # file_path: ~/.config/parley/traces/traces.jsonl
  # otlp_endpoint: localhost:4317
  sample_rate: 1.0
  service_name: parley
`
}

// WriteDefaultConfig writes the starter config template to the given path,
// creating parent directories as needed.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
