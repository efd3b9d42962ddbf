package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	PollInterval time.Duration `yaml:"-"`
	RawInterval  string        `yaml:"poll_interval"`
	PRTimeout    time.Duration `yaml:"-"`
	RawTimeout   string        `yaml:"pr_timeout"`
	Workspace    string        `yaml:"workspace"`
	BranchPrefix string        `yaml:"branch_prefix"`
	Ignore       []string      `yaml:"ignore"`
	LogFile      string        `yaml:"log_file"`
	Log          LogConfig     `yaml:"log"`
	TUI          TUIConfig     `yaml:"tui"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type TUIConfig struct {
	RefreshInterval time.Duration `yaml:"-"`
	RawInterval     string        `yaml:"refresh_interval"`
}

// Load reads and validates the config file at path. Use Default when no
// file exists.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no config file is present.
func Default() (*Config, error) {
	var cfg Config
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() error {
	if c.RawInterval == "" {
		c.RawInterval = "30s"
	}
	d, err := time.ParseDuration(c.RawInterval)
	if err != nil {
		return fmt.Errorf("parse poll_interval %q: %w", c.RawInterval, err)
	}
	if d <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.RawInterval)
	}
	c.PollInterval = d

	if c.RawTimeout == "" {
		c.RawTimeout = "45m"
	}
	timeout, err := time.ParseDuration(c.RawTimeout)
	if err != nil {
		return fmt.Errorf("parse pr_timeout %q: %w", c.RawTimeout, err)
	}
	if timeout <= 0 {
		return fmt.Errorf("pr_timeout must be positive, got %s", c.RawTimeout)
	}
	c.PRTimeout = timeout

	if c.Workspace == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		c.Workspace = filepath.Join(home, ".cascade")
	}
	if c.BranchPrefix == "" {
		c.BranchPrefix = "cascade/"
	}
	if c.LogFile == "" {
		c.LogFile = filepath.Join(c.Workspace, "logs", "cascade.log")
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.TUI.RawInterval == "" {
		c.TUI.RawInterval = "2s"
	}
	tuiInterval, err := time.ParseDuration(c.TUI.RawInterval)
	if err != nil {
		return fmt.Errorf("parse tui.refresh_interval %q: %w", c.TUI.RawInterval, err)
	}
	if tuiInterval <= 0 {
		return fmt.Errorf("tui.refresh_interval must be positive, got %s", c.TUI.RawInterval)
	}
	c.TUI.RefreshInterval = tuiInterval

	return nil
}

func (c *Config) validate() error {
	if !strings.HasSuffix(c.BranchPrefix, "/") {
		return fmt.Errorf("branch_prefix must end with /, got %q", c.BranchPrefix)
	}
	for i, pattern := range c.Ignore {
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("ignore[%d]: empty repository name", i)
		}
	}
	return nil
}
