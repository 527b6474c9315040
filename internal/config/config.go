package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a relay project.
type Config struct {
	Version   int      `yaml:"version"`
	Workspace string   `yaml:"workspace"` // Root of the repo checkout tasks operate on
	Agent     Agent    `yaml:"agent"`
	Detector  Detector `yaml:"detector"`
	Tracker   Tracker  `yaml:"tracker,omitempty"`
	Tests     Tests    `yaml:"tests,omitempty"`
	Publish   Publish  `yaml:"publish,omitempty"`
}

// Agent describes the external coding agent and how to launch it.
type Agent struct {
	Cmd        string   `yaml:"cmd"`                   // CLI command to spawn
	Args       []string `yaml:"args,omitempty"`        // CLI arguments
	TimeoutSec int      `yaml:"timeout_sec,omitempty"` // Max run time in seconds (0 = default 1800)
}

// Detector holds the completion-detection tuning knobs.
// Both values are deployment policy, tuned per installation,
// which is why they live in config rather than as constants.
type Detector struct {
	PollIntervalSec int `yaml:"poll_interval_sec,omitempty"` // Seconds between checks (0 = default 10)
	StaleTimeoutSec int `yaml:"stale_timeout_sec,omitempty"` // Heartbeat timeout in seconds (0 = default 900)
}

// Tracker describes the external task tracker the import flow pulls from.
type Tracker struct {
	BaseURL   string `yaml:"base_url,omitempty"`
	APIKeyEnv string `yaml:"api_key_env,omitempty"` // Env var name containing the API token
}

// Tests describes the command the orchestrator runs after an agent finishes.
type Tests struct {
	Cmd        string   `yaml:"cmd,omitempty"`
	Args       []string `yaml:"args,omitempty"`
	TimeoutSec int      `yaml:"timeout_sec,omitempty"` // 0 = default 600
}

// Publish describes where approved branches get pushed.
type Publish struct {
	Remote string `yaml:"remote,omitempty"` // Git remote name (default "origin")
}

// DefaultTimeout returns the effective timeout for the agent.
func (a Agent) DefaultTimeout() int {
	if a.TimeoutSec > 0 {
		return a.TimeoutSec
	}
	return 1800
}

// PollInterval returns the effective poll interval.
func (d Detector) PollInterval() time.Duration {
	if d.PollIntervalSec > 0 {
		return time.Duration(d.PollIntervalSec) * time.Second
	}
	return 10 * time.Second
}

// StaleTimeout returns the effective heartbeat timeout.
func (d Detector) StaleTimeout() time.Duration {
	if d.StaleTimeoutSec > 0 {
		return time.Duration(d.StaleTimeoutSec) * time.Second
	}
	return 15 * time.Minute
}

// DefaultTimeout returns the effective test-run timeout.
func (t Tests) DefaultTimeout() int {
	if t.TimeoutSec > 0 {
		return t.TimeoutSec
	}
	return 600
}

// RemoteName returns the effective publish remote.
func (p Publish) RemoteName() string {
	if p.Remote != "" {
		return p.Remote
	}
	return "origin"
}

// Load reads and parses the config file at the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the config to the given path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns a starter config.
func DefaultConfig() *Config {
	return &Config{
		Version:   1,
		Workspace: ".",
		Agent: Agent{
			Cmd: "cursor-agent",
		},
		Detector: Detector{
			PollIntervalSec: 10,
			StaleTimeoutSec: 900,
		},
	}
}

func (c *Config) validate() error {
	if c.Workspace == "" {
		return fmt.Errorf("workspace is required")
	}
	if c.Agent.Cmd == "" {
		return fmt.Errorf("agent: cmd is required")
	}
	if c.Detector.PollIntervalSec < 0 {
		return fmt.Errorf("detector: poll_interval_sec must be >= 0")
	}
	if c.Detector.StaleTimeoutSec < 0 {
		return fmt.Errorf("detector: stale_timeout_sec must be >= 0")
	}
	if c.Detector.PollIntervalSec > 0 && c.Detector.StaleTimeoutSec > 0 &&
		c.Detector.StaleTimeoutSec < c.Detector.PollIntervalSec {
		return fmt.Errorf("detector: stale_timeout_sec must be >= poll_interval_sec")
	}
	if c.Tracker.BaseURL == "" && c.Tracker.APIKeyEnv != "" {
		return fmt.Errorf("tracker: base_url is required when api_key_env is set")
	}
	return nil
}
