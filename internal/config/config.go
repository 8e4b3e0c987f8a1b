// Package config handles application configuration.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sevir/vigia/internal/agent"
	"github.com/sevir/vigia/internal/tasks"
	"github.com/sevir/vigia/pkg/models"
	"gopkg.in/yaml.v2"
)

// Config holds the application configuration.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server" toml:"server"`
	Agents    []string        `json:"agents" yaml:"agents" toml:"agents"`
	Worker    WorkerConfig    `json:"worker" yaml:"worker" toml:"worker"`
	Dashboard DashboardConfig `json:"dashboard" yaml:"dashboard" toml:"dashboard"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `json:"host" yaml:"host" toml:"host"`
	Port int    `json:"port" yaml:"port" toml:"port"`
}

// WorkerConfig controls how agents pace their work.
type WorkerConfig struct {
	TotalSteps     int             `json:"total_steps" yaml:"total_steps" toml:"total_steps"`
	DequeueTimeout models.Duration `json:"dequeue_timeout" yaml:"dequeue_timeout" toml:"dequeue_timeout"`
	IdleInterval   models.Duration `json:"idle_interval" yaml:"idle_interval" toml:"idle_interval"`
	StepPause      models.Duration `json:"step_pause" yaml:"step_pause" toml:"step_pause"`
	// WorkDelay is the simulated cost of one step of a built-in task.
	WorkDelay models.Duration `json:"work_delay" yaml:"work_delay" toml:"work_delay"`
}

// DashboardConfig holds view settings.
type DashboardConfig struct {
	LogTail         int             `json:"log_tail" yaml:"log_tail" toml:"log_tail"`
	RefreshInterval models.Duration `json:"refresh_interval" yaml:"refresh_interval" toml:"refresh_interval"`
	PreviewBytes    int             `json:"preview_bytes" yaml:"preview_bytes" toml:"preview_bytes"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	opts := agent.DefaultOptions()

	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8765,
		},
		Agents: []string{"Listener", "Planner", "Executor"},
		Worker: WorkerConfig{
			TotalSteps:     opts.TotalSteps,
			DequeueTimeout: models.Duration(opts.DequeueTimeout),
			IdleInterval:   models.Duration(opts.IdleInterval),
			StepPause:      models.Duration(opts.StepPause),
			WorkDelay:      models.Duration(tasks.DefaultWorkDelay),
		},
		Dashboard: DashboardConfig{
			LogTail:         10,
			RefreshInterval: models.Duration(500 * time.Millisecond),
			PreviewBytes:    models.DefaultPreviewBytes,
		},
	}
}

// Dir returns the directory holding the default config file.
func Dir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".vigia")
}

var searchOrder = []string{"config.yaml", "config.yml", "config.json", "config.toml"}

// Load loads configuration from a file (supports YAML, JSON and TOML).
// An empty path searches the default directory and falls back to defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		for _, name := range searchOrder {
			candidate := filepath.Join(Dir(), name)
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	switch formatOf(path) {
	case "yaml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case "toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save saves configuration to a file, choosing the format by extension.
func (c *Config) Save(path string) error {
	if path == "" {
		path = filepath.Join(Dir(), "config.yaml")
	}
	path = expandHome(path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch formatOf(path) {
	case "yaml":
		data, err = yaml.Marshal(c)
	case "toml":
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(c)
		data = buf.Bytes()
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Validate checks the agent set and the server port.
func (c *Config) Validate() error {
	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent is required")
	}
	seen := make(map[string]bool, len(c.Agents))
	for _, name := range c.Agents {
		if name == "" {
			return fmt.Errorf("agent name must not be empty")
		}
		if seen[name] {
			return fmt.Errorf("duplicate agent name: %s", name)
		}
		seen[name] = true
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	return nil
}

// SetAgents replaces the agent set from a comma separated list.
func (c *Config) SetAgents(list string) {
	var names []string
	for _, part := range strings.Split(list, ",") {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	c.Agents = names
}

// Address returns the server address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// WorkerOptions converts the worker section for the agent package.
func (c *Config) WorkerOptions() agent.Options {
	return agent.Options{
		TotalSteps:     c.Worker.TotalSteps,
		DequeueTimeout: c.Worker.DequeueTimeout.Std(),
		IdleInterval:   c.Worker.IdleInterval.Std(),
		StepPause:      c.Worker.StepPause.Std(),
	}
}

// TaskOptions converts the settings used by the built-in task steps.
func (c *Config) TaskOptions() tasks.Options {
	return tasks.Options{
		WorkDelay:    c.Worker.WorkDelay.Std(),
		PreviewBytes: c.Dashboard.PreviewBytes,
	}
}

func (c *Config) normalize() {
	for i, name := range c.Agents {
		c.Agents[i] = strings.TrimSpace(name)
	}
	if c.Dashboard.LogTail <= 0 {
		c.Dashboard.LogTail = 10
	}
	if c.Dashboard.PreviewBytes <= 0 {
		c.Dashboard.PreviewBytes = models.DefaultPreviewBytes
	}
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	default:
		return "json"
	}
}

// expandHome expands ~ to home directory in paths.
func expandHome(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~\\") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
