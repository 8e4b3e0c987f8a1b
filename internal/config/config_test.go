package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Address() != "127.0.0.1:8765" {
		t.Errorf("expected default address, got %s", cfg.Address())
	}
	if strings.Join(cfg.Agents, ",") != "Listener,Planner,Executor" {
		t.Errorf("unexpected default agents %v", cfg.Agents)
	}

	opts := cfg.WorkerOptions()
	if opts.TotalSteps != 20 || opts.DequeueTimeout != time.Second {
		t.Errorf("unexpected worker defaults %+v", opts)
	}
	if opts.IdleInterval != 500*time.Millisecond || opts.StepPause != 100*time.Millisecond {
		t.Errorf("unexpected worker pacing %+v", opts)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  port: 9000
agents: [Alpha, Beta]
worker:
  total_steps: 5
  step_pause: 10ms
dashboard:
  refresh_interval: 2s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 || cfg.Server.Host != "127.0.0.1" {
		t.Errorf("unexpected server %+v", cfg.Server)
	}
	if strings.Join(cfg.Agents, ",") != "Alpha,Beta" {
		t.Errorf("unexpected agents %v", cfg.Agents)
	}
	if cfg.Worker.TotalSteps != 5 || cfg.Worker.StepPause.Std() != 10*time.Millisecond {
		t.Errorf("unexpected worker %+v", cfg.Worker)
	}
	// Unset keys keep their defaults.
	if cfg.Worker.DequeueTimeout.Std() != time.Second {
		t.Errorf("expected default dequeue timeout, got %v", cfg.Worker.DequeueTimeout)
	}
	if cfg.Dashboard.RefreshInterval.Std() != 2*time.Second {
		t.Errorf("unexpected refresh interval %v", cfg.Dashboard.RefreshInterval)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
agents = ["Listener", "Planner"]

[server]
host = "0.0.0.0"

[worker]
idle_interval = "250ms"
work_delay = "0s"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Address() != "0.0.0.0:8765" {
		t.Errorf("unexpected address %s", cfg.Address())
	}
	if len(cfg.Agents) != 2 {
		t.Errorf("unexpected agents %v", cfg.Agents)
	}
	if cfg.Worker.IdleInterval.Std() != 250*time.Millisecond {
		t.Errorf("unexpected idle interval %v", cfg.Worker.IdleInterval)
	}
	if cfg.TaskOptions().WorkDelay != 0 {
		t.Errorf("expected zero work delay, got %v", cfg.TaskOptions().WorkDelay)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{"agents": [" Solo "], "dashboard": {"log_tail": 3}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Agents) != 1 || cfg.Agents[0] != "Solo" {
		t.Errorf("expected trimmed agent name, got %v", cfg.Agents)
	}
	if cfg.Dashboard.LogTail != 3 {
		t.Errorf("expected log tail 3, got %d", cfg.Dashboard.LogTail)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8765 {
		t.Errorf("expected defaults, got %+v", cfg.Server)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"dup.yaml":      "agents: [A, A]\n",
		"blank.json":    `{"agents": ["A", "  "]}`,
		"duration.toml": "[worker]\nstep_pause = \"soon\"\n",
		"port.yaml":     "server:\n  port: 70000\n",
	}
	for name, content := range cases {
		if _, err := Load(writeFile(t, name, content)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestSaveRoundTripsByExtension(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Agents = []string{"One", "Two"}
	cfg.Worker.StepPause = cfg.Worker.IdleInterval

	for _, name := range []string{"out.yaml", "out.json", "out.toml"} {
		path := filepath.Join(dir, "nested", name)
		if err := cfg.Save(path); err != nil {
			t.Fatalf("Save %s: %v", name, err)
		}
		loaded, err := Load(path)
		if err != nil {
			t.Fatalf("Load %s: %v", name, err)
		}
		if strings.Join(loaded.Agents, ",") != "One,Two" {
			t.Errorf("%s: unexpected agents %v", name, loaded.Agents)
		}
		if loaded.Worker.StepPause != cfg.Worker.IdleInterval {
			t.Errorf("%s: expected step pause %v, got %v", name, cfg.Worker.IdleInterval, loaded.Worker.StepPause)
		}
	}
}

func TestSetAgents(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SetAgents(" A, B ,,C ")
	if strings.Join(cfg.Agents, ",") != "A,B,C" {
		t.Errorf("unexpected agents %v", cfg.Agents)
	}
}

func TestExpandHome_TildeSlash(t *testing.T) {
	got := expandHome("~/.vigia/config.yaml")
	if strings.Contains(got, "~") {
		t.Fatalf("expected no ~ after expansion, got %q", got)
	}
	if !filepath.IsAbs(got) {
		t.Fatalf("expected absolute path after expansion, got %q", got)
	}
}
