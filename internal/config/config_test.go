package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cascade.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "workspace: /tmp/cascade-test\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %s, want 30s", cfg.PollInterval)
	}
	if cfg.PRTimeout != 45*time.Minute {
		t.Errorf("PRTimeout = %s, want 45m", cfg.PRTimeout)
	}
	if cfg.BranchPrefix != "cascade/" {
		t.Errorf("BranchPrefix = %q, want %q", cfg.BranchPrefix, "cascade/")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.LogFile != filepath.Join("/tmp/cascade-test", "logs", "cascade.log") {
		t.Errorf("LogFile = %q, want it under the workspace", cfg.LogFile)
	}
	if cfg.TUI.RefreshInterval != 2*time.Second {
		t.Errorf("TUI.RefreshInterval = %s, want 2s", cfg.TUI.RefreshInterval)
	}
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, strings.Join([]string{
		"workspace: /tmp/cascade-test",
		"poll_interval: 5s",
		"pr_timeout: 2h",
		"tui:",
		"  refresh_interval: 500ms",
	}, "\n"))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %s, want 5s", cfg.PollInterval)
	}
	if cfg.PRTimeout != 2*time.Hour {
		t.Errorf("PRTimeout = %s, want 2h", cfg.PRTimeout)
	}
	if cfg.TUI.RefreshInterval != 500*time.Millisecond {
		t.Errorf("TUI.RefreshInterval = %s, want 500ms", cfg.TUI.RefreshInterval)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "poll_interval: soon\n")

	if _, err := Load(path); err == nil {
		t.Fatal("Load() with bad poll_interval succeeded, want error")
	}
}

func TestLoadRejectsNegativeTimeout(t *testing.T) {
	path := writeConfig(t, "pr_timeout: -10m\n")

	if _, err := Load(path); err == nil {
		t.Fatal("Load() with negative pr_timeout succeeded, want error")
	}
}

func TestLoadRejectsBadBranchPrefix(t *testing.T) {
	path := writeConfig(t, "branch_prefix: topic\n")

	if _, err := Load(path); err == nil {
		t.Fatal("Load() with prefix missing / succeeded, want error")
	}
}

func TestLoadRejectsEmptyIgnoreEntry(t *testing.T) {
	path := writeConfig(t, "ignore:\n  - tools\n  - \"\"\n")

	if _, err := Load(path); err == nil {
		t.Fatal("Load() with empty ignore entry succeeded, want error")
	}
}

func TestLoadReadsIgnoreList(t *testing.T) {
	path := writeConfig(t, "ignore:\n  - vendored-sdk\n  - legacy-tools\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Ignore) != 2 || cfg.Ignore[0] != "vendored-sdk" {
		t.Errorf("Ignore = %v, want the configured list", cfg.Ignore)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load() of missing file succeeded, want error")
	}
}

func TestDefault(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	if cfg.Workspace == "" {
		t.Error("Default() workspace is empty")
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %s, want 30s", cfg.PollInterval)
	}
}
