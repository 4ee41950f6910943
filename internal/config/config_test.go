package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"presale_sniper/internal/model"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Task.LeadTime() != 10*time.Second {
		t.Errorf("LeadTime = %v, want 10s", cfg.Task.LeadTime())
	}
	if cfg.Worker.Count != 10 {
		t.Errorf("Worker.Count = %d, want 10", cfg.Worker.Count)
	}
	if cfg.Worker.MinSleep() != time.Second || cfg.Worker.MaxSleep() != 5*time.Second {
		t.Errorf("worker sleep = %v..%v, want 1s..5s", cfg.Worker.MinSleep(), cfg.Worker.MaxSleep())
	}
	if cfg.Gate.SlowPoll() != time.Second || cfg.Gate.FastPoll() != 100*time.Millisecond || cfg.Gate.FastWindow() != 2*time.Second {
		t.Errorf("gate = %v/%v/%v", cfg.Gate.SlowPoll(), cfg.Gate.FastPoll(), cfg.Gate.FastWindow())
	}
	if cfg.Gate.MaxWait() != 0 {
		t.Errorf("Gate.MaxWait = %v, want unbounded", cfg.Gate.MaxWait())
	}
	if cfg.Reserve.MaxAttempts != 20 {
		t.Errorf("Reserve.MaxAttempts = %d, want 20", cfg.Reserve.MaxAttempts)
	}
	if cfg.Strategy.NameWeight != 1 || cfg.Strategy.PriceWeight != 1000 {
		t.Errorf("weights = %d/%d", cfg.Strategy.NameWeight, cfg.Strategy.PriceWeight)
	}
	if len(cfg.Strategy.PositiveKeywords) != 4 || len(cfg.Strategy.NegativeKeywords) != 3 {
		t.Errorf("keywords = %v / %v", cfg.Strategy.PositiveKeywords, cfg.Strategy.NegativeKeywords)
	}
	if !cfg.Log.ConsoleEnabled() {
		t.Error("console logging should default to on")
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
task:
  leadTimeMs: 5000
  maxRetries: 5
worker:
  count: 3
log:
  level: debug
  console: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Task.LeadTime() != 5*time.Second || cfg.Task.MaxRetries != 5 {
		t.Errorf("task = %+v", cfg.Task)
	}
	if cfg.Worker.Count != 3 {
		t.Errorf("Worker.Count = %d, want 3", cfg.Worker.Count)
	}
	if cfg.Log.Level != "debug" || cfg.Log.ConsoleEnabled() {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"postgres without url": "storage:\n  driver: postgres\n",
		"unknown driver":       "storage:\n  driver: mongo\n",
		"bad level":            "log:\n  level: loud\n",
		"email without host":   "notify:\n  email:\n    enabled: true\n",
		"bad yaml":             "server: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			if !errors.Is(err, model.ErrConfiguration) {
				t.Fatalf("Load err = %v, want ErrConfiguration", err)
			}
		})
	}
}
