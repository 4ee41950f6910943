package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"presale_sniper/internal/config"
	"presale_sniper/internal/model"
	"presale_sniper/internal/notify"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "storage:\n  driver: sqlite\n  sqlitePath: " + filepath.Join(dir, "cli.db") + "\nlog:\n  console: false\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestTaskLifecycleCommands(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "--config", cfg, "account", "add", "--id", "acc-1", "--name", "alice", "--token", "tok")
	if err != nil {
		t.Fatalf("account add: %v", err)
	}
	if !strings.Contains(out, "id=acc-1") || !strings.Contains(out, "has_token=true") {
		t.Errorf("account add output = %q", out)
	}

	out, err = run(t, "--config", cfg, "task", "schedule",
		"--sale", "sale-1", "--account", "acc-1", "--start", "2030-01-02T15:00:00Z", "--target-price", "39.90")
	if err != nil {
		t.Fatalf("task schedule: %v", err)
	}
	if !strings.Contains(out, "fire_at_utc=2030-01-02T14:59:50Z") {
		t.Errorf("schedule output = %q", out)
	}

	if _, err := run(t, "--config", cfg, "task", "schedule", "--sale", "sale-1", "--account", "acc-1", "--start", "2030-01-02T15:00:00Z"); !errors.Is(err, model.ErrDuplicateTask) {
		t.Errorf("duplicate schedule err = %v", err)
	}

	out, err = run(t, "--config", cfg, "task", "list")
	if err != nil {
		t.Fatalf("task list: %v", err)
	}
	if !strings.Contains(out, "sale=sale-1 state=new") {
		t.Errorf("list output = %q", out)
	}
	id := strings.TrimPrefix(strings.Fields(out)[0], "id=")

	out, err = run(t, "--config", cfg, "task", "update", "--id", id, "--start", "2030-01-02T16:00:00Z")
	if err != nil {
		t.Fatalf("task update: %v", err)
	}
	if !strings.Contains(out, "fire_at_utc=2030-01-02T15:59:50Z") {
		t.Errorf("update output = %q", out)
	}

	out, err = run(t, "--config", cfg, "task", "get", "--sale", "sale-1")
	if err != nil {
		t.Fatalf("task get: %v", err)
	}
	if !strings.Contains(out, `"targetPrice": "39.9"`) {
		t.Errorf("get output = %q", out)
	}

	if _, err := run(t, "--config", cfg, "task", "cancel", "--id", id); err != nil {
		t.Fatalf("task cancel: %v", err)
	}
	if _, err := run(t, "--config", cfg, "task", "get", "--id", id); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("get after cancel err = %v", err)
	}
}

func TestAccountGetAndDelete(t *testing.T) {
	cfg := writeConfig(t)
	if _, err := run(t, "--config", cfg, "account", "add", "--id", "acc-7", "--name", "carol"); err != nil {
		t.Fatalf("account add: %v", err)
	}

	out, err := run(t, "--config", cfg, "account", "get", "--id", "acc-7")
	if err != nil {
		t.Fatalf("account get: %v", err)
	}
	if !strings.Contains(out, `id=acc-7 name="carol" has_token=false`) {
		t.Errorf("get output = %q", out)
	}

	out, err = run(t, "--config", cfg, "account", "delete", "--id", "acc-7")
	if err != nil {
		t.Fatalf("account delete: %v", err)
	}
	if !strings.Contains(out, "deleted account id=acc-7") {
		t.Errorf("delete output = %q", out)
	}
	if _, err := run(t, "--config", cfg, "account", "get", "--id", "acc-7"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("get after delete err = %v", err)
	}
	if _, err := run(t, "--config", cfg, "account", "delete", "--id", "acc-7"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("second delete err = %v", err)
	}
	if _, err := run(t, "--config", cfg, "account", "get"); err == nil {
		t.Error("account get without --id succeeded")
	}
}

func TestScheduleRejectsBadInput(t *testing.T) {
	cfg := writeConfig(t)
	cases := [][]string{
		{"--sale", "s", "--account", "a", "--start", "tomorrow"},
		{"--sale", "s", "--account", "a", "--start", "2030-01-02T15:00:00Z", "--target-price", "cheap"},
		{"--sale", "s", "--account", "a", "--start", "2030-01-02T15:00:00Z", "--target-name", "([", "--regex"},
	}
	for _, args := range cases {
		full := append([]string{"--config", cfg, "task", "schedule"}, args...)
		if _, err := run(t, full...); err == nil {
			t.Errorf("schedule %v succeeded", args)
		}
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "sniper dev") {
		t.Errorf("version output = %q", out)
	}
}

func TestBuildNotifier(t *testing.T) {
	n, closeAll, err := buildNotifier(config.NotifyConfig{}, nil)
	if err != nil {
		t.Fatalf("buildNotifier: %v", err)
	}
	if _, ok := n.(notify.Nop); !ok {
		t.Errorf("notifier = %T, want notify.Nop", n)
	}
	closeAll(context.Background())

	cfg := config.NotifyConfig{Email: config.EmailConfig{Enabled: true, From: "a@example.com"}}
	if _, _, err := buildNotifier(cfg, nil); err == nil {
		t.Error("email without host and recipients was accepted")
	}
}
