package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hookchat/internal/config"
	"hookchat/internal/domain"

	"github.com/spf13/cobra"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	configPath = ""
	return out.String(), err
}

func TestInsightsDelay(t *testing.T) {
	if got := insightsDelay(0); got >= 0 {
		t.Errorf("0ms must disable the wait, got %v", got)
	}
	if got := insightsDelay(250); got != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", got)
	}
}

func TestInitAndConfigCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	if _, err := execute(t, "--config", path, "init"); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := execute(t, "--config", path, "init"); err == nil {
		t.Fatal("second init without --force should fail")
	}

	if _, err := execute(t, "--config", path, "config", "set", "webhook.timeoutSeconds", "15"); err != nil {
		t.Fatalf("config set: %v", err)
	}
	out, err := execute(t, "--config", path, "config", "get", "webhook.timeoutSeconds")
	if err != nil {
		t.Fatalf("config get: %v", err)
	}
	if strings.TrimSpace(out) != "15" {
		t.Errorf("expected 15, got %q", out)
	}

	if _, err := execute(t, "--config", path, "config", "set", "webhook.timeoutSeconds", "0"); err == nil {
		t.Error("invalid value should be rejected")
	}

	if _, err := execute(t, "--config", path, "config", "set", "webhook.secret", "topsecretvalue"); err != nil {
		t.Fatal(err)
	}
	out, err = execute(t, "--config", path, "config", "list")
	if err != nil {
		t.Fatalf("config list: %v", err)
	}
	if strings.Contains(out, "topsecretvalue") {
		t.Error("config list must mask secrets")
	}
	if !strings.Contains(out, "webhook.url = ") {
		t.Errorf("expected webhook.url in listing:\n%s", out)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, version) {
		t.Errorf("unexpected output %q", out)
	}
}

func TestSendCommand(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"message":"all good"}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "config.json")
	cfg := config.Defaults()
	cfg.Webhook.URL = srv.URL
	cfg.General.LogLevel = "error"
	if err := config.Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "--config", path, "send", "hello", "there")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if strings.TrimSpace(out) != "all good" {
		t.Errorf("unexpected output %q", out)
	}
	if got["taskDescription"] != "hello there" {
		t.Errorf("unexpected payload %v", got)
	}

	_, err = execute(t, "--config", path, "send", "--form", "--agent", "A", "short")
	if err == nil || !strings.Contains(err.Error(), "agentName") {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestHistoryCommand_RequiresPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := config.Save(path, config.Defaults()); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "--config", path, "history"); err == nil {
		t.Fatal("expected an error when persist is off")
	}
}

func TestPrintRecords(t *testing.T) {
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	if err := printRecords(cmd, nil, false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "No exchanges recorded.") {
		t.Errorf("unexpected output %q", out.String())
	}

	out.Reset()
	recs := []domain.ExchangeRecord{{
		Task:        "line one\nline two",
		Status:      domain.StatusProcessed,
		ProcessedAt: time.Date(2025, 3, 1, 9, 30, 0, 0, time.Local),
	}}
	if err := printRecords(cmd, recs, false); err != nil {
		t.Fatal(err)
	}
	line := out.String()
	if !strings.Contains(line, "2025-03-01 09:30") || !strings.Contains(line, "line one line two") {
		t.Errorf("unexpected row %q", line)
	}
}

func TestOneLine(t *testing.T) {
	if got := oneLine("a\n b\tc", 10); got != "a b c" {
		t.Errorf("got %q", got)
	}
	if got := oneLine(strings.Repeat("x", 20), 10); len([]rune(got)) != 10 {
		t.Errorf("expected 10 runes, got %q", got)
	}
}

func TestDoctor_MissingConfig(t *testing.T) {
	var out bytes.Buffer
	d := &doctor{out: &out}
	runChecks(context.Background(), d, filepath.Join(t.TempDir(), "nope.json"), false)
	if d.failed != 1 || !strings.Contains(out.String(), "hookchat init") {
		t.Errorf("expected a single failure with init hint:\n%s", out.String())
	}
}

func TestDoctor_ValidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	cfg := config.Defaults()
	cfg.History.Persist = true
	cfg.History.DBPath = filepath.Join(dir, "db", "exchanges.db")
	cfg.Channels.Web.Port = 0
	if err := config.Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	d := &doctor{out: &out}
	runChecks(context.Background(), d, path, false)
	if d.failed != 0 {
		t.Fatalf("unexpected failures:\n%s", out.String())
	}
	if _, err := os.Stat(cfg.History.DBPath); err != nil {
		t.Errorf("expected database file to be created: %v", err)
	}
}

func TestDoctor_WebhookProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	defer srv.Close()
	if err := checkWebhook(context.Background(), srv.URL); err != nil {
		t.Errorf("any HTTP answer should count as reachable: %v", err)
	}

	closed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := closed.URL
	closed.Close()
	if err := checkWebhook(context.Background(), url); err == nil {
		t.Error("expected an error for a closed server")
	}
}
