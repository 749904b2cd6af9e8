package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"hookchat/internal/config"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

// doctor collects pass/warn/fail lines for one run.
type doctor struct {
	out                    io.Writer
	passed, warned, failed int
}

func (d *doctor) pass(check, detail string) {
	fmt.Fprintf(d.out, "  [PASS] %-20s %s\n", check, detail)
	d.passed++
}

func (d *doctor) warn(check, detail string) {
	fmt.Fprintf(d.out, "  [WARN] %-20s %s\n", check, detail)
	d.warned++
}

func (d *doctor) fail(check, detail string) {
	fmt.Fprintf(d.out, "  [FAIL] %-20s %s\n", check, detail)
	d.failed++
}

func doctorCmd() *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your hookchat setup",
		Long: `Verifies that the configuration loads, the webhook answers, the exchange
log is writable and the web port is free. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			d := &doctor{out: cmd.OutOrStdout()}
			fmt.Fprintf(d.out, "hookchat doctor %s\n\n", version)
			runChecks(cmd.Context(), d, resolveConfigPath(), !offline)

			fmt.Fprintf(d.out, "\nResults: %d passed, %d warnings, %d failed\n", d.passed, d.warned, d.failed)
			if d.failed > 0 {
				return fmt.Errorf("%d check(s) failed", d.failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "skip the webhook reachability check")
	return cmd
}

func runChecks(ctx context.Context, d *doctor, cfgPath string, probe bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := os.Stat(config.ExpandPath(cfgPath)); err != nil {
		d.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
		fmt.Fprintf(d.out, "\nRun 'hookchat init' to create a default configuration.\n")
		return
	}
	d.pass("Config file", cfgPath)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		d.fail("Config validation", err.Error())
		return
	}
	d.pass("Config validation", "valid")

	if probe {
		if err := checkWebhook(ctx, cfg.Webhook.URL); err != nil {
			d.warn("Webhook", err.Error())
		} else {
			d.pass("Webhook", cfg.Webhook.URL)
		}
	}

	if cfg.History.Persist {
		if err := checkDatabase(ctx, cfg.History.DBPath); err != nil {
			d.fail("Exchange log", err.Error())
		} else {
			d.pass("Exchange log", cfg.History.DBPath)
		}
	}

	if cfg.Channels.Web.Enabled {
		addr := net.JoinHostPort(cfg.Channels.Web.Host, strconv.Itoa(cfg.Channels.Web.Port))
		if err := checkPort(addr); err != nil {
			d.warn("Web port", fmt.Sprintf("%s may be in use: %v", addr, err))
		} else {
			d.pass("Web port", addr+" available")
		}
		if cfg.Channels.Web.Auth.Enabled {
			d.pass("Web auth", "basic auth for "+cfg.Channels.Web.Auth.Username)
		} else if cfg.Channels.Web.Host != "127.0.0.1" && cfg.Channels.Web.Host != "localhost" {
			d.warn("Web auth", "disabled on a non-loopback address")
		}
	}

	if cfg.Channels.Telegram.Enabled && len(cfg.Channels.Telegram.AllowFrom) == 0 {
		d.warn("Telegram", "enabled with an empty allow list; anyone can use the bot")
	}

	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
			d.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
		} else {
			d.pass("Log file", cfg.General.LogFile)
		}
	}
}

// checkWebhook sends a HEAD request. Any HTTP answer counts as reachable;
// many workflow engines reject HEAD on a POST-only hook.
func checkWebhook(ctx context.Context, rawURL string) error {
	if _, err := url.Parse(rawURL); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return fmt.Errorf("no answer within 5s from %s", rawURL)
		}
		return fmt.Errorf("unreachable: %w", err)
	}
	resp.Body.Close()
	return nil
}

func checkDatabase(ctx context.Context, dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")
	return nil
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}
