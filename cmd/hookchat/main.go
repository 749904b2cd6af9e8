package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"hookchat/internal/config"
	"hookchat/internal/conversation"
	"hookchat/internal/domain"
	"hookchat/internal/insights"
	"hookchat/internal/logging"
	"hookchat/internal/store"
	"hookchat/internal/webhook"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	configPath string // overridable via --config flag
)

func main() {
	// .env is optional; values there feed ${VAR} expansion in the config file.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("could not load .env", "err", err)
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "hookchat",
		Short:         "hookchat: chat and task front end for a workflow webhook",
		Long:          "hookchat forwards chat messages and structured tasks to a single webhook and shows the replies in a web UI, the terminal or Telegram.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file, .json or .yaml (default: ~/.hookchat/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(versionCmd())
	return root
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file. A missing file falls back to defaults
// unless strict is set; an invalid file is always an error.
func loadConfig(strict bool) (*config.Config, string, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err == nil {
		return cfg, cfgPath, nil
	}
	if !strict && errors.Is(err, fs.ErrNotExist) {
		logger.Warn("config not found, using defaults", "path", cfgPath)
		return config.Defaults(), cfgPath, nil
	}
	return nil, cfgPath, fmt.Errorf("load config: %w", err)
}

// runtime is everything a running command needs, built from one config.
type runtime struct {
	cfg      *config.Config
	cfgPath  string
	sender   *webhook.Client
	store    *store.SQLiteStore // nil unless history.persist
	sessions *conversation.Manager
	insights *insights.Generator
	closers  []io.Closer
}

func newRuntime(cfg *config.Config, cfgPath string) (*runtime, error) {
	rt := &runtime{cfg: cfg, cfgPath: cfgPath}

	l, closer, err := logging.New(logging.Options{
		Level:  cfg.General.LogLevel,
		Format: cfg.General.LogFormat,
		File:   cfg.General.LogFile,
	})
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	logger = l
	slog.SetDefault(l)
	rt.closers = append(rt.closers, closer)

	rt.sender, err = webhook.NewClient(webhook.ClientConfig{
		URL:              cfg.Webhook.URL,
		Timeout:          time.Duration(cfg.Webhook.TimeoutSeconds) * time.Second,
		Secret:           cfg.Webhook.Secret,
		Headers:          cfg.Webhook.Headers,
		MaxResponseBytes: cfg.Webhook.MaxResponseBytes,
		RatePerMinute:    cfg.Webhook.RatePerMinute,
		Burst:            cfg.Webhook.Burst,
		Logger:           logger,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}

	var exchangeStore domain.ExchangeStore
	if cfg.History.Persist {
		rt.store, err = store.NewSQLiteStore(cfg.History.DBPath, logger)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("exchange store: %w", err)
		}
		rt.closers = append(rt.closers, rt.store)
		exchangeStore = rt.store
	}

	rt.sessions = conversation.NewManager(conversation.ManagerConfig{
		Sender:             rt.sender,
		HistorySize:        cfg.History.Size,
		MaxAttachmentBytes: cfg.Channels.Web.MaxUploadBytes,
		TTL:                time.Duration(cfg.History.SessionTTLMinutes) * time.Minute,
		Store:              exchangeStore,
		Logger:             logger,
	})
	rt.insights = insights.NewGenerator(insights.GeneratorConfig{
		Delay:          insightsDelay(cfg.Insights.DelayMillis),
		MaxSuggestions: cfg.Insights.MaxSuggestions,
		Logger:         logger,
	})
	return rt, nil
}

// insightsDelay maps the config value onto GeneratorConfig.Delay, where 0
// means "use the default" and a negative value means no wait.
func insightsDelay(millis int) time.Duration {
	if millis <= 0 {
		return -1
	}
	return time.Duration(millis) * time.Millisecond
}

// Close releases the store and log file, newest first.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			logger.Warn("close failed", "err", err)
		}
	}
	rt.closers = nil
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\nEdit webhook.url, then run 'hookchat serve'.\n", cfgPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. webhook.url)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(false)
			if err != nil {
				return err
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. webhook.timeoutSeconds 30)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadConfig(false)
			if err != nil {
				return err
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(false)
			if err != nil {
				return err
			}
			sanitized := config.Sanitize(cfg)
			values := config.ListPaths(sanitized)
			for _, p := range config.SortedPaths(sanitized) {
				data, _ := json.Marshal(values[p])
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", p, data)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
		},
	})

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hookchat %s\n", version)
		},
	}
}
