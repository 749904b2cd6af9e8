package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"hookchat/internal/channel"
	"hookchat/internal/conversation"
	"hookchat/internal/domain"
	"hookchat/internal/metrics"
	"hookchat/internal/render"
	"hookchat/internal/webhook"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const sweepInterval = time.Minute

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the web UI (and Telegram when enabled)",
		Long:  "Starts every enabled server channel and the session sweeper. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, cfgPath, err := loadConfig(false)
	if err != nil {
		return err
	}
	rt, err := newRuntime(cfg, cfgPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	started := 0

	if cfg.Channels.Web.Enabled {
		web := channel.NewWeb(channel.WebConfig{
			Host:       cfg.Channels.Web.Host,
			Port:       cfg.Channels.Web.Port,
			Logger:     logger,
			Config:     cfg,
			ConfigPath: cfgPath,
			Version:    version,
			Sessions:   rt.sessions,
			Insights:   rt.insights,
			Renderer:   render.New(),
			Metrics:    metrics.Collector.Handler(),
		})
		g.Go(func() error {
			if err := web.Start(gctx); err != nil {
				return fmt.Errorf("web channel: %w", err)
			}
			return nil
		})
		started++
	} else {
		logger.Info("web channel disabled")
	}

	if cfg.Channels.Telegram.Enabled {
		tg := channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			Version:   version,
			Sessions:  rt.sessions,
			Insights:  rt.insights,
			Logger:    logger,
		})
		g.Go(func() error {
			if err := tg.Start(gctx); err != nil {
				return fmt.Errorf("telegram channel: %w", err)
			}
			return nil
		})
		started++
		logger.Info("telegram channel enabled")
	}

	if started == 0 {
		return errors.New("no server channel enabled (channels.web.enabled or channels.telegram.enabled)")
	}

	g.Go(func() error { return rt.sessions.RunSweeper(gctx, sweepInterval) })

	logger.Info("hookchat started. Press Ctrl+C to stop.", "webhook", rt.sender.URL(), "persist", cfg.History.Persist)
	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start interactive chat in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadConfig(false)
			if err != nil {
				return err
			}
			if !cfg.Channels.CLI.Enabled {
				return errors.New("cli channel is disabled (channels.cli.enabled)")
			}
			rt, err := newRuntime(cfg, cfgPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cli := channel.NewCLI(channel.CLIConfig{
				Sessions: rt.sessions,
				Insights: rt.insights,
				Logger:   logger,
				In:       cmd.InOrStdin(),
				Out:      cmd.OutOrStdout(),
				Spinner:  isTerminal(os.Stdout),
			})
			return cli.Start(ctx)
		},
	}
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

func sendCmd() *cobra.Command {
	var (
		file     string
		agent    string
		priority string
		asForm   bool
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send one message to the webhook and print the reply",
		Long: `Sends a single chat message (optionally with an image) and prints the
normalized reply. With --form the message is sent as a structured task and
validated first (agent name, description length, priority).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadConfig(false)
			if err != nil {
				return err
			}
			rt, err := newRuntime(cfg, cfgPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			text := strings.Join(args, " ")
			var att *conversation.Attachment
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read attachment: %w", err)
				}
				att = &conversation.Attachment{Name: filepath.Base(file), Data: data}
			}

			if asForm {
				form := domain.FormData{AgentName: agent, TaskDescription: text, Priority: domain.Priority(priority)}
				if att != nil {
					enc, err := conversation.EncodeAttachment(att, cfg.Channels.Web.MaxUploadBytes)
					if err != nil {
						return err
					}
					enc.ApplyTo(&form)
				}
				resp, err := rt.sessions.SubmitForm(ctx, "cli:send", form)
				if err != nil {
					return errors.New(sendErrorText(err))
				}
				return printResponse(cmd, resp, asJSON)
			}

			res, err := rt.sessions.Get("cli:send").Conversation.Submit(ctx, text, att)
			if errors.Is(err, conversation.ErrEmptySubmission) {
				return errors.New("nothing to send: give a message or --file")
			}
			if res.Response != nil {
				return printResponse(cmd, res.Response, asJSON)
			}
			if err != nil {
				return errors.New(sendErrorText(err))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "attach an image")
	cmd.Flags().BoolVar(&asForm, "form", false, "send as a structured task")
	cmd.Flags().StringVar(&agent, "agent", "", "agent name (with --form)")
	cmd.Flags().StringVar(&priority, "priority", string(domain.PriorityMedium), "low, medium or high (with --form)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full response record as JSON")
	return cmd
}

// sendErrorText turns a send failure into the line shown to the user.
func sendErrorText(err error) string {
	var ve *domain.ValidationError
	var ae *conversation.AttachmentError
	switch {
	case errors.As(err, &ve):
		return ve.Error()
	case errors.As(err, &ae):
		return ae.Error()
	}
	return "Error - " + webhook.UserMessage(err)
}

func printResponse(cmd *cobra.Command, resp *domain.WebhookResponse, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	_, err := fmt.Fprintln(out, resp.Message)
	return err
}

func historyCmd() *cobra.Command {
	var (
		limit  int
		wipe   bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show exchanges recorded in the SQLite log",
		Long:  "Reads the exchange log written when history.persist is enabled.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadConfig(false)
			if err != nil {
				return err
			}
			if !cfg.History.Persist {
				return errors.New("history.persist is off; enable it with 'hookchat config set history.persist true'")
			}
			rt, err := newRuntime(cfg, cfgPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if wipe {
				n, err := rt.store.ClearExchanges(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d exchanges.\n", n)
				return nil
			}

			recs, err := rt.store.RecentExchanges(ctx, limit)
			if err != nil {
				return err
			}
			return printRecords(cmd, recs, asJSON)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of exchanges to show")
	cmd.Flags().BoolVar(&wipe, "clear", false, "delete every recorded exchange")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func printRecords(cmd *cobra.Command, recs []domain.ExchangeRecord, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}
	if len(recs) == 0 {
		fmt.Fprintln(out, "No exchanges recorded.")
		return nil
	}
	for _, r := range recs {
		agent := r.AgentName
		if agent == "" {
			agent = "-"
		}
		fmt.Fprintf(out, "%s  %-9s  %-6s  %-12s  %s\n",
			r.ProcessedAt.Local().Format("2006-01-02 15:04"), r.Status, orDash(string(r.Priority)), agent, oneLine(r.Task, 60))
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
