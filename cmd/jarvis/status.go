package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/JaakkoLipp/jarvis/internal/config"
	"github.com/JaakkoLipp/jarvis/internal/provider"
)

const statusProbeTimeout = 5 * time.Second

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check config, tokens and the generation endpoint",
		Long: `Verifies that the configuration loads, that every enabled gateway has a
token, and that the generation endpoint is reachable and has the configured
model installed. Reports pass/warn/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfgPath := resolveConfigPath()
			fmt.Fprintf(out, "Jarvis status v%s\n", version)
			fmt.Fprintf(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var r checkReport
			if _, err := os.Stat(config.ExpandPath(cfgPath)); err != nil {
				r.warn(out, "Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
			} else {
				r.pass(out, "Config file", cfgPath)
			}

			cfg, closeLog, err := loadConfig()
			if err != nil {
				r.fail(out, "Config validation", err.Error())
				return r.summary(out)
			}
			defer closeLog()
			r.pass(out, "Config validation", "valid")

			checkTokens(out, &r, cfg)

			ctx, cancel := context.WithTimeout(cmd.Context(), statusProbeTimeout)
			defer cancel()
			checkEndpoint(ctx, out, &r, cfg)

			if cfg.Metrics.Enabled {
				if err := checkAddr(cfg.Metrics.Addr); err != nil {
					r.warn(out, "Metrics address", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Addr, err))
				} else {
					r.pass(out, "Metrics address", cfg.Metrics.Addr+" available")
				}
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					r.warn(out, "Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					r.pass(out, "Log file", cfg.General.LogFile)
				}
			}

			return r.summary(out)
		},
	}
}

func checkTokens(out io.Writer, r *checkReport, cfg *config.Config) {
	enabled := 0
	if cfg.Channels.Discord.Enabled {
		enabled++
		if cfg.Channels.Discord.Token == "" {
			r.fail(out, "Discord", "enabled but DISCORD_TOKEN is not set")
		} else {
			r.pass(out, "Discord", "token configured")
		}
	}
	if cfg.Channels.Telegram.Enabled {
		enabled++
		if cfg.Channels.Telegram.Token == "" {
			r.fail(out, "Telegram", "enabled but TELEGRAM_TOKEN is not set")
		} else {
			r.pass(out, "Telegram", "token configured")
		}
	}
	if enabled == 0 {
		r.warn(out, "Gateways", "none enabled; only 'jarvis chat' and 'jarvis ask' will work")
	}
}

func checkEndpoint(ctx context.Context, out io.Writer, r *checkReport, cfg *config.Config) {
	pool := provider.NewPool(statusProbeTimeout, logger)
	pool.Open()
	defer pool.Close()

	ollama := provider.NewOllama(provider.OllamaConfig{
		APIBase:      cfg.Generation.APIBase,
		DefaultModel: cfg.Generation.Model,
		Logger:       logger,
	}, pool)

	models, err := ollama.Models(ctx)
	if err != nil {
		r.fail(out, "Generation endpoint", fmt.Sprintf("%s: %v", cfg.Generation.APIBase, err))
		return
	}
	r.pass(out, "Generation endpoint", cfg.Generation.APIBase)

	if provider.HasModel(models, cfg.Generation.Model) {
		r.pass(out, "Model", cfg.Generation.Model)
	} else {
		r.warn(out, "Model", fmt.Sprintf("%s not installed (have: %s)", cfg.Generation.Model, strings.Join(models, ", ")))
	}
}

func checkAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}

type checkReport struct {
	passed, warned, failed int
}

func (r *checkReport) pass(w io.Writer, check, detail string) {
	r.passed++
	fmt.Fprintf(w, "  [PASS] %-20s %s\n", check, detail)
}

func (r *checkReport) warn(w io.Writer, check, detail string) {
	r.warned++
	fmt.Fprintf(w, "  [WARN] %-20s %s\n", check, detail)
}

func (r *checkReport) fail(w io.Writer, check, detail string) {
	r.failed++
	fmt.Fprintf(w, "  [FAIL] %-20s %s\n", check, detail)
}

func (r *checkReport) summary(w io.Writer) error {
	fmt.Fprintf(w, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	return nil
}
