package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JaakkoLipp/jarvis/internal/agent"
	"github.com/JaakkoLipp/jarvis/internal/channel"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect the enabled gateways and answer mentions",
		Long:  "Starts every enabled gateway (Discord, Telegram) and the message pipeline. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a := newApp(cfg, logger)
			gateways, err := buildGateways(cfg, a)
			if err != nil {
				return err
			}

			logger.Info("jarvis starting", "version", version, "model", cfg.Generation.Model, "gateways", len(gateways))
			err = a.serve(ctx, gateways...)
			logger.Info("jarvis stopped")
			return err
		},
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Talk to the bot from the terminal",
		Long:  "Runs the same pipeline as 'run' with a terminal gateway. Address the bot with " + channel.ConsoleAddress + ".",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			// Keep info logs from interleaving with the REPL.
			if cfg.General.LogFile == "" && (cfg.General.LogLevel == "info" || cfg.General.LogLevel == "debug") {
				cfg.General.LogLevel = "warn"
				l, closeQuiet, err := newLogger(cfg.General, os.Stderr)
				if err != nil {
					return err
				}
				defer closeQuiet()
				logger = l
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a := newApp(cfg, logger)
			console := channel.NewConsole(channel.ConsoleConfig{
				Logger: logger,
				In:     cmd.InOrStdin(),
				Out:    cmd.OutOrStdout(),
				Name:   strings.ToLower(cfg.Prompt.Persona),
			})
			return a.serve(ctx, console)
		},
	}
}

func askCmd() *cobra.Command {
	var (
		contextText string
		model       string
		showPrompt  bool
	)
	cmd := &cobra.Command{
		Use:   "ask [question...]",
		Short: "Send one question through the prompt and generation steps",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()
			if model != "" {
				cfg.Generation.Model = model
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a := newApp(cfg, logger)
			a.pool.Open()
			defer a.pool.Close()

			req := agent.ExtractedRequest{UserText: strings.Join(args, " ")}
			if text := strings.TrimSpace(contextText); text != "" {
				req.ContextText = agent.FrameContext(text)
			}
			prompt := agent.NewPromptBuilder(agent.PromptConfig{
				Persona:        cfg.Prompt.Persona,
				SummaryWordCap: cfg.Prompt.SummaryWordCap,
			}).Build(req)
			if showPrompt {
				fmt.Fprintf(cmd.ErrOrStderr(), "prompt: %s\n", prompt)
			}

			answer, err := a.ollama.Generate(ctx, prompt, cfg.Generation.Model)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), agent.ErrorNotice(err))
				return err
			}
			if answer == "" {
				logger.Warn("generator returned an empty answer")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer)
			return nil
		},
	}
	cmd.Flags().StringVar(&contextText, "context", "", "text of a message the question replies to")
	cmd.Flags().StringVarP(&model, "model", "m", "", "override the configured model")
	cmd.Flags().BoolVar(&showPrompt, "show-prompt", false, "print the assembled prompt to stderr")
	return cmd
}
