package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/JaakkoLipp/jarvis/internal/config"
)

var (
	version     = "0.1.0"
	logger      *slog.Logger
	configPath  string // overridable via --config flag
	envFilePath string // overridable via --env-file flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:           "jarvis",
		Short:         "Jarvis: a chat bot that answers mentions with a local LLM",
		Long:          "Jarvis listens on Discord (and optionally Telegram) for messages that mention it and answers them through an Ollama-compatible /api/generate endpoint.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ~/.jarvis/config.yaml)")
	root.PersistentFlags().StringVar(&envFilePath, "env-file", "", "dotenv file with secrets (default: .env)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(askCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(serviceCmd())

	if err := root.Execute(); err != nil {
		logger.Error("command failed", "err", err)
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the dotenv file, then the config file (or defaults when it
// does not exist), and replaces the bootstrap logger with the configured one.
// The returned cleanup closes the log file, if any.
func loadConfig() (*config.Config, func(), error) {
	if err := config.LoadDotEnv(envFilePath); err != nil {
		return nil, nil, err
	}

	cfgPath := resolveConfigPath()
	cfg, fromFile, err := config.LoadOrDefaults(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	if envFilePath == "" && cfg.General.EnvFile != "" && cfg.General.EnvFile != ".env" {
		if err := config.LoadDotEnv(cfg.General.EnvFile); err != nil {
			return nil, nil, err
		}
		config.ApplyEnv(cfg)
		if err := config.Validate(cfg); err != nil {
			return nil, nil, err
		}
	}

	l, closeLog, err := newLogger(cfg.General, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	logger = l
	logger.Debug("config loaded", "path", cfgPath, "from_file", fromFile)
	return cfg, closeLog, nil
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\nPut DISCORD_TOKEN=... in a .env file, then run 'jarvis run'.\n", cfgPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
		Long:  "Show the effective configuration after defaults, the config file, .env and environment overrides are applied.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()
			data, err := yaml.Marshal(config.Sanitize(cfg))
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. generation.model)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), val)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every config path with its value",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()
			return printJSON(cmd.OutOrStdout(), config.ListPaths(config.Sanitize(cfg)))
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

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
