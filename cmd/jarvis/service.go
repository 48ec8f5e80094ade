package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

const (
	launchdLabel = "io.github.jaakkolipp.jarvis"
	systemdUnit  = "jarvis.service"
)

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Install or remove a user service that runs 'jarvis run'",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Install a launchd agent (macOS) or systemd user unit (Linux)",
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			cfgPath, err := filepath.Abs(resolveConfigPath())
			if err != nil {
				return err
			}
			workDir, err := os.Getwd()
			if err != nil {
				return err
			}

			switch runtime.GOOS {
			case "darwin":
				return installLaunchd(execPath, cfgPath, workDir)
			case "linux":
				return installSystemd(execPath, cfgPath, workDir)
			default:
				return fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", runtime.GOOS)
			}
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove the installed service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := servicePath(runtime.GOOS)
			if err != nil {
				return err
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Printf("Service removed: %s\n", path)
			return nil
		},
	})
	return cmd
}

func servicePath(goos string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	switch goos {
	case "darwin":
		return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist"), nil
	case "linux":
		return filepath.Join(home, ".config", "systemd", "user", systemdUnit), nil
	}
	return "", fmt.Errorf("unsupported OS: %s", goos)
}

func installLaunchd(execPath, cfgPath, workDir string) error {
	path, err := servicePath("darwin")
	if err != nil {
		return err
	}
	home, _ := os.UserHomeDir()
	logPath := filepath.Join(home, ".jarvis", "logs", "jarvis.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return err
	}

	if err := writeServiceFile(path, renderLaunchd(execPath, cfgPath, workDir, logPath)); err != nil {
		return err
	}
	fmt.Printf("Service installed: %s\n", path)
	fmt.Printf("To start: launchctl load %s\n", path)
	fmt.Printf("To stop:  launchctl unload %s\n", path)
	return nil
}

func installSystemd(execPath, cfgPath, workDir string) error {
	path, err := servicePath("linux")
	if err != nil {
		return err
	}
	if err := writeServiceFile(path, renderSystemd(execPath, cfgPath, workDir)); err != nil {
		return err
	}
	fmt.Printf("Service installed: %s\n", path)
	fmt.Printf("To start:  systemctl --user start jarvis\n")
	fmt.Printf("To enable: systemctl --user enable jarvis\n")
	return nil
}

func writeServiceFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// renderLaunchd fills the launchd template. The working directory is where
// the .env file is looked up.
func renderLaunchd(execPath, cfgPath, workDir, logPath string) string {
	return strings.NewReplacer(
		"{{LABEL}}", launchdLabel,
		"{{EXEC}}", execPath,
		"{{CONFIG}}", cfgPath,
		"{{WORKDIR}}", workDir,
		"{{LOG}}", logPath,
	).Replace(launchdTemplate)
}

func renderSystemd(execPath, cfgPath, workDir string) string {
	return strings.NewReplacer(
		"{{EXEC}}", execPath,
		"{{CONFIG}}", cfgPath,
		"{{WORKDIR}}", workDir,
	).Replace(systemdTemplate)
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{LABEL}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{EXEC}}</string>
        <string>run</string>
        <string>--config</string>
        <string>{{CONFIG}}</string>
    </array>
    <key>WorkingDirectory</key>
    <string>{{WORKDIR}}</string>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{LOG}}</string>
    <key>StandardErrorPath</key>
    <string>{{LOG}}</string>
</dict>
</plist>
`

const systemdTemplate = `[Unit]
Description=Jarvis chat bot
After=network-online.target

[Service]
Type=simple
WorkingDirectory={{WORKDIR}}
ExecStart={{EXEC}} run --config {{CONFIG}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`
