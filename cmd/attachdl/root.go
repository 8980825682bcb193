package main

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"attachdl/pkg/config"
	"attachdl/pkg/logger"
	"attachdl/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	noLogo     bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "attachdl",
	Short: "Resumable bulk downloader for Salesforce attachments",
	Long: `attachdl copies every Attachment record of a Salesforce org to a local directory
or an object storage bucket.

Features:
  - Keyset pagination over the whole Attachment table, newest first
  - Concurrent downloads with bounded memory
  - Retries with exponential backoff for throttling and server errors
  - A checkpoint after every fully recorded batch, so interrupted runs resume
  - CSV metadata and error logs, plus an optional SQLite ledger
  - Logins kept in the system keychain or an encrypted file`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noLogo {
			return
		}
		switch cmd.Name() {
		case "version", "help", "completion", "show":
		default:
			ui.PrintLogo()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./.attachdl.yaml or ~/.config/attachdl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noLogo, "no-logo", false, "do not print the banner")

	rootCmd.SetVersionTemplate(`attachdl {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig loads configuration with the global flags merged over flags.
func loadConfig(flags map[string]interface{}) (*config.Config, error) {
	if flags == nil {
		flags = make(map[string]interface{})
	}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}
	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// initLogging installs the global logger. Console output can be redirected so a
// full-screen UI is not overwritten; the log file, if configured, always receives everything.
func initLogging(cfg *config.Config, console io.Writer) (logger.Logger, error) {
	if console == nil {
		console = os.Stderr
	}
	log, err := logger.NewWithWriter(&cfg.Logging, console)
	if err != nil {
		return nil, err
	}
	logger.SetLogger(log)
	return log, nil
}
