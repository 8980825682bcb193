package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"attachdl/pkg/config"
	"attachdl/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage attachdl configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (ATTACHDL_*), also read from .env and ~/.attachdl.env
  - Configuration file
  - Default values (lowest priority)`,
}

// initCmd represents the config init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with all available options.

The file will be created in the current directory as '.attachdl.yaml'
unless a different path is specified with the --config flag.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

// showCmd represents the config show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Show the effective configuration after merging all sources.

The access token is never printed.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

// validateCmd represents the config validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

// saveCmd represents the config save command
var saveCmd = &cobra.Command{
	Use:   "save <path>",
	Short: "Write the effective configuration to a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigSave,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
	configCmd.AddCommand(saveCmd)
}

const exampleConfig = `# attachdl configuration file
#
# Every option can also be set through environment variables prefixed with
# ATTACHDL_, for example ATTACHDL_MAX_WORKERS or ATTACHDL_ACCESS_TOKEN.

salesforce:
  # Login host; use https://test.salesforce.com for sandboxes
  login_url: "https://login.salesforce.com"

  # Stored login to use (see 'attachdl auth login'). Leave empty to use the
  # first stored login.
  username: ""

  # REST API version
  api_version: "58.0"

  # Set instance_url together with ATTACHDL_ACCESS_TOKEN to skip the login
  instance_url: ""

download:
  # Concurrent downloads, 1-32
  max_concurrent_workers: 10

  # Records per page, 1-2000
  batch_size: 200

  # Where files go: <destination>/<attachment id><extension>
  destination_directory: "./attachments"

  # Optional bucket URL that replaces destination_directory,
  # e.g. s3://bucket?region=eu-west-1, gs://bucket or file:///srv/archive
  destination_bucket: ""

  # Upper bound for a single download attempt
  download_timeout: 5m

  # Pace requests to stay under the org's API limits; 0 disables pacing
  requests_per_minute: 0

retry:
  # Attempts per request, including the first
  max_attempts: 5
  base_delay: 1s
  max_delay: 30s
  jitter_factor: 0.1

state:
  # Progress of the last run; delete it (or use --restart) to start over
  checkpoint_file: "attachdl_checkpoint.json"

  # One row per downloaded attachment
  metadata_log: "attachments_metadata.csv"

  # One row per attachment that could not be downloaded
  error_log: "attachments_errors.csv"

  # Optional SQLite ledger with the same rows, queryable with 'attachdl status'
  ledger_db: ""

logging:
  # debug, info, warn, error
  level: "info"

  # console or json
  format: "console"

  # Optional log file receiving JSON lines
  file: ""
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := configFile
	if configPath == "" {
		configPath = ".attachdl.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		ui.PrintError("Configuration file already exists", configPath)
		fmt.Println("\nTo overwrite, first remove the existing file:")
		fmt.Printf("  rm %s\n", configPath)
		return fmt.Errorf("%s already exists", configPath)
	}

	if dir := filepath.Dir(configPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(configPath, []byte(exampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to create configuration file: %w", err)
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Store a login with 'attachdl auth login'")
	fmt.Println("2. Run 'attachdl config validate' to check the configuration")
	fmt.Println("3. Start downloading with 'attachdl download'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	display := *cfg
	if display.Salesforce.AccessToken != "" {
		display.Salesforce.AccessToken = "***"
	}

	data, err := yaml.Marshal(&display)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Println()
	fmt.Print(string(data))

	fmt.Println("\nConfiguration sources (in order of priority):")
	fmt.Println("1. Command line flags")
	fmt.Println("2. Environment variables (ATTACHDL_*)")
	if configFile != "" {
		fmt.Printf("3. Configuration file: %s\n", configFile)
	} else {
		fmt.Println("3. Configuration file: (searched in the default locations)")
	}
	fmt.Println("4. Default values")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		ui.PrintInfo("Validating configuration", configFile)
	}

	cfg, err := loadConfig(nil)
	if err != nil {
		ui.PrintError("Configuration validation failed", err)
		return err
	}

	var warnings []string
	if cfg.Salesforce.AccessToken == "" && cfg.Salesforce.Username == "" {
		warnings = append(warnings, "no salesforce.username; the first stored login will be used")
	}
	if cfg.Salesforce.AccessToken != "" && cfg.Salesforce.Username != "" {
		warnings = append(warnings, "access token set; salesforce.username is ignored")
	}
	if cfg.Download.DestinationBucket != "" && cfg.Download.DestinationDirectory != config.DefaultConfig().Download.DestinationDirectory {
		warnings = append(warnings, "destination_bucket replaces destination_directory")
	}
	if cfg.Download.RequestsPerMinute == 0 {
		warnings = append(warnings, "requests are not paced; large orgs may hit their daily API limit")
	}

	if cfg.Download.DestinationBucket == "" {
		if err := os.MkdirAll(cfg.Download.DestinationDirectory, 0755); err != nil {
			ui.PrintError("Cannot create destination directory", err)
			return err
		}
	}

	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings:")
		for _, warn := range warnings {
			fmt.Printf("  - %s\n", warn)
		}
		fmt.Println()
	}

	ui.PrintSuccess("Configuration is valid")

	destination := cfg.Download.DestinationDirectory
	if cfg.Download.DestinationBucket != "" {
		destination = cfg.Download.DestinationBucket
	}
	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Destination: %s\n", destination)
	fmt.Printf("  Workers: %d\n", cfg.Download.MaxConcurrentWorkers)
	fmt.Printf("  Batch size: %d\n", cfg.Download.BatchSize)
	fmt.Printf("  Max attempts: %d (backoff %s to %s)\n", cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay, cfg.Retry.MaxDelay)
	fmt.Printf("  Checkpoint: %s\n", cfg.State.CheckpointFile)
	fmt.Printf("  Log level: %s\n", cfg.Logging.Level)
	return nil
}

func runConfigSave(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}
	if err := cfg.Save(args[0]); err != nil {
		return err
	}
	ui.PrintSuccess("Configuration saved: " + args[0])
	return nil
}
