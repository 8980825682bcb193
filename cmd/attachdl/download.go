package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"attachdl/pkg/auth"
	"attachdl/pkg/config"
	"attachdl/pkg/logger"
	"attachdl/pkg/transfer"
	"attachdl/pkg/ui"
	"attachdl/pkg/ui/tui"
)

var (
	// Download command flags
	outputDir      string
	bucketURL      string
	accountName    string
	instanceURL    string
	apiVersion     string
	workers        int
	batchSize      int
	maxRetries     int
	checkpointPath string
	ledgerPath     string
	forceRestart   bool
	useTUI         bool
	verbose        bool
	notify         bool
)

// downloadCmd represents the download command
var downloadCmd = &cobra.Command{
	Use:     "download",
	Aliases: []string{"run"},
	Short:   "Download every attachment of the org",
	Long: `Download all Attachment records, newest first, to a directory or bucket.

Progress is checkpointed after every batch whose attachments have all been
recorded. Running the command again after an interruption resumes from the
last checkpoint; files that are already present with the expected size are
not downloaded again.

Credentials are taken from, in order:
  - an access token and instance URL in the configuration or environment
  - the stored login named by --account or salesforce.username
  - the first stored login (see 'attachdl auth login')`,
	Example: `  # Download into ./attachments with the default settings
  attachdl download --output ./attachments

  # More workers and bigger batches, with the interactive dashboard
  attachdl download --workers 16 --batch-size 1000 --tui

  # Upload straight into a bucket
  attachdl download --bucket s3://my-archive?region=eu-west-1

  # Start over, keeping a backup of the old checkpoint
  attachdl download --restart`,
	Args: cobra.NoArgs,
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().StringVarP(&outputDir, "output", "o", "", "destination directory")
	downloadCmd.Flags().StringVar(&bucketURL, "bucket", "", "destination bucket URL (s3://, gs://, file://), replaces --output")
	downloadCmd.Flags().StringVarP(&accountName, "account", "a", "", "use a specific stored login")
	downloadCmd.Flags().StringVar(&instanceURL, "instance-url", "", "org instance URL, used with ATTACHDL_ACCESS_TOKEN")
	downloadCmd.Flags().StringVar(&apiVersion, "api-version", "", "REST API version, e.g. 58.0")
	downloadCmd.Flags().IntVarP(&workers, "workers", "w", 0, "number of concurrent downloads")
	downloadCmd.Flags().IntVar(&batchSize, "batch-size", 0, "records fetched per page (max 2000)")
	downloadCmd.Flags().IntVar(&maxRetries, "max-retries", 0, "attempts per request before giving up")
	downloadCmd.Flags().StringVar(&checkpointPath, "checkpoint", "", "checkpoint file")
	downloadCmd.Flags().StringVar(&ledgerPath, "ledger", "", "SQLite ledger file")
	downloadCmd.Flags().BoolVar(&forceRestart, "restart", false, "ignore the checkpoint and start from the newest attachment")
	downloadCmd.Flags().BoolVar(&useTUI, "tui", false, "use the interactive terminal dashboard")
	downloadCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print a line for every attachment")
	downloadCmd.Flags().BoolVar(&notify, "notify", false, "send a desktop notification when the run ends")
}

// downloadOverrides collects the flags the user explicitly set.
func downloadOverrides(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	set := func(name string, value interface{}) {
		if cmd.Flags().Changed(name) {
			flags[name] = value
		}
	}
	set("output", outputDir)
	set("bucket", bucketURL)
	set("instance-url", instanceURL)
	set("api-version", apiVersion)
	set("workers", workers)
	set("batch-size", batchSize)
	set("max-retries", maxRetries)
	set("checkpoint", checkpointPath)
	set("ledger", ledgerPath)
	return flags
}

func runDownload(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(downloadOverrides(cmd))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	var console io.Writer = os.Stderr
	if useTUI {
		// the dashboard owns the screen; logs still reach logging.file
		console = io.Discard
	}
	log, err := initLogging(cfg, console)
	if err != nil {
		return err
	}
	log.WithField("version", version).Info("attachdl starting")

	account, err := resolveAccount(cfg, accountName)
	if err != nil {
		ui.PrintError("No Salesforce login found", err)
		fmt.Println("\nTo store a login securely, run:")
		fmt.Println("  attachdl auth login <username>")
		fmt.Println("\nOr export an existing session:")
		fmt.Println("  export ATTACHDL_INSTANCE_URL=https://yourorg.my.salesforce.com")
		fmt.Println("  export ATTACHDL_ACCESS_TOKEN=<token>")
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	label := sourceLabel(cfg, account)
	if useTUI {
		return downloadWithTUI(runCtx, cancel, cfg, account, log, label)
	}

	display := ui.NewProgressDisplay(os.Stdout, label, verbose)
	runner, err := transfer.NewFromConfig(runCtx, cfg, transfer.BuildOptions{
		Account:  account,
		Observer: display,
		Logger:   log,
	})
	if err != nil {
		return err
	}
	defer runner.Close()

	res, runErr := runner.Run(runCtx, transfer.Options{Restart: forceRestart})
	display.Complete(res, runErr)
	finishRun(log, res, runErr, label)
	return runErr
}

func downloadWithTUI(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, account *auth.Account, log logger.Logger, label string) error {
	terminal := tui.NewTUI(cfg.Download.MaxConcurrentWorkers, cancel)

	runner, err := transfer.NewFromConfig(ctx, cfg, transfer.BuildOptions{
		Account:  account,
		Observer: terminal,
		Logger:   log,
	})
	if err != nil {
		return err
	}
	defer runner.Close()

	tuiDone := make(chan error, 1)
	go func() {
		tuiDone <- terminal.Start()
	}()

	terminal.Log("info", "Downloading attachments from %s", label)
	res, runErr := runner.Run(ctx, transfer.Options{Restart: forceRestart})
	terminal.Finish(res, runErr)

	if err := <-tuiDone; err != nil {
		log.WithError(err).Error("TUI failed")
	}

	// the dashboard is gone once the program exits, so repeat the summary on stdout
	ui.NewProgressDisplay(os.Stdout, label, true).Complete(res, runErr)
	finishRun(log, res, runErr, label)
	return runErr
}

// resolveAccount picks the stored login for the run. An access token in the
// configuration makes the login unnecessary.
func resolveAccount(cfg *config.Config, name string) (*auth.Account, error) {
	if cfg.Salesforce.AccessToken != "" {
		return nil, nil
	}

	manager, err := auth.NewManager()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	return accountFrom(manager, cfg, name)
}

func accountFrom(manager *auth.Manager, cfg *config.Config, name string) (*auth.Account, error) {
	if name == "" {
		name = cfg.Salesforce.Username
	}
	if name != "" {
		account, err := manager.Retrieve(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", auth.ErrCredentialsNotFound, name)
		}
		return account, nil
	}

	account, err := manager.RetrieveDefault()
	if err != nil {
		return nil, auth.ErrCredentialsNotFound
	}
	return account, nil
}

func sourceLabel(cfg *config.Config, account *auth.Account) string {
	if account != nil {
		return account.Username
	}
	if cfg.Salesforce.InstanceURL != "" {
		return cfg.Salesforce.InstanceURL
	}
	return "Salesforce"
}

func finishRun(log logger.Logger, res *transfer.Result, runErr error, label string) {
	switch {
	case runErr != nil:
		log.WithError(runErr).Error("Run failed")
	case res.Interrupted:
		log.WithField("batch", res.Checkpoint.Cursor.Sequence).Warn("Run interrupted")
	default:
		log.WithFields(map[string]interface{}{
			"run_id":    res.RunID,
			"processed": res.Summary.Processed(),
			"failed":    res.Summary.Failed(),
		}).Info("Run completed")
	}

	if notify {
		if err := ui.NewNotifier().Notify(ui.RunNotice(res, runErr, label)); err != nil {
			log.WithError(err).Debug("Desktop notification not shown")
		}
	}
}
