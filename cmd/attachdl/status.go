package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"attachdl/pkg/logger"
	"attachdl/pkg/recorder"
	"attachdl/pkg/transfer"
	"attachdl/pkg/ui"
)

var assumeYes bool

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the checkpoint and ledger of previous runs",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

// resetCmd represents the reset command
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the checkpoint so the next run starts over",
	Long: `Remove the checkpoint file. A copy is kept next to it with a .backup suffix.

Downloaded files and the CSV logs are left alone; the next run skips files that
are already present.`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetCmd)

	statusCmd.Flags().StringVar(&checkpointPath, "checkpoint", "", "checkpoint file")
	statusCmd.Flags().StringVar(&ledgerPath, "ledger", "", "SQLite ledger file")
	resetCmd.Flags().StringVar(&checkpointPath, "checkpoint", "", "checkpoint file")
	resetCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")
}

func stateOverrides(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	if cmd.Flags().Changed("checkpoint") {
		flags["checkpoint"] = checkpointPath
	}
	if f := cmd.Flags().Lookup("ledger"); f != nil && f.Changed {
		flags["ledger"] = ledgerPath
	}
	return flags
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(stateOverrides(cmd))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := initLogging(cfg, nil)
	if err != nil {
		return err
	}

	store, err := transfer.CheckpointStore(cfg, log)
	if err != nil {
		return err
	}
	info, err := store.Info()
	if err != nil {
		return err
	}

	ui.PrintHighlight("Checkpoint")
	ui.PrintInfo("File", info.Path)
	if !info.Exists {
		ui.PrintInfo("State", "no run yet")
	} else {
		cp := info.Checkpoint
		state := "in progress"
		if cp.Completed {
			state = "completed"
		}
		ui.PrintInfo("State", state)
		ui.PrintInfo("Run", cp.RunID)
		ui.PrintInfo("Next batch", fmt.Sprintf("%d", cp.Cursor.Sequence))
		ui.PrintInfo("Processed", fmt.Sprintf("%d", cp.ProcessedCount))
		ui.PrintInfo("Succeeded", fmt.Sprintf("%d (%d already present)", cp.Succeeded, cp.Skipped))
		ui.PrintInfo("Failed", fmt.Sprintf("%d permanent, %d after retries", cp.PermanentFailures, cp.ExhaustedRetries))
		ui.PrintInfo("Updated", fmt.Sprintf("%s ago", ui.FormatDuration(info.Age)))
	}

	return printLedger(cmd, cfg.State.LedgerDB, log)
}

func printLedger(cmd *cobra.Command, path string, log logger.Logger) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		log.WithField("path", path).Debug("No ledger yet")
		return nil
	}

	ledger, err := recorder.OpenLedger(cmd.Context(), path)
	if err != nil {
		return err
	}
	defer ledger.Close()

	stats, err := ledger.Stats(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Println()
	ui.PrintHighlight("Ledger")
	ui.PrintInfo("File", path)
	ui.PrintInfo("Attachments", fmt.Sprintf("%d (%s)", stats.Attachments, ui.FormatBytes(stats.Bytes)))
	ui.PrintInfo("Failed attachments", fmt.Sprintf("%d", stats.Failures))
	if !stats.LastSuccess.IsZero() {
		ui.PrintInfo("Last download", stats.LastSuccess.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(stateOverrides(cmd))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := initLogging(cfg, nil)
	if err != nil {
		return err
	}

	store, err := transfer.CheckpointStore(cfg, log)
	if err != nil {
		return err
	}
	if !store.Exists() {
		ui.PrintInfo("Nothing to reset", store.Path())
		return nil
	}

	if !assumeYes {
		fmt.Printf("Remove checkpoint %s? (y/N): ", store.Path())
		input, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return nil
		}
	}

	backup, err := store.Backup()
	if err != nil {
		return err
	}
	if err := store.Delete(); err != nil {
		return err
	}

	ui.PrintSuccess("Checkpoint removed")
	ui.PrintInfo("Backup", backup)
	return nil
}
