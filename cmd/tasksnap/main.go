package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tasksnap/internal/app"
	"tasksnap/internal/config"
	"tasksnap/internal/tasksnap"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n%s\n", err, tasksnap.Describe(err))
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "SnapshotCreate").
func newApp(ctx context.Context, operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(ctx, cfg, defaults.ConfigPath, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// readPassphrase prompts on the terminal without echo.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

func printProgress(v float64) {
	fmt.Fprintf(os.Stderr, "\r%3.0f%%", v*100)
}

var rootCmd = &cobra.Command{
	Use:           "tasksnap",
	Short:         "Task store replication and snapshots",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults.BaseDir)
		if host, err := os.Hostname(); err == nil {
			cfg.DeviceName = host
		}

		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Host ID: %s\n", hostID)
		fmt.Printf("Base Dir: %s\n", defaults.BaseDir)
		fmt.Printf("Log Dir: %s\n", defaults.LogDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
		fmt.Printf("Host ID:      %s\n", cfg.HostID)
		fmt.Printf("Device:       %s\n", cfg.DeviceName)
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		fmt.Printf("Archive Dir:  %s\n", cfg.Snapshots.ArchiveDir)
		fmt.Printf("Retention:    %d\n", cfg.Snapshots.Retention)
		if cfg.Replication.Enabled {
			fmt.Printf("Replication:  %s\n", cfg.Replication.ReplicaID)
		} else {
			fmt.Printf("Replication:  off\n")
		}
		for _, v := range cfg.Vaults {
			fmt.Printf("Vault:        %s (%s)\n", v.Name, v.Type)
		}
		return nil
	},
}

// replication command
var replicationCmd = &cobra.Command{
	Use:   "replication",
	Short: "Manage replication",
}

var replicationEnableCmd = &cobra.Command{
	Use:   "enable REPLICA",
	Short: "Replicate the store to a configured vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ReplicationEnable")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.EnableReplication(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Replicating to %s\n", args[0])
		return nil
	},
}

var replicationDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Stop replicating and keep data local",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ReplicationDisable")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DisableReplication(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Replication disabled")
		return nil
	},
}

func formatStatus(st tasksnap.SyncStatus) string {
	line := st.State.String()
	if !st.LastSyncedAt.IsZero() {
		line += fmt.Sprintf("  (last synced %s)", humanize.Time(st.LastSyncedAt))
	}
	if st.Err != nil {
		line += "  " + tasksnap.Describe(st.Err)
	}
	return line
}

var replicationStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetBool("watch")

		a, err := newApp(cmd.Context(), "Status")
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Println(formatStatus(a.Status()))
		if !watch {
			return nil
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		a.WatchStatus(ctx, func(st tasksnap.SyncStatus) {
			fmt.Printf("%s  %s\n", time.Now().Format("15:04:05"), formatStatus(st))
		})
		return nil
	},
}

var replicationSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push local changes and check the replica",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Sync")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Sync(cmd.Context()); err != nil {
			return err
		}
		fmt.Println(formatStatus(a.Status()))
		return nil
	},
}

// snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage snapshots",
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Export the store to a snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "SnapshotCreate")
		if err != nil {
			return err
		}
		defer a.Close()

		meta, err := a.CreateSnapshot(cmd.Context(), printProgress)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return err
		}
		fmt.Printf("Created snapshot %s (%d records, %s)\n", meta.ID, meta.RecordCount, humanize.Bytes(uint64(meta.FileSize)))
		return nil
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "SnapshotList")
		if err != nil {
			return err
		}
		defer a.Close()

		list, err := a.ListSnapshots()
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No snapshots.")
			return nil
		}

		for _, m := range list {
			kind := "manual"
			if m.IsAutomatic {
				kind = "auto"
			}
			fmt.Printf("%s  %-6s  %6d records  %8s  %-15s  %s\n",
				m.ID,
				kind,
				m.RecordCount,
				humanize.Bytes(uint64(m.FileSize)),
				humanize.Time(m.CreatedAt),
				m.DeviceName,
			)
		}
		return nil
	},
}

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore ID",
	Short: "Replace the store contents with a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		unlock, _ := cmd.Flags().GetBool("unlock")

		var passphrase string
		if unlock {
			p, err := readPassphrase("Passphrase: ")
			if err != nil {
				return err
			}
			passphrase = p
		}

		a, err := newApp(cmd.Context(), "SnapshotRestore")
		if err != nil {
			return err
		}
		defer a.Close()

		err = a.RestoreSnapshot(cmd.Context(), args[0], passphrase, printProgress)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return err
		}
		fmt.Printf("Restored snapshot %s\n", args[0])
		return nil
	},
}

var snapshotDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "SnapshotDelete")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DeleteSnapshot(args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted snapshot %s\n", args[0])
		return nil
	},
}

var snapshotScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Create an automatic snapshot if one is due",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "SnapshotSchedule")
		if err != nil {
			return err
		}
		defer a.Close()

		meta, err := a.ScheduleSnapshot(cmd.Context())
		if err != nil {
			return err
		}
		if meta == nil {
			fmt.Println("No snapshot created.")
			return nil
		}
		fmt.Printf("Created automatic snapshot %s\n", meta.ID)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "History")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.History(limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt != nil {
				duration = op.FinishedAt.Sub(op.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-18s  %s  %-8s  %-10s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Local().Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
				op.Parameters,
			)
		}
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the key pair for encrypted replica snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		passphrase, err := readPassphrase("New passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Repeat passphrase: ")
		if err != nil {
			return err
		}
		if passphrase != confirm {
			return errors.New("passphrases do not match")
		}

		a, err := newApp(cmd.Context(), "KeysInit")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.InitKeys(passphrase); err != nil {
			return err
		}
		fmt.Println("Keys created.")
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// replication subcommands
	replicationCmd.AddCommand(replicationEnableCmd)
	replicationCmd.AddCommand(replicationDisableCmd)
	replicationCmd.AddCommand(replicationStatusCmd)
	replicationStatusCmd.Flags().BoolP("watch", "w", false, "Keep printing status changes until interrupted")
	replicationCmd.AddCommand(replicationSyncCmd)

	// snapshot subcommands
	snapshotCmd.AddCommand(snapshotCreateCmd)
	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotCmd.AddCommand(snapshotRestoreCmd)
	snapshotRestoreCmd.Flags().Bool("unlock", false, "Prompt for the passphrase to read encrypted replica copies")
	snapshotCmd.AddCommand(snapshotDeleteCmd)
	snapshotCmd.AddCommand(snapshotScheduleCmd)

	keysCmd.AddCommand(keysInitCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(replicationCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
	rootCmd.AddCommand(keysCmd)
}
