package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dupi-go/internal/app"
	"dupi-go/internal/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func readConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates a DupiApp. The caller must close it
// with closeApp.
// operation identifies the CLI command being run (e.g. "Scan", "Plan").
func newApp(ctx context.Context, operation string) (*app.DupiApp, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewDupiApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// closeApp closes a and reports a close failure through err unless the
// command already failed. Closing ignores cancellation so an interrupted
// scan still publishes what it wrote.
func closeApp(ctx context.Context, a *app.DupiApp, err *error) {
	if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil && *err == nil {
		*err = cerr
	}
}

var rootCmd = &cobra.Command{
	Use:          "dupi",
	Short:        "Content-identity index and duplicate finder",
	SilenceUsage: true,
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
		cfg := config.NewConfig(hostID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Host ID:  %s\n", hostID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
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
		cfg, err := readConfig()
		if err != nil {
			return err
		}

		fmt.Printf("# Configuration from %s\n", defaults["config_path"])
		fmt.Printf("# Catalog: %s\n\n", app.CatalogFile(cfg))
		m := &config.Manager{}
		return m.Write(os.Stdout, cfg)
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage snapshot encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the snapshot key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		passphrase, err := readNewPassphrase()
		if err != nil {
			return err
		}
		if err := app.InitKeys(cfg, passphrase); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}
		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s\n", cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// keys subcommands
	keysCmd.AddCommand(keysInitCmd)

	// scan and watch
	for _, c := range []*cobra.Command{scanCmd, watchCmd} {
		c.Flags().BoolP("follow-symlinks", "L", false, "Descend into symlinked directories")
		c.Flags().StringArrayP("exclude", "x", nil, "Skip paths matching this pattern (repeatable)")
		c.Flags().IntP("workers", "j", 0, "Number of hashing workers (default: number of CPUs)")
		c.Flags().Bool("lazy", false, "Only compute strong hashes for fingerprint collisions")
	}
	scanCmd.Flags().BoolP("verbose", "v", false, "List every soft failure")

	for _, c := range []*cobra.Command{scanCmd, dupesCmd, planCmd} {
		c.Flags().String("format", "text", "Output format: text or json")
	}

	// dedup
	for _, c := range []*cobra.Command{dupesCmd, planCmd} {
		c.Flags().String("policy", "", "Canonical selection policy: oldest, newest, shortest, longest or prefer")
		c.Flags().StringArray("prefer", nil, "Path prefix to keep for the prefer policy (repeatable)")
		c.Flags().String("min-size", "", "Skip groups of files smaller than this, e.g. 1MiB")
	}
	planCmd.Flags().String("action", "", "Action for redundant copies: hardlink, symlink, delete or move")
	planCmd.Flags().String("move-to", "", "Quarantine directory for the move action")

	listCmd.Flags().Bool("missing", false, "Only show records whose files have disappeared")
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of scan runs to show")
	historyCmd.Flags().Int64("run", 0, "Show the soft failures of one run")

	// snapshot subcommands
	snapshotCmd.AddCommand(snapshotPushCmd)
	snapshotCmd.AddCommand(snapshotCheckCmd)
	snapshotCmd.AddCommand(snapshotRestoreCmd)
	snapshotRestoreCmd.Flags().String("archive", "", "Archive to restore from (default: the first configured)")
	snapshotRestoreCmd.Flags().Bool("force", false, "Replace a local catalog that is newer than the snapshot")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(dupesCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(rootsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(snapshotCmd)
}
