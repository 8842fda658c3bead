package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"snapvault/internal/catalog"
	"snapvault/internal/config"
	"snapvault/internal/logging"
	"snapvault/internal/metrics"
	"snapvault/internal/server"
	"snapvault/internal/vault"
)

var (
	// Global flags
	configPath string
	vaultDir   string
	verbose    bool
	timeout    time.Duration

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "snapvault",
	Short: "SnapVault - local snapshot vault",
	Long: `SnapVault stores JSON state snapshots on the local filesystem, one
file per snapshot, compressed and optionally sealed at rest. A manifest
(index.json) describes the vault contents; a SQLite catalog tracks access
history and drives eviction into an archive tier.

Run 'snapvault serve' to expose the vault over HTTP.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if vaultDir != "" {
			cfg.Vault.Dir = vaultDir
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return logging.Init(cfg.Logging)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

// serveCmd runs the HTTP API server with the background maintenance loop.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the vault over HTTP",
	Long: `Starts the HTTP API server and the background maintenance loop.
The server shuts down gracefully on SIGINT/SIGTERM.`,
	RunE: runServe,
}

// initCmd initializes a vault directory and writes a starter config.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a vault directory",
	RunE:  runInit,
}

// putCmd stores a snapshot from a file or stdin.
var putCmd = &cobra.Command{
	Use:   "put [id]",
	Short: "Store a snapshot from a JSON file or stdin",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPut,
}

// getCmd prints a snapshot payload.
var getCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Print a snapshot payload",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

// restoreCmd restores a snapshot, rehydrating from archive if needed.
var restoreCmd = &cobra.Command{
	Use:   "restore [id]",
	Short: "Restore a snapshot and mark it as the restore point",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestore,
}

// mergeCmd merges two snapshots.
var mergeCmd = &cobra.Command{
	Use:   "merge [base] [overlay]",
	Short: "Merge overlay onto base into a new snapshot",
	Long: `Merges two snapshots deterministically: objects merge key-wise with
the overlay winning conflicts, a null overlay value deletes the key, arrays
and scalars are replaced wholesale.`,
	Args: cobra.ExactArgs(2),
	RunE: runMerge,
}

// listCmd lists live snapshots.
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List live snapshots",
	RunE:  runList,
}

// rmCmd deletes a snapshot.
var rmCmd = &cobra.Command{
	Use:   "rm [id]",
	Short: "Delete a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runRm,
}

// gcCmd runs a maintenance cycle.
var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Run catalog maintenance (purge expired archive, prune logs, vacuum)",
	RunE:  runGC,
}

// statusCmd shows vault status.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vault status",
	RunE:  runStatus,
}

var (
	putTarget   string
	mergeTarget string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "snapvault.yaml", "Config file path")
	rootCmd.PersistentFlags().StringVarP(&vaultDir, "dir", "d", "", "Vault directory (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Operation timeout")

	putCmd.Flags().StringVarP(&putTarget, "file", "f", "-", "Payload file ('-' for stdin)")
	mergeCmd.Flags().StringVarP(&mergeTarget, "target", "t", "", "Target snapshot id (default: generated)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openVault opens the configured vault with metrics attached.
func openVault(watch bool) (*vault.Vault, *metrics.Registry, *metrics.Bus, error) {
	metricsDir := ""
	if cfg.Metrics.Persist {
		metricsDir = cfg.Vault.Dir
	}
	reg, err := metrics.NewRegistry(metricsDir, cfg.GetMetricsFlushInterval())
	if err != nil {
		return nil, nil, nil, err
	}
	bus := metrics.NewBus()

	passphrase, err := cfg.Passphrase()
	if err != nil {
		return nil, nil, nil, err
	}

	v, err := vault.Open(cfg.Vault.Dir, vault.Options{
		MaxBytes:          cfg.Vault.MaxBytes,
		MinAge:            cfg.GetMinAge(),
		CompressThreshold: cfg.Vault.CompressThreshold,
		Passphrase:        passphrase,
		KDFIterations:     cfg.Vault.KDFIterations,
		Watch:             watch,
		Bus:               bus,
		Registry:          reg,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return v, reg, bus, nil
}

func closeVault(v *vault.Vault, reg *metrics.Registry, bus *metrics.Bus) {
	if err := v.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to close vault: %v\n", err)
	}
	_ = reg.Save()
	bus.Close()
}

// runServe starts the HTTP server and the maintenance loop.
func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	v, reg, bus, err := openVault(true)
	if err != nil {
		return err
	}
	defer closeVault(v, reg, bus)

	srv := server.New(cfg.Server, v, reg, bus)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx, cfg.GetShutdownTimeout())
	})
	g.Go(func() error {
		return maintenanceLoop(gctx, v)
	})

	return g.Wait()
}

// maintenanceLoop runs catalog maintenance on the configured interval.
func maintenanceLoop(ctx context.Context, v *vault.Vault) error {
	ticker := time.NewTicker(cfg.GetMaintenanceInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_, err := v.Maintenance(ctx, catalog.MaintenanceConfig{
				PurgeArchivedAfter: cfg.GetPurgeArchivedAfter(),
				PruneAccessLogDays: 30,
				Vacuum:             cfg.Maintenance.Vacuum,
			})
			if err != nil {
				logging.For(logging.CategoryMaintenance).Warn("maintenance cycle failed")
			}
		}
	}
}

// runInit creates the vault directory and writes a starter config file.
func runInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config %s already exists. Delete it to reinitialize.\n", configPath)
		return nil
	}

	if err := os.MkdirAll(cfg.Vault.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create vault directory: %w", err)
	}
	if err := cfg.Save(configPath); err != nil {
		return err
	}

	v, reg, bus, err := openVault(false)
	if err != nil {
		return err
	}
	closeVault(v, reg, bus)

	fmt.Printf("Vault initialized at %s (config: %s)\n", cfg.Vault.Dir, configPath)
	return nil
}

func runPut(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	id := ""
	if len(args) > 0 {
		id = args[0]
	}

	var payload []byte
	var err error
	if putTarget == "-" {
		payload, err = io.ReadAll(os.Stdin)
	} else {
		payload, err = os.ReadFile(putTarget)
	}
	if err != nil {
		return fmt.Errorf("failed to read payload: %w", err)
	}

	v, reg, bus, err := openVault(false)
	if err != nil {
		return err
	}
	defer closeVault(v, reg, bus)

	snap, err := v.Put(ctx, id, payload, nil)
	if err != nil {
		return err
	}
	fmt.Printf("Stored %s (revision %d)\n", snap.ID, snap.Revision)
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	v, reg, bus, err := openVault(false)
	if err != nil {
		return err
	}
	defer closeVault(v, reg, bus)

	snap, err := v.Get(ctx, args[0])
	if err != nil {
		return err
	}
	os.Stdout.Write(snap.Payload)
	fmt.Println()
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	v, reg, bus, err := openVault(false)
	if err != nil {
		return err
	}
	defer closeVault(v, reg, bus)

	snap, err := v.Restore(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Restored %s (revision %d)\n", snap.ID, snap.Revision)
	os.Stdout.Write(snap.Payload)
	fmt.Println()
	return nil
}

func runMerge(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	v, reg, bus, err := openVault(false)
	if err != nil {
		return err
	}
	defer closeVault(v, reg, bus)

	snap, err := v.Merge(ctx, args[0], args[1], mergeTarget)
	if err != nil {
		return err
	}
	fmt.Printf("Merged %s + %s -> %s\n", args[0], args[1], snap.ID)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	v, reg, bus, err := openVault(false)
	if err != nil {
		return err
	}
	defer closeVault(v, reg, bus)

	entries, err := v.List(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("Vault is empty")
		return nil
	}
	for _, e := range entries {
		flags := ""
		if e.Compressed {
			flags += "z"
		}
		if e.Sealed {
			flags += "s"
		}
		fmt.Printf("%-40s rev=%-3d size=%-8d %s %s\n",
			e.ID, e.Revision, e.Size, e.UpdatedAt.Format(time.RFC3339), flags)
	}
	return nil
}

func runRm(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	v, reg, bus, err := openVault(false)
	if err != nil {
		return err
	}
	defer closeVault(v, reg, bus)

	if err := v.Delete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", args[0])
	return nil
}

func runGC(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	v, reg, bus, err := openVault(false)
	if err != nil {
		return err
	}
	defer closeVault(v, reg, bus)

	stats, err := v.Maintenance(ctx, catalog.MaintenanceConfig{
		PurgeArchivedAfter: cfg.GetPurgeArchivedAfter(),
		PruneAccessLogDays: 30,
		Vacuum:             cfg.Maintenance.Vacuum,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Maintenance complete: purged=%d, access_logs_deleted=%d, vacuumed=%v\n",
		stats.ArchivedPurged, stats.AccessLogsDeleted, stats.Vacuumed)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	v, reg, bus, err := openVault(false)
	if err != nil {
		return err
	}
	defer closeVault(v, reg, bus)

	stats, err := v.VaultStats(ctx)
	if err != nil {
		return err
	}

	fmt.Println("SnapVault Status")
	fmt.Println("================")
	fmt.Printf("Vault:         %s\n", cfg.Vault.Dir)
	fmt.Printf("Snapshots:     %d\n", stats.Snapshots)
	fmt.Printf("Live bytes:    %d\n", stats.LiveBytes)
	fmt.Printf("Archived:      %d\n", stats.Archived)
	fmt.Printf("Sealed:        %v\n", stats.Sealed)
	if stats.RestorePoint != "" {
		fmt.Printf("Restore point: %s\n", stats.RestorePoint)
	}

	m := reg.StatsSnapshot()
	if len(m.Counters) > 0 {
		data, _ := json.MarshalIndent(m.Counters, "", "  ")
		fmt.Printf("Counters:      %s\n", data)
	}
	return nil
}
