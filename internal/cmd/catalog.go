package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/harrison/ultrasession/internal/acq"
	"github.com/harrison/ultrasession/internal/catalog"
	"github.com/harrison/ultrasession/internal/config"
	"github.com/harrison/ultrasession/internal/logger"
	"github.com/spf13/cobra"
)

func newCatalogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog <expdir>",
		Short: "Index every run below an experiment directory",
		Long: `Index every run directory below <expdir> into the SQLite run catalog.

Directories whose names are not acquisition timestamps are searched but not
indexed. Re-indexing a run replaces its row, and rows of runs whose
directories were removed are pruned.`,
		Args: exactArgs(1),
		RunE: runCatalog,
	}
	cmd.PersistentFlags().String("db", "", "Catalog database (default: <expdir>/.ultrasession/catalog.db)")
	cmd.AddCommand(newCatalogWatchCommand())
	return cmd
}

func newCatalogWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <expdir>",
		Short: "Index runs as their sync tables appear",
		Args:  exactArgs(1),
		RunE:  runCatalogWatch,
	}
	cmd.Flags().Duration("debounce", catalog.DefaultDebounceDelay, "Quiet period after the last write before a run is indexed")
	return cmd
}

// openCatalog opens the catalog for expDir. dbOverride replaces the
// configured database path; a relative configured path lives below expDir.
func openCatalog(cfg *config.Config, expDir, dbOverride string) (*catalog.Store, *catalog.Indexer, error) {
	kind, err := acq.LookupKind(cfg.ArtifactKind)
	if err != nil {
		return nil, nil, err
	}
	dbPath := dbOverride
	if dbPath == "" {
		dbPath = cfg.Catalog.DBPath
		if !filepath.IsAbs(dbPath) {
			dbPath = filepath.Join(expDir, dbPath)
		}
	}
	store, err := catalog.Open(dbPath)
	if err != nil {
		return nil, nil, err
	}
	ix, err := catalog.NewIndexer(store, expDir, kind)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, ix, nil
}

func catalogForArgs(cmd *cobra.Command, expDir string) (*config.Config, *catalog.Store, *catalog.Indexer, error) {
	info, err := os.Stat(expDir)
	if err != nil {
		return nil, nil, nil, &ArgumentError{Msg: "experiment directory", Err: err}
	}
	if !info.IsDir() {
		return nil, nil, nil, &ArgumentError{Msg: fmt.Sprintf("%s is not a directory", expDir)}
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	dbOverride, _ := cmd.Flags().GetString("db")
	store, ix, err := openCatalog(cfg, expDir, dbOverride)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, store, ix, nil
}

func runCatalog(cmd *cobra.Command, args []string) error {
	_, store, ix, err := catalogForArgs(cmd, args[0])
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	n, indexErr := ix.IndexTree(ctx)
	version, err := store.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Indexed %d runs into %s (schema v%d)\n", n, store.Path(), version)

	pruned, err := ix.Prune(ctx)
	if err != nil {
		return fmt.Errorf("prune catalog: %w", err)
	}
	if pruned > 0 {
		fmt.Fprintf(out, "Pruned %d runs whose directories are gone\n", pruned)
	}
	if indexErr != nil {
		return fmt.Errorf("some runs could not be indexed: %w", indexErr)
	}
	return nil
}

// describeIndexed summarizes a freshly indexed run from its catalog row.
func describeIndexed(ctx context.Context, store *catalog.Store, ev catalog.IndexEvent) string {
	rec, err := store.Get(ctx, ev.Timestamp)
	if err != nil {
		return fmt.Sprintf("%s: indexed (%s)", ev.Timestamp, ev.Status)
	}
	return fmt.Sprintf("%s: indexed (%s, %d pulses, %.2f Hz)",
		ev.Timestamp, rec.Status, rec.PulseCount.OrElse(0), rec.FrameRate.OrElse(0))
}

func runCatalogWatch(cmd *cobra.Command, args []string) error {
	cfg, store, ix, err := catalogForArgs(cmd, args[0])
	if err != nil {
		return err
	}
	defer store.Close()
	log := logger.NewConsoleLogger(cmd.OutOrStdout(), cfg.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := ix.IndexTree(ctx)
	if err != nil {
		log.LogWarn(err.Error())
	}
	log.LogInfo(fmt.Sprintf("Indexed %d existing runs into %s", n, store.Path()))

	w, err := catalog.NewWatcher(ix)
	if err != nil {
		return fmt.Errorf("watch %s: %w", ix.ExpDir(), err)
	}
	defer w.Close()
	if debounce, _ := cmd.Flags().GetDuration("debounce"); debounce > 0 {
		w.SetDebounceDelay(debounce)
	}
	log.LogInfo(fmt.Sprintf("Watching %s (Ctrl-C to stop)", ix.ExpDir()))

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case ev := <-w.Events():
			if ev.Err != nil {
				log.LogWarn(fmt.Sprintf("%s: %v", ev.Timestamp, ev.Err))
				continue
			}
			log.LogInfo(describeIndexed(ctx, store, ev))
		case err := <-w.Errors():
			log.LogError(err.Error())
		}
	}
}
