package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codectx/codectx/internal/corpus"
	cerrors "github.com/codectx/codectx/internal/errors"
	"github.com/codectx/codectx/internal/guard"
	"github.com/codectx/codectx/internal/index"
	"github.com/codectx/codectx/internal/unit"
	"github.com/codectx/codectx/internal/watch"
)

type indexOptions struct {
	incremental bool
	watch       bool
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build the searchable stores from extracted units",
		Long: `Index reads the extractor's unit records from the index directory,
chunks and embeds them, and writes the vector, metadata, keyword, and
graph stores. A checkpoint records per-unit source hashes so re-running
over an unchanged corpus performs zero embedding calls.

Examples:
  codectx index
  codectx index --incremental
  codectx index --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.incremental, "incremental", false, "Only re-index units whose source changed")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Keep running and re-index when unit records change")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, opts indexOptions) error {
	e, err := openEnv(cfgFile)
	if err != nil {
		return err
	}
	defer e.Close()

	dir := e.cfg.Index.Dir
	out := cmd.OutOrStdout()

	if e.cfg.Index.Cooldown > 0 {
		g := guard.NewPipelineGuard(dir, e.cfg.Index.Cooldown)
		if !g.Allow(indexLockName) {
			fmt.Fprintf(out, "Index ran at %s, within the %s cooldown; skipping.\n",
				g.LastRun(indexLockName).Format("15:04:05"), e.cfg.Index.Cooldown)
			return nil
		}
		defer func() {
			if err := g.Record(indexLockName); err != nil {
				e.logger.Warn("cannot record index run", "error", err)
			}
		}()
	}

	lock := guard.NewPipelineLock(dir, indexLockName,
		guard.WithStaleAfter(e.cfg.Index.LockTimeout),
		guard.WithLockLogger(e.logger))

	indexer := index.NewIndexer(
		e.embedder, e.vectors, e.metadata, e.keywords, e.graph,
		e.path(checkpointFile),
		index.WithBatchSize(e.cfg.Index.BatchSize),
		index.WithMaxInFlight(e.cfg.Index.MaxInFlight),
		index.WithLogger(e.logger),
	)

	run := func(units []*unit.Unit) (*index.Stats, error) {
		var stats *index.Stats
		err := lock.WithLock(func() error {
			var rerr error
			if opts.incremental {
				stats, rerr = indexer.IndexIncremental(ctx, units)
			} else {
				stats, rerr = indexer.IndexAll(ctx, units)
			}
			if rerr != nil {
				return rerr
			}
			return e.saveVectors()
		})
		return stats, err
	}

	stats, err := run(e.units)
	if err != nil {
		if esc := cerrors.NewEscalator().Escalate(err); esc.Remediation != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "hint: %s\n", esc.Remediation)
		}
		return err
	}
	printStats(cmd, stats)

	if !opts.watch {
		return nil
	}

	// Watch mode: reload the corpus and re-index incrementally after each
	// settled change burst.
	watcher := watch.NewWatcher(dir, func(ctx context.Context, changed []string) error {
		units, lerr := corpus.NewLoader(dir, e.logger).LoadAll()
		if lerr != nil {
			return lerr
		}
		var stats *index.Stats
		werr := lock.WithLock(func() error {
			var rerr error
			stats, rerr = indexer.IndexIncremental(ctx, units)
			if rerr != nil {
				return rerr
			}
			return e.saveVectors()
		})
		if werr != nil {
			return werr
		}
		printStats(cmd, stats)
		return nil
	}, watch.WithWatchLogger(e.logger))

	fmt.Fprintf(out, "Watching %s for changes (Ctrl-C to stop)...\n", dir)
	if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func printStats(cmd *cobra.Command, stats *index.Stats) {
	fmt.Fprintf(cmd.OutOrStdout(),
		"Indexed %d of %d units (%d unchanged, %d chunks embedded, %d batches failed)\n",
		stats.UnitsIndexed, stats.UnitsSeen, stats.UnitsSkipped,
		stats.ChunksEmbedded, stats.BatchesFailed)
}
