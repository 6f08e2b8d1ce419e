package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codectx/codectx/internal/guard"
	"github.com/codectx/codectx/internal/index"
	"github.com/codectx/codectx/internal/mcp"
	"github.com/codectx/codectx/internal/retrieve"
	"github.com/codectx/codectx/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Expose retrieval to AI clients over MCP (stdio)",
		Long: `Serve runs the Model Context Protocol server on stdin/stdout. It
registers three tools: codebase_retrieve for budgeted context assembly,
codebase_search for direct identifier lookup, and codebase_feedback for
rating answers and reporting missing units.

With the memory vector backend, vectors are rebuilt in-process at
startup so the server answers at full quality without persisted state.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	e, err := openEnv(cfgFile)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The memory backend holds nothing across processes; rebuild vectors
	// before accepting queries. No checkpoint here: the point is to embed.
	if e.vectors.Count() == 0 && len(e.units) > 0 {
		e.logger.Info("vector store empty, indexing corpus in-process",
			"units", len(e.units))
		indexer := index.NewIndexer(
			e.embedder, e.vectors, e.metadata, e.keywords, e.graph, "",
			index.WithBatchSize(e.cfg.Index.BatchSize),
			index.WithMaxInFlight(e.cfg.Index.MaxInFlight),
			index.WithLogger(e.logger),
		)
		if _, err := indexer.IndexAll(ctx, e.units); err != nil {
			e.logger.Error("startup indexing failed, serving degraded", "error", err)
		}
	}

	recorder := telemetry.NewRecorder(e.path(tracesFile), telemetry.DefaultCapacity)
	retriever := e.retriever(retrieve.WithTraceSink(recorder.Sink()))
	feedback := guard.NewFeedbackStore(e.path(feedbackFile))

	server, err := mcp.NewServer(retriever, e.metadata, feedback, mcp.WithServerLogger(e.logger))
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}
