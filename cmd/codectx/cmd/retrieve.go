package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/codectx/codectx/internal/assemble"
	"github.com/codectx/codectx/internal/retrieve"
)

type retrieveOptions struct {
	budget int
	format string
}

func newRetrieveCmd() *cobra.Command {
	var opts retrieveOptions

	cmd := &cobra.Command{
		Use:   "retrieve <query>",
		Short: "Answer a question about the codebase with assembled context",
		Long: `Retrieve classifies the query, runs hybrid semantic/keyword/graph
search over the indexed stores, and prints ranked source context within
the token budget. When stores are unavailable retrieval degrades through
keyword, graph, and direct lookup instead of failing.

Examples:
  codectx retrieve "how are invoices settled"
  codectx retrieve "User email validation" --budget 4000
  codectx retrieve "PaymentService" --format markdown`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetrieve(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.budget, "budget", "b", 0, "Token budget (default from config, 8000)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "", "Output format: xml, markdown, plain, human (default: human on a terminal)")

	return cmd
}

func runRetrieve(ctx context.Context, cmd *cobra.Command, query string, opts retrieveOptions) error {
	format := opts.format
	if format == "" {
		format = assemble.FormatPlain
		if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
			format = assemble.FormatHuman
		}
	}
	if _, err := assemble.NewFormatter(format); err != nil {
		return err
	}
	if opts.budget < 0 {
		return fmt.Errorf("budget must not be negative")
	}

	e, err := openEnv(cfgFile)
	if err != nil {
		return err
	}
	defer e.Close()

	if e.vectors.Count() == 0 {
		e.logger.Warn("vector store is empty, semantic search unavailable",
			"hint", "run 'codectx index' with the hnsw backend")
	}

	qopts := []retrieve.QueryOption{retrieve.WithQueryFormat(format)}
	if opts.budget > 0 {
		qopts = append(qopts, retrieve.WithBudget(opts.budget))
	}

	result := e.retriever().Retrieve(ctx, query, qopts...)

	if result.Trace.DegradationTier == retrieve.TierUnavailable {
		return fmt.Errorf("no retrieval source available: %s", formatErrorMetadata(result.ErrorMetadata))
	}

	fmt.Fprintln(cmd.OutOrStdout(), result.Context)
	return nil
}

func formatErrorMetadata(meta map[string]string) string {
	if len(meta) == 0 {
		return "all stores failed"
	}
	parts := make([]string, 0, len(meta))
	for source, msg := range meta {
		parts = append(parts, fmt.Sprintf("%s: %s", source, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}
