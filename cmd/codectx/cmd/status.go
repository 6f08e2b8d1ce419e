package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/codectx/codectx/internal/guard"
	"github.com/codectx/codectx/internal/telemetry"
)

// statusOutput is the JSON shape of `codectx status --json`.
type statusOutput struct {
	Corpus  *guard.StatusReport     `json:"corpus"`
	Health  []guard.ComponentHealth `json:"health"`
	Queries int                     `json:"queries_recorded"`
	Gaps    *guard.GapReport        `json:"gaps,omitempty"`
}

func newStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report corpus freshness and component health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, asJSON bool) error {
	e, err := openEnv(cfgFile)
	if err != nil {
		return err
	}
	defer e.Close()

	report := guard.NewStatusReporter(e.cfg.Index.Dir, guard.DefaultStaleAge).Report()
	health := guard.NewHealthCheck(e.vectors, e.metadata, e.keywords, e.graph, e.embedder).Check(ctx)
	traces, _ := telemetry.Load(e.path(tracesFile))

	// Feedback-derived gaps; the file may simply not exist yet.
	feedback := guard.NewFeedbackStore(e.path(feedbackFile))
	gaps, gapErr := guard.NewGapDetector(feedback).Detect()
	if gapErr != nil {
		e.logger.Warn("cannot read feedback log", "error", gapErr)
		gaps = nil
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(statusOutput{Corpus: report, Health: health, Queries: len(traces), Gaps: gaps})
	}

	fmt.Fprintf(out, "Corpus: %s", report.Status)
	if report.Status != guard.StatusNotExtracted {
		age := time.Duration(report.StalenessSeconds) * time.Second
		fmt.Fprintf(out, " (%d units, extracted %s ago)", report.TotalUnits, age.Round(time.Second))
	}
	fmt.Fprintln(out)
	if report.GitSHA != "" {
		fmt.Fprintf(out, "Git: %s @ %s\n", report.GitBranch, report.GitSHA)
	}

	fmt.Fprintln(out, "Components:")
	for _, c := range health {
		line := fmt.Sprintf("  %-10s %s", c.Component, c.State)
		if c.Detail != "" {
			line += " (" + c.Detail + ")"
		}
		fmt.Fprintln(out, line)
	}

	fmt.Fprintf(out, "Queries recorded: %d\n", len(traces))

	if gaps != nil && (len(gaps.LowScoreKeywords) > 0 || len(gaps.MissingUnits) > 0) {
		fmt.Fprintln(out, "Retrieval gaps:")
		for _, g := range gaps.LowScoreKeywords {
			fmt.Fprintf(out, "  low-score keyword %q (%d reports)\n", g.Term, g.Count)
		}
		for _, g := range gaps.MissingUnits {
			fmt.Fprintf(out, "  missing unit %q (%d reports)\n", g.Term, g.Count)
		}
	}
	return nil
}
