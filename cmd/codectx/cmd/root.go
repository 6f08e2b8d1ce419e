// Package cmd provides the CLI commands for codectx.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/codectx/codectx/pkg/version"
)

// cfgFile holds the --config flag value shared by all subcommands.
var cfgFile string

// NewRootCmd creates the root command for the codectx CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codectx",
		Short: "Semantic retrieval over extracted codebases",
		Long: `codectx indexes code units produced by an external extractor and
answers natural language questions about the codebase with ranked,
token-budgeted source context.

Typical flow:
  codectx index                      build the searchable stores
  codectx retrieve "how are invoices settled"
  codectx serve                      expose retrieval over MCP (stdio)`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.SetVersionTemplate("codectx version {{.Version}}\n")
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default .codectx.yml)")

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newRetrieveCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
