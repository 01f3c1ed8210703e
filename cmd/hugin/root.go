package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "hugin",
		Short:         "Interaction-stack agent runtime",
		Long:          "hugin drives LLM-backed agents through typed, branch-aware interaction stacks: tool calls, delegations, human approvals, timed waits, and task pipelines.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newInitCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newStateCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hugin %s (%s)\n", version, commit)
		},
	})
	return root
}
