package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gimlelabs/hugin/internal/stack/filestore"
)

func newStateCmd() *cobra.Command {
	var stateDir string
	cmd := &cobra.Command{
		Use:   "state [stack-id]",
		Short: "Inspect persisted stack snapshots",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := filestore.New(stateDir, nil)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				return listSnapshots(cmd, store)
			}
			return showSnapshot(cmd, store, args[0])
		},
	}
	cmd.Flags().StringVar(&stateDir, "state-dir", "state", "directory holding stack snapshots")
	return cmd
}

func listSnapshots(cmd *cobra.Command, store *filestore.Store) error {
	ids, err := store.List()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), gray("no snapshots"))
		return nil
	}
	for _, id := range ids {
		snap, err := store.LoadSnapshot(id)
		if err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", id, red(err.Error()))
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  agent=%s  branches=%d  records=%d  saved=%s\n",
			id, snap.Agent, len(snap.Branches), len(snap.Records), snap.SavedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func showSnapshot(cmd *cobra.Command, store *filestore.Store, id string) error {
	restored, err := store.Load(id, nil)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s (agent %s)\n", bold("stack"), restored.ID(), restored.Agent())
	for _, summary := range restored.CompareBranches() {
		fmt.Fprintf(out, "  %s%s\n", bold(summary.Name), gray(fmt.Sprintf(" (%d/%d stepped)", summary.Stepped, summary.Length)))
		for i, rec := range restored.BranchInteractions(summary.Name) {
			marker := "·"
			if i >= summary.Stepped {
				marker = yellow("?")
			}
			fmt.Fprintf(out, "    %s %-16s %s\n", marker, rec.Kind(), gray(rec.ID()))
		}
	}
	namespaces := restored.SharedState().Namespaces()
	if len(namespaces) > 0 {
		fmt.Fprintf(out, "  %s\n", bold("shared state"))
		for _, ns := range namespaces {
			for key, value := range restored.SharedState().All(ns) {
				fmt.Fprintf(out, "    %s.%s = %v\n", ns, key, value)
			}
		}
	}
	return nil
}
