package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gimlelabs/hugin/internal/config"
)

func newInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a starter configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "hugin.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists, use --force to overwrite", path)
				}
			}
			data, err := yaml.Marshal(starterConfig())
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s wrote %s\n", bold("hugin:"), green(path))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}

func starterConfig() *config.Config {
	return &config.Config{
		Session: config.SessionConfig{
			ID:     "demo",
			Agents: []string{"main"},
		},
		Templates: map[string]string{
			"preamble": "You are a careful agent. Use the finish tool to close the task.",
		},
		Tasks: []config.TaskTemplate{
			{
				Name:        "echo_roundtrip",
				Description: "Minimal wiring check: echo an input back.",
				Prompt:      "{{include:preamble}} Echo the message {{input.msg}}.",
				Inputs:      []config.InputSpec{{Name: "msg", Required: true}},
			},
		},
		Logging: config.LoggingConfig{Level: "info", Format: "text"},
	}
}
