package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/gimlelabs/hugin/internal/config"
	"github.com/gimlelabs/hugin/internal/engine"
	"github.com/gimlelabs/hugin/internal/interaction"
	"github.com/gimlelabs/hugin/internal/logging"
	"github.com/gimlelabs/hugin/internal/oracle"
	"github.com/gimlelabs/hugin/internal/session"
	"github.com/gimlelabs/hugin/internal/stack"
	"github.com/gimlelabs/hugin/internal/stack/filestore"
	"github.com/gimlelabs/hugin/internal/tool"
	"github.com/gimlelabs/hugin/internal/tool/builtin"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

type runFlags struct {
	configPath    string
	task          string
	inputs        []string
	decisionsPath string
	stateDir      string
	maxHeartbeats int
}

func newRunCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a task through the interaction engine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSession(cmd.Context(), flags)
		},
	}
	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "hugin.yaml", "configuration file")
	cmd.Flags().StringVarP(&flags.task, "task", "t", "", "task template to run")
	cmd.Flags().StringArrayVarP(&flags.inputs, "input", "i", nil, "task input as key=value (repeatable)")
	cmd.Flags().StringVar(&flags.decisionsPath, "decisions", "", "file of scripted oracle decisions, one JSON object per line")
	cmd.Flags().StringVar(&flags.stateDir, "state-dir", "", "directory for stack snapshots")
	cmd.Flags().IntVar(&flags.maxHeartbeats, "max-heartbeats", 100, "heartbeat budget before a waiting run is parked")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

func runSession(ctx context.Context, flags *runFlags) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Component: "hugin",
	})

	tasks, err := config.NewTaskSet(cfg)
	if err != nil {
		return err
	}
	inputs, err := parseInputs(flags.inputs)
	if err != nil {
		return err
	}
	if err := tasks.ValidateInputs(flags.task, inputs); err != nil {
		return err
	}

	var decider oracle.Oracle
	if flags.decisionsPath != "" {
		decider, err = loadScriptedOracle(flags.decisionsPath)
		if err != nil {
			return err
		}
	}

	registry := tool.NewRegistry()
	builtin.RegisterAll(registry)

	sess := session.New(session.Options{
		ID:         cfg.Session.ID,
		Tools:      registry,
		AllowTools: cfg.Tools.Allow,
		Tasks:      tasks,
		Oracle:     decider,
		Logger:     logger,
		Metrics:    engine.DefaultMetrics(),
	})
	agents := cfg.Session.Agents
	if len(agents) == 0 {
		agents = []string{"main"}
	}
	for _, name := range agents {
		if _, err := sess.AddAgent(name); err != nil {
			return err
		}
	}
	lead, _ := sess.Engine(agents[0])

	def := interaction.New(&interaction.TaskDefinition{Template: flags.task, Inputs: inputs})
	if err := lead.Stack().Append(def, stack.RootBranch); err != nil {
		return err
	}

	fmt.Printf("%s task %s on agent %s\n", bold("hugin:"), green(flags.task), agents[0])
	if err := driveToRest(ctx, sess, flags.maxHeartbeats); err != nil {
		return err
	}

	if flags.stateDir != "" {
		if err := saveSnapshots(sess, flags.stateDir, logger); err != nil {
			return err
		}
		fmt.Printf("%s\n", gray("snapshots saved to "+flags.stateDir))
	}
	printSummary(sess)
	return nil
}

// driveToRest alternates driving, answering human asks, and heartbeats
// until every branch is complete, parked on an unanswerable suspension, or
// the heartbeat budget runs out.
func driveToRest(ctx context.Context, sess *session.Session, maxHeartbeats int) error {
	heartbeats := 0
	for {
		if _, err := sess.Drive(ctx); err != nil {
			return err
		}
		if answered, err := answerHumanAsks(sess); err != nil {
			return err
		} else if answered {
			continue
		}
		if !anyWaiting(sess) || heartbeats >= maxHeartbeats {
			return nil
		}
		resumed, err := sess.Heartbeat(ctx)
		if err != nil {
			return err
		}
		heartbeats++
		if resumed == 0 && heartbeats >= maxHeartbeats {
			return nil
		}
	}
}

// answerHumanAsks prompts on every branch suspended at an AskHuman and
// appends the responses.
func answerHumanAsks(sess *session.Session) (bool, error) {
	answered := false
	for _, name := range sess.Agents() {
		e, ok := sess.Engine(name)
		if !ok {
			continue
		}
		for _, summary := range e.Stack().CompareBranches() {
			if !summary.Suspended || summary.LastKind != interaction.KindAskHuman {
				continue
			}
			last, ok := e.Stack().Last(summary.Name)
			if !ok {
				continue
			}
			ask := last.Payload().(*interaction.AskHuman)

			prompt := promptui.Prompt{
				Label: fmt.Sprintf("%s/%s %s", name, summary.Name, ask.Question),
			}
			answer, err := prompt.Run()
			if err != nil {
				return answered, fmt.Errorf("human response aborted: %w", err)
			}
			resp := interaction.New(&interaction.HumanResponse{Response: answer})
			if err := e.Stack().Append(resp, summary.Name); err != nil {
				return answered, err
			}
			answered = true
		}
	}
	return answered, nil
}

func anyWaiting(sess *session.Session) bool {
	for _, name := range sess.Agents() {
		e, ok := sess.Engine(name)
		if !ok {
			continue
		}
		for _, summary := range e.Stack().CompareBranches() {
			if summary.Suspended && summary.LastKind == interaction.KindWaiting {
				return true
			}
		}
	}
	return false
}

func saveSnapshots(sess *session.Session, dir string, logger logging.Logger) error {
	store, err := filestore.New(dir, logger)
	if err != nil {
		return err
	}
	for _, snap := range sess.Snapshots() {
		if err := store.Save(snap); err != nil {
			return err
		}
	}
	return nil
}

func printSummary(sess *session.Session) {
	for _, name := range sess.Agents() {
		e, ok := sess.Engine(name)
		if !ok {
			continue
		}
		fmt.Printf("%s\n", bold("agent "+name))
		for _, summary := range e.Stack().CompareBranches() {
			status := gray("idle")
			switch {
			case summary.Complete && summary.Result != nil:
				status = green(fmt.Sprintf("complete %v", summary.Result))
			case summary.Complete:
				status = green("complete")
			case summary.Suspended:
				status = yellow("suspended at " + string(summary.LastKind))
			}
			fmt.Printf("  %-32s %3d steps  %s\n", summary.Name, summary.Stepped, status)
		}
	}
}

func parseInputs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	inputs := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input %q, want key=value", pair)
		}
		inputs[key] = value
	}
	return inputs, nil
}

func loadScriptedOracle(path string) (*oracle.Scripted, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var decisions []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		decisions = append(decisions, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(decisions) == 0 {
		return nil, fmt.Errorf("no decisions in %s", path)
	}
	return oracle.NewScripted(decisions...), nil
}
