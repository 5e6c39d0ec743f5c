package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/skribblez2718/penny-sub000/internal/config"
	"github.com/skribblez2718/penny-sub000/internal/engine"
	"github.com/skribblez2718/penny-sub000/internal/inbox"
	"github.com/skribblez2718/penny-sub000/internal/monitor"
	"github.com/skribblez2718/penny-sub000/internal/taskstate"
)

func newWorkflowsCmd(opts *appOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "workflows",
		Short: "List registered workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(_ context.Context, a *app) error {
				ids := a.engine.Workflows()
				if len(ids) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no workflows registered")
					return nil
				}
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			})
		},
	}
}

func newStartCmd(opts *appOptions) *cobra.Command {
	var (
		taskID string
		meta   []string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "start <workflow>",
		Short: "Start a task and run it until it completes or needs input",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			metadata, err := parsePairs(meta)
			if err != nil {
				return err
			}
			if taskID == "" {
				taskID = fmt.Sprintf("%s-%d", args[0], time.Now().UnixNano())
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				out, err := a.engine.Start(ctx, args[0], taskID, metadata)
				return printOutcome(cmd.OutOrStdout(), asJSON, out, err)
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task ID (default <workflow>-<timestamp>)")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "task metadata as key=value (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the outcome as JSON")
	return cmd
}

func newResumeCmd(opts *appOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "resume <task>",
		Short: "Continue a persisted task from its current phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				out, err := a.engine.Resume(ctx, args[0])
				return printOutcome(cmd.OutOrStdout(), asJSON, out, err)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the outcome as JSON")
	return cmd
}

func newAnswerCmd(opts *appOptions) *cobra.Command {
	var (
		pairs   []string
		viaDrop bool
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "answer <task>",
		Short: "Answer a pending escalation",
		Long: `Answer the questions of a task waiting for external input.

Answers are given as question=value pairs. The action question accepts
retry, continue or abort; guidance and choice take free text.

With --inbox the answers are written to the inbox directory for a running
"penny serve" to apply, instead of being applied directly.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			answers, err := parsePairs(pairs)
			if err != nil {
				return err
			}
			if len(answers) == 0 {
				return errors.New("at least one --answer is required")
			}

			if viaDrop {
				cfg, err := config.LoadWithFile(opts.configPath)
				if err != nil {
					return fmt.Errorf("failed to load configuration: %w", err)
				}
				dir, err := config.ExpandPath(cfg.Inbox.Dir)
				if err != nil {
					return err
				}
				path, err := inbox.Drop(dir, args[0], answers)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "answers queued at %s\n", path)
				return nil
			}

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				out, err := a.engine.Answer(ctx, args[0], answers)
				return printOutcome(cmd.OutOrStdout(), asJSON, out, err)
			})
		},
	}
	cmd.Flags().StringArrayVar(&pairs, "answer", nil, "answer as question=value (repeatable)")
	cmd.Flags().BoolVar(&viaDrop, "inbox", false, "queue the answers in the inbox directory")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the outcome as JSON")
	return cmd
}

func newAbortCmd(opts *appOptions) *cobra.Command {
	var (
		reason string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "abort <task>",
		Short: "Abort a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				out, err := a.engine.Abort(ctx, args[0], reason)
				return printOutcome(cmd.OutOrStdout(), asJSON, out, err)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "aborted by operator", "reason recorded on the task")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the outcome as JSON")
	return cmd
}

func newStatusCmd(opts *appOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status <task>",
		Short: "Show a task's persisted state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				out, err := a.engine.Status(ctx, args[0])
				return printOutcome(cmd.OutOrStdout(), asJSON, out, err)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the state as JSON")
	return cmd
}

func newListCmd(opts *appOptions) *cobra.Command {
	var (
		status string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				tasks, err := a.engine.List(ctx)
				if err != nil {
					return err
				}
				if status != "" {
					tasks = filterStatus(tasks, taskstate.Status(status))
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), tasks)
				}
				fmt.Fprint(cmd.OutOrStdout(), monitor.RenderTaskList(tasks, time.Now()))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only list tasks with this status")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the tasks as JSON")
	return cmd
}

func filterStatus(tasks []*taskstate.TaskInstance, s taskstate.Status) []*taskstate.TaskInstance {
	out := make([]*taskstate.TaskInstance, 0, len(tasks))
	for _, t := range tasks {
		if t.Status == s {
			out = append(out, t)
		}
	}
	return out
}

var _ inbox.Answerer = (*engine.Engine)(nil)
