// Penny drives workflow tasks through their phase graphs.
//
// Usage:
//
//	# Check workflow definitions
//	penny validate ~/.config/penny/workflows
//
//	# Run a task until it completes or needs input
//	penny start analysis --task t-42 --meta repo=api
//
//	# Answer an escalation and continue
//	penny answer t-42 --answer action=retry --answer guidance="narrow the scope"
//
//	# Serve the HTTP API, the answer inbox and event publication
//	penny serve
//
//	# Serve MCP tools over stdio
//	penny mcp
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/skribblez2718/penny-sub000/internal/engine"
	"github.com/skribblez2718/penny-sub000/internal/monitor"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd(appOptions{}).Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. base carries settings that have no
// flag, such as a test worker.
func newRootCmd(base appOptions) *cobra.Command {
	opts := &base

	root := &cobra.Command{
		Use:   "penny",
		Short: "Workflow phase execution engine",
		Long: `penny runs tasks through declared workflow phase graphs. Each phase calls an
external worker, the result is checked for impasses, and remediation either
continues, retries, routes to a helper phase or escalates with questions.

Configuration is read from ~/.config/penny/config.yaml and PENNY_* environment
variables. Flags override both.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "config file (default ~/.config/penny/config.yaml)")
	pf.StringVar(&opts.workflowsDir, "workflows", "", "workflow definitions directory")
	pf.StringVar(&opts.storeBackend, "store", "", "store backend: memory, file or sqlite")
	pf.StringVar(&opts.storePath, "store-path", "", "store directory")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newVersionCmd(),
		newValidateCmd(),
		newWorkflowsCmd(opts),
		newStartCmd(opts),
		newResumeCmd(opts),
		newAnswerCmd(opts),
		newAbortCmd(opts),
		newStatusCmd(opts),
		newListCmd(opts),
		newServeCmd(opts),
		newMCPCmd(opts),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "penny\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}

// withApp wires an app for the duration of fn.
func withApp(cmd *cobra.Command, opts *appOptions, fn func(context.Context, *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, *opts)
	if err != nil {
		return err
	}
	defer func() {
		_ = a.Close() // Best-effort cleanup
	}()
	return fn(ctx, a)
}

// printOutcome writes out as JSON or as a rendered view. The outcome is
// printed even when err is set so the caller sees the task state.
func printOutcome(w io.Writer, asJSON bool, out *engine.Outcome, err error) error {
	if out != nil {
		if asJSON {
			if encErr := writeJSON(w, out); encErr != nil {
				return encErr
			}
		} else {
			fmt.Fprint(w, monitor.RenderTask(out, time.Now()))
		}
	}
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parsePairs parses key=value flags.
func parsePairs(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", p)
		}
		out[k] = v
	}
	return out, nil
}
